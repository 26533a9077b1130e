package shared

import (
	"encoding/binary"
)

// ProofElementSize is the size of a single flattened proof element.
const ProofElementSize = 8

// FlattenProof appends the big-endian encoding of every element of proof to buf.
func FlattenProof(buf []byte, proof []uint64) []byte {
	var b [ProofElementSize]byte
	for _, v := range proof {
		binary.BigEndian.PutUint64(b[:], v)
		buf = append(buf, b[:]...)
	}
	return buf
}
