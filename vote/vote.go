package vote

import (
	"bytes"
	"fmt"

	"github.com/spacemeshos/go-scale"
	"golang.org/x/exp/slices"

	"github.com/spacemeshos/mbf/mbf"
)

const (
	MaxNonceSize  = 256
	MaxBlocks     = 64
	MaxProofLen   = 1 << 20
	MaxHashSize   = 64
	maxTotalProof = 1 << 22
)

// Block pairs the proof computed before hashing a block with the content hash
// of that block.
type Block struct {
	Proof mbf.Proof
	Hash  []byte
}

// Vote binds a chain of per-block proofs and content hashes to the nonce and
// effort of a challenge. Blocks are ordered: each block's challenge is
// derived from the previous block.
type Vote struct {
	Nonce  []byte
	Effort uint64
	Blocks []Block
}

// Clone returns a deep copy of v.
func (v *Vote) Clone() *Vote {
	c := &Vote{
		Nonce:  slices.Clone(v.Nonce),
		Effort: v.Effort,
		Blocks: make([]Block, len(v.Blocks)),
	}
	for i, b := range v.Blocks {
		c.Blocks[i] = Block{Proof: slices.Clone(b.Proof), Hash: slices.Clone(b.Hash)}
	}
	return c
}

// Encode returns the SCALE encoding of v.
func Encode(v *Vote) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := v.EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("encoding vote: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a SCALE encoded vote.
func Decode(data []byte) (*Vote, error) {
	v := &Vote{}
	if _, err := v.DecodeScale(scale.NewDecoder(bytes.NewReader(data))); err != nil {
		return nil, fmt.Errorf("decoding vote: %w", err)
	}
	return v, nil
}

// EncodeScale is implemented by hand to bound every slice.
func (v *Vote) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, v.Nonce, MaxNonceSize)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, v.Effort)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeLen(enc, uint32(len(v.Blocks)), MaxBlocks)
		if err != nil {
			return total, fmt.Errorf("EncodeLen failed: %w", err)
		}
		total += n
		for i := range v.Blocks {
			n, err := v.Blocks[i].EncodeScale(enc)
			if err != nil {
				return total, fmt.Errorf("block %d: %w", i, err)
			}
			total += n
		}
	}
	return total, nil
}

func (v *Vote) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeByteSliceWithLimit(dec, MaxNonceSize)
		if err != nil {
			return total, err
		}
		total += n
		v.Nonce = field
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		v.Effort = field
	}
	{
		length, n, err := scale.DecodeLen(dec, MaxBlocks)
		if err != nil {
			return total, fmt.Errorf("DecodeLen failed: %w", err)
		}
		total += n
		v.Blocks = nil
		proofs := 0
		for i := uint32(0); i < length; i++ {
			var b Block
			n, err := b.DecodeScale(dec)
			if err != nil {
				return total, fmt.Errorf("block %d: %w", i, err)
			}
			total += n
			proofs += len(b.Proof)
			if proofs > maxTotalProof {
				return total, fmt.Errorf("vote proofs exceed %d elements", maxTotalProof)
			}
			v.Blocks = append(v.Blocks, b)
		}
	}
	return total, nil
}

func (b *Block) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeLen(enc, uint32(len(b.Proof)), MaxProofLen)
		if err != nil {
			return total, fmt.Errorf("EncodeLen failed: %w", err)
		}
		total += n
		for _, k := range b.Proof {
			n, err := scale.EncodeCompact64(enc, k)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, b.Hash, MaxHashSize)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (b *Block) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		length, n, err := scale.DecodeLen(dec, MaxProofLen)
		if err != nil {
			return total, fmt.Errorf("DecodeLen failed: %w", err)
		}
		total += n
		if length > 0 {
			b.Proof = make(mbf.Proof, 0, length)
		}
		for i := uint32(0); i < length; i++ {
			k, n, err := scale.DecodeCompact64(dec)
			if err != nil {
				return total, err
			}
			total += n
			b.Proof = append(b.Proof, k)
		}
	}
	{
		field, n, err := scale.DecodeByteSliceWithLimit(dec, MaxHashSize)
		if err != nil {
			return total, err
		}
		total += n
		b.Hash = field
	}
	return total, nil
}
