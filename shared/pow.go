package shared

import (
	"math/bits"
)

// LowestSetBit returns the index of the lowest set bit of data interpreted as a
// big-endian unsigned integer. An all-zero input yields 8*len(data).
func LowestSetBit(data []byte) int {
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] != 0 {
			return (len(data)-1-i)*8 + bits.TrailingZeros8(data[i])
		}
	}
	return len(data) * 8
}

// ModBytes returns data, interpreted as a big-endian unsigned integer, modulo m.
// m must be non-zero and smaller than 2^56.
func ModBytes(data []byte, m uint64) uint64 {
	var r uint64
	for _, b := range data {
		r = (r<<8 | uint64(b)) % m
	}
	return r
}

// CeilLog2 returns ceil(log2(v)), with CeilLog2(0) == CeilLog2(1) == 0.
func CeilLog2(v uint64) int {
	if v <= 1 {
		return 0
	}
	return bits.Len64(v - 1)
}

// ExceedsEffort reports whether 2^b > effort.
func ExceedsEffort(b int, effort uint64) bool {
	return b >= bits.Len64(effort)
}
