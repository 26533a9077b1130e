package shared_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/mbf/shared"
)

func TestLowestSetBit(t *testing.T) {
	r := require.New(t)

	r.Equal(0, shared.LowestSetBit([]byte{0x01}))
	r.Equal(3, shared.LowestSetBit([]byte{0x08}))
	r.Equal(8, shared.LowestSetBit([]byte{0x01, 0x00}))
	r.Equal(12, shared.LowestSetBit([]byte{0xF0, 0x10, 0x00}))

	// All zero
	r.Equal(0, shared.LowestSetBit(nil))
	r.Equal(16, shared.LowestSetBit([]byte{0x00, 0x00}))
}

func TestLowestSetBitMatchesBigInt(t *testing.T) {
	data := []byte{0x9c, 0x41, 0x00, 0x80, 0x00, 0x00}
	v := new(big.Int).SetBytes(data)
	require.EqualValues(t, v.TrailingZeroBits(), shared.LowestSetBit(data))
}

func TestModBytes(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}
	for _, m := range []uint64{1, 2, 7, 255, 65536, 1 << 20, 1<<40 + 3} {
		expected := new(big.Int).Mod(new(big.Int).SetBytes(data), new(big.Int).SetUint64(m))
		require.Equal(t, expected.Uint64(), shared.ModBytes(data, m), "m=%d", m)
	}
}

func TestCeilLog2(t *testing.T) {
	r := require.New(t)
	r.Equal(0, shared.CeilLog2(0))
	r.Equal(0, shared.CeilLog2(1))
	r.Equal(1, shared.CeilLog2(2))
	r.Equal(2, shared.CeilLog2(3))
	r.Equal(2, shared.CeilLog2(4))
	r.Equal(3, shared.CeilLog2(5))
	r.Equal(10, shared.CeilLog2(1024))
	r.Equal(11, shared.CeilLog2(1025))
}

func TestExceedsEffort(t *testing.T) {
	for effort := uint64(0); effort < 70; effort++ {
		for b := 0; b < 8; b++ {
			expected := uint64(1)<<b > effort
			require.Equal(t, expected, shared.ExceedsEffort(b, effort), "b=%d effort=%d", b, effort)
		}
	}
}
