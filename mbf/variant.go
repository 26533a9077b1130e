package mbf

import (
	"fmt"
	"strings"
)

// Variant selects a proof algorithm.
type Variant uint8

const (
	// MBF1 walks a single path from a random offset of a flat basis.
	MBF1 Variant = iota + 1
	// MBF2 runs keyed-permutation trials over a seed and a 16 MiB table.
	MBF2
	// Mock does no work and is only meant for tests.
	Mock
)

var variantNames = map[Variant]string{
	MBF1: "MBF1",
	MBF2: "MBF2",
	Mock: "MOCK",
}

// ParseVariant resolves a case-insensitive variant name.
func ParseVariant(name string) (Variant, error) {
	for v, n := range variantNames {
		if strings.EqualFold(n, name) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
}

func (v Variant) String() string {
	if n, ok := variantNames[v]; ok {
		return n
	}
	return fmt.Sprintf("Variant(%d)", uint8(v))
}

// UnmarshalFlag implements flags.Unmarshaler.
func (v *Variant) UnmarshalFlag(value string) error {
	parsed, err := ParseVariant(value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalFlag implements flags.Marshaler.
func (v Variant) MarshalFlag() (string, error) {
	return v.String(), nil
}
