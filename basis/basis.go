// Package basis holds the large read-only buffers memory-bound proofs walk through.
//
// Buffers are loaded from a file at most once per Store and never mutated
// afterwards, so any number of engines may read them concurrently.
package basis

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// SeedSize is the size of the Variant B seed buffer.
	SeedSize = 1 << 10
	// TableSize is the size of the Variant B table buffer.
	TableSize = 16 << 20

	// SeedWords and TableWords are the sizes in 32-bit words.
	SeedWords  = SeedSize / 4
	TableWords = TableSize / 4

	// DefaultFlatSize is the Variant A buffer size used when none is configured.
	DefaultFlatSize = 64 << 20

	// MaxFlatSize bounds Variant A buffers so offsets can be reduced without big integers.
	MaxFlatSize = 1 << 40
)

var (
	// ErrConfiguration is returned when the basis file is missing, unreadable or too short.
	ErrConfiguration = errors.New("basis configuration error")
	// ErrNoBasisConfigured is returned when a buffer is requested from a store that has none.
	ErrNoBasisConfigured = errors.New("no basis configured")
)

// Flat is the single buffer walked by Variant A.
type Flat struct {
	data []byte
}

// NewFlat wraps data. The caller must not modify data afterwards.
func NewFlat(data []byte) (*Flat, error) {
	if len(data) == 0 || uint64(len(data)) > MaxFlatSize {
		return nil, fmt.Errorf("%w: flat basis size %d out of range", ErrConfiguration, len(data))
	}
	return &Flat{data: data}, nil
}

func (f *Flat) Len() uint64 {
	return uint64(len(f.data))
}

func (f *Flat) At(offset uint64) byte {
	return f.data[offset]
}

// Table is the pair of buffers walked by Variant B: a 1 KiB seed and a 16 MiB
// table, both viewed as little-endian 32-bit words.
type Table struct {
	seed  []byte
	words []uint32
}

// NewTable copies seed and table into an immutable Table.
func NewTable(seed, table []byte) (*Table, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrConfiguration, SeedSize, len(seed))
	}
	if len(table) != TableSize {
		return nil, fmt.Errorf("%w: table must be %d bytes, got %d", ErrConfiguration, TableSize, len(table))
	}
	t := &Table{
		seed:  append([]byte(nil), seed...),
		words: make([]uint32, TableWords),
	}
	for i := range t.words {
		t.words[i] = binary.LittleEndian.Uint32(table[i*4:])
	}
	return t, nil
}

// Seed returns the seed buffer. Callers must treat it as read-only.
func (t *Table) Seed() []byte {
	return t.seed
}

// Word returns the table word at the given word index.
func (t *Table) Word(i uint32) uint32 {
	return t.words[i]
}
