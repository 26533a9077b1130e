// Package content adapts audited units of archived content to the incremental
// hashing contract votes are computed against.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
)

//go:generate mockgen -package mocks -destination mocks/content.go . Unit,Hasher

// Unit is an audited unit: an identified, ordered byte stream.
type Unit interface {
	ID() string
	Size() int64
	// NewHasher returns a hasher feeding the unit's bytes, in order, into h.
	NewHasher(h hash.Hash) (Hasher, error)
}

// Hasher feeds content into a digest a bounded number of bytes at a time.
type Hasher interface {
	// HashStep hashes at most maxBytes further bytes and returns how many were hashed.
	HashStep(maxBytes int) (int, error)
	// Finished reports whether every byte of the unit has been hashed.
	Finished() bool
	// Digest returns a snapshot of the digest without resetting it.
	Digest() []byte
	io.Closer
}

// streamUnit is a unit whose bytes come from a reader of known size.
type streamUnit struct {
	id   string
	size int64
	open func() (io.ReadCloser, error)
}

// NewStreamUnit returns a unit of size bytes read from a fresh reader
// obtained from open for every hasher.
func NewStreamUnit(id string, size int64, open func() (io.ReadCloser, error)) Unit {
	return &streamUnit{id: id, size: size, open: open}
}

// NewBytesUnit returns a unit over an in-memory buffer.
func NewBytesUnit(id string, data []byte) Unit {
	return NewStreamUnit(id, int64(len(data)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// NewFileUnit returns a unit over the current contents of a file.
func NewFileUnit(id, path string) (Unit, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return NewStreamUnit(id, info.Size(), func() (io.ReadCloser, error) {
		return os.Open(path)
	}), nil
}

func (u *streamUnit) ID() string {
	return u.id
}

func (u *streamUnit) Size() int64 {
	return u.size
}

func (u *streamUnit) NewHasher(h hash.Hash) (Hasher, error) {
	r, err := u.open()
	if err != nil {
		return nil, fmt.Errorf("opening unit %s: %w", u.id, err)
	}
	return &streamHasher{r: r, h: h, remaining: u.size}, nil
}

const readBufferSize = 32 << 10

type streamHasher struct {
	r         io.ReadCloser
	h         hash.Hash
	remaining int64
	buf       []byte
}

func (s *streamHasher) HashStep(maxBytes int) (int, error) {
	if maxBytes <= 0 || s.remaining == 0 {
		return 0, nil
	}
	want := int64(maxBytes)
	if want > s.remaining {
		want = s.remaining
	}
	if want > readBufferSize {
		want = readBufferSize
	}
	if s.buf == nil {
		s.buf = make([]byte, readBufferSize)
	}
	n, err := io.ReadFull(s.r, s.buf[:want])
	s.h.Write(s.buf[:n])
	s.remaining -= int64(n)
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return n, fmt.Errorf("reading content: %w", err)
	}
	return n, nil
}

func (s *streamHasher) Finished() bool {
	return s.remaining == 0
}

func (s *streamHasher) Digest() []byte {
	return s.h.Sum(nil)
}

func (s *streamHasher) Close() error {
	return s.r.Close()
}
