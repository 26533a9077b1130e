package basis

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Config locates the basis file.
type Config struct {
	File     string `long:"basis-file"      description:"Path of the file the proof basis buffers are read from"`
	FlatSize uint64 `long:"basis-flat-size" description:"Size in bytes of the single-offset (MBF1) basis buffer"`
}

func DefaultConfig() Config {
	return Config{
		FlatSize: DefaultFlatSize,
	}
}

// Store lazily loads the basis buffers on first use and hands out the same
// immutable handles afterwards.
type Store struct {
	cfg    Config
	logger *zap.Logger

	flatOnce sync.Once
	flat     *Flat
	flatErr  error

	tableOnce sync.Once
	table     *Table
	tableErr  error
}

func NewStore(cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{cfg: cfg, logger: logger}
}

// Preloaded returns a store serving the given buffers. Either may be nil,
// in which case requesting it fails with ErrNoBasisConfigured.
func Preloaded(flat *Flat, table *Table) *Store {
	s := &Store{logger: zap.NewNop()}
	s.flatOnce.Do(func() {
		s.flat = flat
		if flat == nil {
			s.flatErr = ErrNoBasisConfigured
		}
	})
	s.tableOnce.Do(func() {
		s.table = table
		if table == nil {
			s.tableErr = ErrNoBasisConfigured
		}
	})
	return s
}

// Flat returns the Variant A buffer, reading it from the configured file on the first call.
func (s *Store) Flat() (*Flat, error) {
	s.flatOnce.Do(func() {
		s.flat, s.flatErr = s.loadFlat()
	})
	return s.flat, s.flatErr
}

// Table returns the Variant B buffers, reading them from the configured file on the first call.
func (s *Store) Table() (*Table, error) {
	s.tableOnce.Do(func() {
		s.table, s.tableErr = s.loadTable()
	})
	return s.table, s.tableErr
}

func (s *Store) loadFlat() (*Flat, error) {
	if s.cfg.File == "" {
		return nil, ErrNoBasisConfigured
	}
	size := s.cfg.FlatSize
	if size == 0 {
		size = DefaultFlatSize
	}
	if size > MaxFlatSize {
		return nil, fmt.Errorf("%w: flat basis size %d exceeds %d", ErrConfiguration, size, uint64(MaxFlatSize))
	}
	data, err := readPrefix(s.cfg.File, int64(size))
	if err != nil {
		return nil, err
	}
	s.logger.Info("loaded flat basis", zap.String("file", s.cfg.File), zap.Uint64("size", size))
	return NewFlat(data)
}

func (s *Store) loadTable() (*Table, error) {
	if s.cfg.File == "" {
		return nil, ErrNoBasisConfigured
	}
	data, err := readPrefix(s.cfg.File, SeedSize+TableSize)
	if err != nil {
		return nil, err
	}
	s.logger.Info("loaded table basis", zap.String("file", s.cfg.File))
	return NewTable(data[:SeedSize], data[SeedSize:])
}

func readPrefix(path string, size int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	defer f.Close()

	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, fmt.Errorf("%w: reading %d bytes from %s: %v", ErrConfiguration, size, path, err)
	}
	return data, nil
}
