package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/spacemeshos/mbf/mbf"
	"github.com/spacemeshos/mbf/shared"
)

const (
	defaultEffort   = 1 << 10
	defaultPathLen  = 1 << 12
	defaultFlatSize = 64 << 20
	defaultRuns     = 8
	defaultCPU      = false
)

// config defines the configuration options for bench.
//
//nolint:lll
type config struct {
	Variant  mbf.Variant `short:"v" long:"variant"   description:"proof variant to benchmark (MBF1, MBF2 or MOCK)"`
	Digest   string      `short:"d" long:"digest"    description:"digest algorithm (SHA1, SHA256 or BLAKE3)"`
	Effort   uint64      `short:"e" long:"effort"    description:"effort parameter"`
	PathLen  uint64      `short:"l" long:"path-len"  description:"path length of every trial"`
	FlatSize uint64      `short:"s" long:"flat-size" description:"size of the random MBF1 basis in bytes"`
	Runs     int         `short:"n" long:"runs"      description:"number of proofs to generate and verify"`
	All      bool        `short:"a" long:"all"       description:"benchmark every variant instead of --variant"`
	CPU      bool        `short:"c" long:"cpu"       description:"whether to enable CPU profiling"`
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, error) {
	// Default config.
	cfg := config{
		Variant:  mbf.MBF2,
		Digest:   shared.DefaultDigest,
		Effort:   defaultEffort,
		PathLen:  defaultPathLen,
		FlatSize: defaultFlatSize,
		Runs:     defaultRuns,
		CPU:      defaultCPU,
	}

	// Parse command line options.
	if _, err := flags.Parse(&cfg); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		return nil, err
	}

	return &cfg, nil
}
