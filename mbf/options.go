package mbf

import (
	"errors"
	"hash"
	"io"

	"go.uber.org/zap"

	"github.com/spacemeshos/mbf/shared"
)

type option struct {
	digest    string
	newDigest func() hash.Hash
	random    io.Reader
	logger    *zap.Logger
}

type OptionFunc func(*option) error

// WithDigest selects the digest algorithm all engines of a factory use.
func WithDigest(name string) OptionFunc {
	return func(o *option) error {
		newDigest, err := shared.DigestFactory(name)
		if err != nil {
			return err
		}
		o.digest = name
		o.newDigest = newDigest
		return nil
	}
}

// WithRandom sets the source MBF1 generators draw path starts from.
// It defaults to crypto/rand and must be safe for use by every engine the
// factory creates.
func WithRandom(r io.Reader) OptionFunc {
	return func(o *option) error {
		if r == nil {
			return errors.New("random source is nil")
		}
		o.random = r
		return nil
	}
}

func WithLogger(logger *zap.Logger) OptionFunc {
	return func(o *option) error {
		o.logger = logger
		return nil
	}
}
