package mbf

import (
	"crypto/rand"
	"fmt"
	"hash"
	"io"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/spacemeshos/mbf/basis"
	"github.com/spacemeshos/mbf/shared"
)

// Factory builds engines for a named variant over a shared basis store.
type Factory struct {
	store     *basis.Store
	digest    string
	newDigest func() hash.Hash
	random    io.Reader
	logger    *zap.Logger
}

func NewFactory(store *basis.Store, opts ...OptionFunc) (*Factory, error) {
	options := &option{
		random: rand.Reader,
		logger: zap.NewNop(),
	}
	if err := WithDigest(shared.DefaultDigest)(options); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}
	return &Factory{
		store:     store,
		digest:    options.digest,
		newDigest: options.newDigest,
		random:    options.random,
		logger:    options.logger,
	}, nil
}

// NewDigest returns a fresh instance of the factory's digest algorithm.
func (f *Factory) NewDigest() hash.Hash {
	return f.newDigest()
}

// Digest names the factory's digest algorithm.
func (f *Factory) Digest() string {
	return f.digest
}

// MakeGenerator is NewGenerator with the variant given by name.
func (f *Factory) MakeGenerator(name string, nonce []byte, effort, pathLen uint64) (Engine, error) {
	v, err := ParseVariant(name)
	if err != nil {
		return nil, err
	}
	return f.NewGenerator(v, nonce, effort, pathLen)
}

// MakeVerifier is NewVerifier with the variant given by name.
func (f *Factory) MakeVerifier(name string, nonce []byte, effort, pathLen uint64, proof Proof, maxSteps uint64) (Engine, error) {
	v, err := ParseVariant(name)
	if err != nil {
		return nil, err
	}
	return f.NewVerifier(v, nonce, effort, pathLen, proof, maxSteps)
}

// NewGenerator returns an engine searching for a proof.
func (f *Factory) NewGenerator(v Variant, nonce []byte, effort, pathLen uint64) (Engine, error) {
	if pathLen == 0 {
		return nil, fmt.Errorf("%w: path length must be positive", ErrInvalidParams)
	}
	nonce = slices.Clone(nonce)
	logger := f.logger.With(zap.Stringer("variant", v), zap.Uint64("effort", effort), zap.Uint64("path_len", pathLen))

	switch v {
	case MBF1:
		flat, err := f.store.Flat()
		if err != nil {
			return nil, err
		}
		return newWalkEngine(flat, f.newDigest(), nonce, effort, pathLen, f.random, logger), nil
	case MBF2:
		table, err := f.store.Table()
		if err != nil {
			return nil, err
		}
		return newPermuteEngine(table, f.newDigest(), nonce, effort, pathLen, Generating, logger), nil
	case Mock:
		return &mockEngine{common: common{variant: Mock, mode: Generating}, effort: effort}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownVariant, v)
	}
}

// NewVerifier returns an engine replaying proof. For MBF2 a positive maxSteps
// bounds the number of trials the candidate may ask to replay.
//
// A candidate whose shape can never verify yields an engine that is already
// finished with an invalid result.
func (f *Factory) NewVerifier(v Variant, nonce []byte, effort, pathLen uint64, proof Proof, maxSteps uint64) (Engine, error) {
	if pathLen == 0 {
		return nil, fmt.Errorf("%w: path length must be positive", ErrInvalidParams)
	}
	nonce = slices.Clone(nonce)
	proof = slices.Clone(proof)
	logger := f.logger.With(zap.Stringer("variant", v), zap.Uint64("effort", effort), zap.Uint64("path_len", pathLen))

	switch v {
	case MBF1:
		flat, err := f.store.Flat()
		if err != nil {
			return nil, err
		}
		return newWalkVerifier(flat, f.newDigest(), nonce, effort, pathLen, proof, logger), nil
	case MBF2:
		table, err := f.store.Table()
		if err != nil {
			return nil, err
		}
		return newPermuteVerifier(table, f.newDigest(), nonce, effort, pathLen, proof, maxSteps, logger), nil
	case Mock:
		return &mockEngine{common: common{variant: Mock, mode: Verifying}, effort: effort, candidate: proof}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownVariant, v)
	}
}
