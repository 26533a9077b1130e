package verifier

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/minio/sha256-simd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spacemeshos/go-scale"
	"go.uber.org/zap"

	"github.com/spacemeshos/mbf/content"
	"github.com/spacemeshos/mbf/logging"
	"github.com/spacemeshos/mbf/mbf"
	"github.com/spacemeshos/mbf/scheduler"
	"github.com/spacemeshos/mbf/vote"
)

var ErrInvalidVote = errors.New("vote is invalid")

// fingerprintChunk is the number of content bytes hashed between context checks.
const fingerprintChunk = 1 << 20

var verifiedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "verifier_votes_total",
	Help: "Number of votes verified",
}, []string{"valid"})

//go:generate mockgen -package mocks -destination mocks/verifier.go . Verifier

// Verifier checks a candidate vote against the audited unit it claims to cover
// and the challenge (nonce, effort) the caller issued.
// It returns nil for a valid vote and an error wrapping ErrInvalidVote for an
// invalid one. Any other error means verification could not complete.
type Verifier interface {
	Verify(ctx context.Context, unit content.Unit, nonce []byte, effort uint64, v *vote.Vote) error
}

type verifier struct {
	factory *mbf.Factory
	cfg     vote.Config
}

func New(factory *mbf.Factory, cfg vote.Config) Verifier {
	return &verifier{factory: factory, cfg: cfg}
}

func (v *verifier) Verify(ctx context.Context, unit content.Unit, nonce []byte, effort uint64, candidate *vote.Vote) error {
	logger := logging.FromContext(ctx)
	computation := vote.NewVerification(v.factory, unit, nonce, effort, candidate, v.cfg, logger)
	defer computation.Close()

	if err := scheduler.Drive(ctx, computation, v.cfg.Quantum); err != nil {
		return fmt.Errorf("verifying vote for %s: %w", unit.ID(), err)
	}
	logger = logger.With(zap.String("au_id", unit.ID()))
	if !computation.Valid() {
		verifiedCounter.WithLabelValues("false").Inc()
		logger.Info("vote rejected", zap.Int("block", computation.FailedBlock()), zap.Error(computation.Reason()))
		return fmt.Errorf("%w: %v", ErrInvalidVote, computation.Reason())
	}
	verifiedCounter.WithLabelValues("true").Inc()
	logger.Debug("vote accepted", zap.Int("blocks", len(candidate.Blocks)))
	return nil
}

// caching implements caching layer on top of its Verifier.
// Only final outcomes (valid or ErrInvalidVote) are cached.
//
// Entries are keyed by everything the outcome depends on: the verification
// settings, the unit identifier, the issued challenge, the encoded vote and a
// fingerprint of the unit's current content. The content is read on every
// call, so a hit only saves the proof replay.
type caching struct {
	cache    *lru.Cache
	verifier Verifier
	variant  mbf.Variant
	digest   string
	cfg      vote.Config
}

func (a *caching) Verify(ctx context.Context, unit content.Unit, nonce []byte, effort uint64, v *vote.Vote) error {
	encoded, err := vote.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVote, err)
	}
	fingerprint, err := contentFingerprint(ctx, unit)
	if err != nil {
		return fmt.Errorf("fingerprinting unit %s: %w", unit.ID(), err)
	}
	key, err := a.key(unit.ID(), nonce, effort, encoded, fingerprint)
	if err != nil {
		return err
	}

	logger := logging.FromContext(ctx).With(zap.Binary("vote", key[:]))
	if result, ok := a.cache.Get(key); ok {
		logger.Debug("retrieved vote verification result from the cache")
		// SAFETY: type assertion will never panic as we insert only `*cachedResult` values.
		return result.(*cachedResult).err
	}

	err = a.verifier.Verify(ctx, unit, nonce, effort, v)
	if err == nil || errors.Is(err, ErrInvalidVote) {
		a.cache.Add(key, &cachedResult{err: err})
	}
	return err
}

// key hashes the length-prefixed SCALE encoding of every input of a verification outcome.
func (a *caching) key(unitID string, nonce []byte, effort uint64, encoded, fingerprint []byte) ([sha256.Size]byte, error) {
	var key [sha256.Size]byte
	hasher := sha256.New()
	enc := scale.NewEncoder(hasher)
	for _, field := range [][]byte{[]byte(a.digest), []byte(unitID), nonce, encoded, fingerprint} {
		if _, err := scale.EncodeByteSlice(enc, field); err != nil {
			return key, err
		}
	}
	for _, field := range []uint64{uint64(a.variant), effort, a.cfg.MaxSteps, a.cfg.MaxTrials} {
		if _, err := scale.EncodeCompact64(enc, field); err != nil {
			return key, err
		}
	}
	hasher.Sum(key[:0])
	return key, nil
}

// contentFingerprint hashes the unit's content as it currently reads.
func contentFingerprint(ctx context.Context, unit content.Unit) ([]byte, error) {
	digest := sha256.New()
	hasher, err := unit.NewHasher(digest)
	if err != nil {
		return nil, err
	}
	defer hasher.Close()
	for !hasher.Finished() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := hasher.HashStep(fingerprintChunk)
		if err != nil {
			return nil, err
		}
		if n == 0 && !hasher.Finished() {
			return nil, vote.ErrContentStalled
		}
	}
	return hasher.Digest(), nil
}

type cachedResult struct {
	err error
}

// NewCaching caches the outcomes of verifier, which must verify with
// factory's digest and cfg.
func NewCaching(size int, factory *mbf.Factory, cfg vote.Config, verifier Verifier) (Verifier, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &caching{
		cache:    cache,
		verifier: verifier,
		variant:  cfg.Variant,
		digest:   factory.Digest(),
		cfg:      cfg,
	}, nil
}
