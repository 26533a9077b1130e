package prover

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/spacemeshos/mbf/content"
	"github.com/spacemeshos/mbf/logging"
	"github.com/spacemeshos/mbf/mbf"
	"github.com/spacemeshos/mbf/scheduler"
	"github.com/spacemeshos/mbf/vote"
)

// NonceSize is the length of nonces drawn when the caller supplies none.
const NonceSize = 32

var (
	votesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prover_votes_generated_total",
		Help: "Number of votes generated",
	})
	stepsPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prover_steps_per_second",
		Help: "Work units per second of the most recent vote generation",
	})
	generationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prover_generation_duration_seconds",
		Help:    "Time taken to generate a vote",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 20),
	})
)

var ErrShutdownRequested = errors.New("shutdown requested")

// RandomNonce draws a fresh nonce from crypto/rand.
func RandomNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("drawing nonce: %w", err)
	}
	return nonce, nil
}

// GenerateVote computes a vote over unit for the challenge (nonce, effort).
// An empty nonce is replaced by a random one.
func GenerateVote(
	ctx context.Context,
	factory *mbf.Factory,
	unit content.Unit,
	nonce []byte,
	effort uint64,
	cfg vote.Config,
) (*vote.Vote, error) {
	if len(nonce) == 0 {
		var err error
		if nonce, err = RandomNonce(); err != nil {
			return nil, err
		}
	}
	base := logging.FromContext(ctx)
	logger := base.With(zap.String("au_id", unit.ID()))
	logger.Info("generating vote",
		zap.Stringer("variant", cfg.Variant),
		zap.Uint64("effort", effort),
		zap.Int64("size", unit.Size()),
		zap.Binary("nonce", nonce),
	)

	started := time.Now()
	computation := vote.NewGeneration(factory, unit, nonce, effort, cfg, base)
	defer computation.Close()

	if err := scheduler.Drive(ctx, computation, cfg.Quantum); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrShutdownRequested, err)
		}
		return nil, fmt.Errorf("generating vote for %s: %w", unit.ID(), err)
	}
	v, err := computation.Vote()
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(started)
	generationDuration.Observe(elapsed.Seconds())
	votesGenerated.Inc()
	if elapsed > 0 {
		stepsPerSecond.Set(float64(computation.Steps()) / elapsed.Seconds())
	}
	logger.Info("vote generated",
		zap.Int("blocks", len(v.Blocks)),
		zap.Uint64("steps", computation.Steps()),
		zap.Duration("duration", elapsed),
	)
	return v, nil
}
