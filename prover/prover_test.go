package prover_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spacemeshos/mbf/basis"
	"github.com/spacemeshos/mbf/content"
	"github.com/spacemeshos/mbf/logging"
	"github.com/spacemeshos/mbf/mbf"
	"github.com/spacemeshos/mbf/prover"
	"github.com/spacemeshos/mbf/vote"
)

func newFactory(t testing.TB) *mbf.Factory {
	data := make([]byte, 64<<10)
	rand.New(rand.NewSource(1)).Read(data)
	flat, err := basis.NewFlat(data)
	require.NoError(t, err)
	factory, err := mbf.NewFactory(basis.Preloaded(flat, nil))
	require.NoError(t, err)
	return factory
}

func TestGenerateVote(t *testing.T) {
	t.Parallel()
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	factory := newFactory(t)
	unit := content.NewBytesUnit("au", []byte("some audited content"))

	cfg := vote.DefaultConfig()
	cfg.Variant = mbf.MBF1
	cfg.Quantum = 8

	v, err := prover.GenerateVote(ctx, factory, unit, []byte("nonce"), 2, cfg)
	require.NoError(t, err)
	require.Equal(t, []byte("nonce"), v.Nonce)
	require.Len(t, v.Blocks, 5)

	verification := vote.NewVerification(factory, unit, []byte("nonce"), 2, v, cfg, nil)
	for more := true; more; {
		more, err = verification.ComputeSteps(cfg.Quantum)
		require.NoError(t, err)
	}
	require.True(t, verification.Valid())
}

func TestGenerateVoteLogsUnitOnce(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logging.NewContext(context.Background(), zap.New(core))
	unit := content.NewBytesUnit("au", []byte("0123456789"))
	cfg := vote.DefaultConfig()
	cfg.Variant = mbf.Mock

	_, err := prover.GenerateVote(ctx, newFactory(t), unit, []byte("nonce"), 2, cfg)
	require.NoError(t, err)

	require.Equal(t, 1, logs.FilterMessage("starting vote").FilterField(zap.String("au_id", "au")).Len())
	for _, entry := range logs.All() {
		count := 0
		for _, field := range entry.Context {
			if field.Key == "au_id" {
				count++
			}
		}
		require.LessOrEqual(t, count, 1, "entry %q", entry.Message)
	}
}

func TestGenerateVoteDrawsNonce(t *testing.T) {
	t.Parallel()
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	factory := newFactory(t)
	unit := content.NewBytesUnit("au", []byte("abc"))

	cfg := vote.DefaultConfig()
	cfg.Variant = mbf.Mock

	first, err := prover.GenerateVote(ctx, factory, unit, nil, 1, cfg)
	require.NoError(t, err)
	require.Len(t, first.Nonce, prover.NonceSize)
	second, err := prover.GenerateVote(ctx, factory, unit, nil, 1, cfg)
	require.NoError(t, err)
	require.NotEqual(t, first.Nonce, second.Nonce)
}

func TestGenerateVoteCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), zaptest.NewLogger(t)))
	cancel()

	cfg := vote.DefaultConfig()
	cfg.Variant = mbf.Mock
	_, err := prover.GenerateVote(ctx, newFactory(t), content.NewBytesUnit("au", []byte("abc")), []byte("n"), 1, cfg)
	require.ErrorIs(t, err, prover.ErrShutdownRequested)
}

func TestGenerateVoteMissingBasis(t *testing.T) {
	t.Parallel()
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))

	cfg := vote.DefaultConfig()
	cfg.Variant = mbf.MBF2
	_, err := prover.GenerateVote(ctx, newFactory(t), content.NewBytesUnit("au", []byte("abc")), []byte("n"), 1, cfg)
	require.ErrorIs(t, err, basis.ErrNoBasisConfigured)
}

func BenchmarkGenerateVote(b *testing.B) {
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(b))
	factory := newFactory(b)
	data := make([]byte, 4<<10)
	rand.New(rand.NewSource(2)).Read(data)
	unit := content.NewBytesUnit("au", data)

	cfg := vote.DefaultConfig()
	cfg.Variant = mbf.MBF1
	for i := 0; i < b.N; i++ {
		_, err := prover.GenerateVote(ctx, factory, unit, []byte("bench"), 4, cfg)
		if err != nil {
			b.Fatal(err)
		}
	}
}
