package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spacemeshos/mbf/basis"
	"github.com/spacemeshos/mbf/config"
	"github.com/spacemeshos/mbf/content"
	"github.com/spacemeshos/mbf/logging"
	"github.com/spacemeshos/mbf/mbf"
	"github.com/spacemeshos/mbf/prover"
	"github.com/spacemeshos/mbf/scheduler"
	"github.com/spacemeshos/mbf/store"
	"github.com/spacemeshos/mbf/verifier"
	"github.com/spacemeshos/mbf/vote"
)

// mbf binary version.
// It should be passed during the build with '-ldflags "-X main.version="'.
var version = "unknown"

// mbfMain is the true entry point for mbf. This function is required since
// defers created in the top-level scope of a main method aren't executed if
// os.Exit() is called.
func mbfMain() error {
	var err error
	// Start with a default Config with sane settings
	cfg := config.DefaultConfig()
	// Pre-parse the command line to check for an alternative Config file
	cfg, err = config.ParseFlags(cfg)
	if err != nil {
		return err
	}
	// Load configuration file overwriting defaults with any specified options
	cfg, err = config.ReadConfigFile(cfg)
	if err != nil {
		return err
	}

	cfg, err = config.SetupConfig(cfg)
	if err != nil {
		return err
	}
	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	cfg, err = config.ParseFlags(cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize logging
	logLevel := zap.InfoLevel
	if cfg.DebugLog {
		logLevel = zap.DebugLevel
	}
	logger := logging.NewWithRotation(logLevel, filepath.Join(cfg.LogDir, "mbf.log"), cfg.JSONLog, logging.FileOptions{
		MaxFiles:  cfg.MaxLogFiles,
		MaxSizeMB: cfg.MaxLogFileSize,
	})
	ctx := logging.NewContext(context.Background(), logger)
	defer func() {
		_ = logger.Sync()
	}()

	logger.Sugar().Infof("version: %s, dir: %v, mode: %v, variant: %v", version, cfg.BaseDir, cfg.Poll.Mode, cfg.Vote.Variant)

	// Enable http profiling server if requested.
	if cfg.Profile != "" {
		logger.Sugar().Infof("starting HTTP profiling on port %v", cfg.Profile)
		go func() {
			listenAddr := net.JoinHostPort("", cfg.Profile)
			profileRedirect := http.RedirectHandler("/debug/pprof",
				http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			fmt.Println(http.ListenAndServe(listenAddr, nil))
		}()
	} else {
		// Disable go default unbounded memory profiler.
		runtime.MemProfileRate = 0
	}

	if cfg.MetricsPort != nil {
		listenAddr := net.JoinHostPort("", strconv.Itoa(int(*cfg.MetricsPort)))
		logger.Info("serving metrics", zap.String("address", listenAddr))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(listenAddr, mux); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			logger.With(zap.Error(err)).Error("could not create CPU profile")
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			logger.With(zap.Error(err)).Error("could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	votes, err := store.Open(cfg.DbDir)
	if err != nil {
		return err
	}
	defer votes.Close()

	if cfg.Poll.Mode == config.ModeList {
		return listVotes(ctx, votes)
	}

	factory, err := mbf.NewFactory(
		basis.NewStore(cfg.Basis, logger.Named("basis")),
		mbf.WithDigest(cfg.Engine.Digest),
		mbf.WithLogger(logger.Named("engine")),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine factory: %w", err)
	}

	switch cfg.Poll.Mode {
	case config.ModeGenerate:
		return generateVotes(ctx, cfg, factory, votes)
	case config.ModeVerify:
		return verifyVote(ctx, cfg, factory, votes)
	}
	return fmt.Errorf("unknown mode %q", cfg.Poll.Mode)
}

func listVotes(ctx context.Context, votes *store.Store) error {
	keys, err := votes.Keys(ctx, "")
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

// generation drives one vote over one unit file.
type generation struct {
	path        string
	unit        content.Unit
	computation *vote.Computation
}

func (g *generation) ComputeSteps(n int) (bool, error) {
	more, err := g.computation.ComputeSteps(n)
	if err != nil {
		return false, fmt.Errorf("%s: %w", g.path, err)
	}
	return more, nil
}

// generateVotes computes a vote for every configured unit, spreading the
// units over the configured workers, and stores the results.
func generateVotes(ctx context.Context, cfg *config.Config, factory *mbf.Factory, votes *store.Store) error {
	logger := logging.FromContext(ctx)

	if len(cfg.Poll.Units) == 1 {
		unit, err := content.NewFileUnit(cfg.Poll.UnitID(cfg.Poll.Units[0]), cfg.Poll.Units[0])
		if err != nil {
			return err
		}
		v, err := prover.GenerateVote(ctx, factory, unit, cfg.Poll.Nonce, cfg.Poll.Effort, cfg.Vote)
		if err != nil {
			return err
		}
		return storeVote(ctx, votes, unit, cfg.Vote.Variant, v)
	}

	s, err := scheduler.New(cfg.Engine.Workers, cfg.Vote.Quantum)
	if err != nil {
		return err
	}
	var generations []*generation
	for _, path := range cfg.Poll.Units {
		unit, err := content.NewFileUnit(cfg.Poll.UnitID(path), path)
		if err != nil {
			return err
		}
		nonce := []byte(cfg.Poll.Nonce)
		if len(nonce) == 0 {
			if nonce, err = prover.RandomNonce(); err != nil {
				return err
			}
		}
		g := &generation{
			path:        path,
			unit:        unit,
			computation: vote.NewGeneration(factory, unit, nonce, cfg.Poll.Effort, cfg.Vote, logger),
		}
		defer g.computation.Close()
		generations = append(generations, g)
		id := s.Add(g)
		logger.Debug("queued unit", zap.String("path", path), zap.Stringer("task", id))
	}
	if err := s.Run(ctx); err != nil {
		return err
	}
	for _, g := range generations {
		v, err := g.computation.Vote()
		if err != nil {
			return err
		}
		if err := storeVote(ctx, votes, g.unit, cfg.Vote.Variant, v); err != nil {
			return err
		}
	}
	return nil
}

func storeVote(ctx context.Context, votes *store.Store, unit content.Unit, variant mbf.Variant, v *vote.Vote) error {
	key, err := votes.Put(ctx, &store.Record{UnitID: unit.ID(), Variant: variant, Vote: v})
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Info("vote stored", zap.String("key", key), zap.Int("blocks", len(v.Blocks)))
	fmt.Println(key)
	return nil
}

func verifyVote(ctx context.Context, cfg *config.Config, factory *mbf.Factory, votes *store.Store) error {
	rec, err := votes.Get(ctx, cfg.Poll.VoteKey)
	if err != nil {
		return err
	}
	path := cfg.Poll.Units[0]
	unitID := rec.UnitID
	if cfg.Poll.AuID != "" {
		unitID = cfg.Poll.AuID
	}
	unit, err := content.NewFileUnit(unitID, path)
	if err != nil {
		return err
	}

	voteCfg := cfg.Vote
	voteCfg.Variant = rec.Variant
	cached, err := verifier.NewCaching(cfg.Engine.CacheSize, factory, voteCfg, verifier.New(factory, voteCfg))
	if err != nil {
		return err
	}
	err = cached.Verify(ctx, unit, cfg.Poll.Nonce, cfg.Poll.Effort, rec.Vote)
	switch {
	case err == nil:
		fmt.Println("valid")
		return nil
	case errors.Is(err, verifier.ErrInvalidVote):
		fmt.Println("invalid:", err)
		return err
	default:
		return err
	}
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := mbfMain(); err != nil {
		// If it's the flag utility error don't print it,
		// because it was already printed.
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
