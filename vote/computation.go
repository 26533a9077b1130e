package vote

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/spacemeshos/mbf/content"
	"github.com/spacemeshos/mbf/mbf"
	"github.com/spacemeshos/mbf/shared"
)

var (
	blocksCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vote_blocks_total",
		Help: "Number of vote blocks completed",
	}, []string{"mode"})
	votesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vote_computations_total",
		Help: "Number of vote computations that reached a final state",
	}, []string{"mode", "outcome"})
	contentBytesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vote_content_bytes_total",
		Help: "Number of content bytes hashed by vote computations",
	})
)

// Computation is a resumable vote generation or verification over one audited unit.
//
// The chain digest is handed to the unit's hasher, so block bytes land in the
// same digest that was seeded with the block's challenge.
type Computation struct {
	factory *mbf.Factory
	unit    content.Unit
	cfg     Config
	mode    mbf.Mode
	logger  *zap.Logger

	nonce     []byte
	effort    uint64
	candidate *Vote

	digest hash.Hash
	hasher content.Hasher
	state  state
	steps  uint64
	blocks []Block

	valid  bool
	reason error
	failed int
}

// NewGeneration prepares the generation of a vote over unit.
func NewGeneration(factory *mbf.Factory, unit content.Unit, nonce []byte, effort uint64, cfg Config, logger *zap.Logger) *Computation {
	return newComputation(factory, unit, cfg, mbf.Generating, logger, slices.Clone(nonce), effort, nil, startingGeneration{})
}

// NewVerification prepares the verification of candidate against unit for
// the challenge (nonce, effort) the verifier issued. The chain is replayed
// from the issued challenge, and a candidate carrying any other nonce or
// effort is rejected. The candidate is copied and never modified.
func NewVerification(
	factory *mbf.Factory,
	unit content.Unit,
	nonce []byte,
	effort uint64,
	candidate *Vote,
	cfg Config,
	logger *zap.Logger,
) *Computation {
	candidate = candidate.Clone()
	return newComputation(factory, unit, cfg, mbf.Verifying, logger, slices.Clone(nonce), effort, candidate, startingVerification{})
}

func newComputation(
	factory *mbf.Factory,
	unit content.Unit,
	cfg Config,
	mode mbf.Mode,
	logger *zap.Logger,
	nonce []byte,
	effort uint64,
	candidate *Vote,
	initial state,
) *Computation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Computation{
		factory:   factory,
		unit:      unit,
		cfg:       cfg,
		mode:      mode,
		logger:    logger.With(zap.String("au_id", unit.ID()), zap.Stringer("mode", mode)),
		nonce:     nonce,
		effort:    effort,
		candidate: candidate,
		state:     initial,
		failed:    -1,
	}
}

func (c *Computation) Phase() Phase {
	return c.state.phase()
}

func (c *Computation) Mode() mbf.Mode {
	return c.mode
}

func (c *Computation) Finished() bool {
	_, ok := c.state.(finished)
	return ok
}

// Steps returns the work units performed so far: engine steps plus content bytes hashed.
func (c *Computation) Steps() uint64 {
	return c.steps
}

// Vote returns the generated vote once generation has finished.
func (c *Computation) Vote() (*Vote, error) {
	if c.mode != mbf.Generating {
		return nil, ErrWrongMode
	}
	if !c.Finished() {
		return nil, ErrNotFinished
	}
	return &Vote{Nonce: slices.Clone(c.nonce), Effort: c.effort, Blocks: c.blocks}, nil
}

// Valid reports whether a finished computation produced or accepted a vote.
// It is false until the computation finishes.
func (c *Computation) Valid() bool {
	return c.Finished() && c.valid
}

// Reason explains why a finished verification rejected the candidate.
func (c *Computation) Reason() error {
	return c.reason
}

// FailedBlock is the index of the first block that failed verification, or -1.
func (c *Computation) FailedBlock() int {
	return c.failed
}

// Close releases the content hasher. It is safe to call at any point.
func (c *Computation) Close() error {
	if c.hasher == nil {
		return nil
	}
	err := c.hasher.Close()
	c.hasher = nil
	return err
}

// ComputeSteps performs at most n units of work and reports whether more remain.
//
// In generation mode, running past the configured MaxSteps moves the
// computation to the Bad phase and returns mbf.ErrStepBudgetExhausted. In
// verification mode it finishes the computation with an invalid result.
func (c *Computation) ComputeSteps(n int) (bool, error) {
	if n <= 0 {
		return false, fmt.Errorf("%w: step count must be positive", mbf.ErrInvalidParams)
	}
	switch s := c.state.(type) {
	case finished:
		return false, nil
	case bad:
		return false, s.err
	}

	budget := uint64(n)
	if c.cfg.MaxSteps > 0 {
		left := uint64(0)
		if c.steps < c.cfg.MaxSteps {
			left = c.cfg.MaxSteps - c.steps
		}
		if left < budget {
			budget = left
		}
	}

	for !c.done() {
		progressed, err := c.advance(&budget)
		if err != nil {
			c.fail(err)
			return false, err
		}
		if !progressed {
			break
		}
	}

	if !c.done() && c.cfg.MaxSteps > 0 && c.steps >= c.cfg.MaxSteps {
		if err := c.exhausted(); err != nil {
			return false, err
		}
	}
	return !c.done(), nil
}

func (c *Computation) done() bool {
	switch c.state.(type) {
	case finished, bad:
		return true
	}
	return false
}

// advance runs the current state once. It reports false when the state
// needs work and the budget is spent.
func (c *Computation) advance(budget *uint64) (bool, error) {
	switch s := c.state.(type) {
	case startingGeneration:
		return true, c.start(c.nonce)
	case startingVerification:
		switch {
		case !bytes.Equal(c.candidate.Nonce, c.nonce):
			c.reject(0, ErrNonceMismatch{Expected: c.nonce, Actual: c.candidate.Nonce})
			return true, nil
		case c.candidate.Effort != c.effort:
			c.reject(0, ErrEffortMismatch{Expected: c.effort, Actual: c.candidate.Effort})
			return true, nil
		case len(c.candidate.Blocks) == 0:
			c.reject(0, ErrNoBlocks)
			return true, nil
		}
		return true, c.start(c.nonce)
	case firstBlockProofGeneration:
		return c.runEngine(0, s.engine, budget)
	case blockProofGeneration:
		return c.runEngine(s.index, s.engine, budget)
	case firstBlockProofVerification:
		return c.runEngine(0, s.engine, budget)
	case blockProofVerification:
		return c.runEngine(s.index, s.engine, budget)
	case blockHashGeneration:
		remaining, progressed, err := c.hashBlock(s.remaining, budget)
		if err != nil || !progressed {
			return progressed, err
		}
		if remaining > 0 {
			s.remaining = remaining
			c.state = s
			return true, nil
		}
		return true, c.endGeneratedBlock(s.index, s.proof)
	case blockHashVerification:
		remaining, progressed, err := c.hashBlock(s.remaining, budget)
		if err != nil || !progressed {
			return progressed, err
		}
		if remaining > 0 {
			s.remaining = remaining
			c.state = s
			return true, nil
		}
		return true, c.endVerifiedBlock(s.index)
	default:
		return false, fmt.Errorf("unexpected phase %v", c.state.phase())
	}
}

func (c *Computation) start(nonce []byte) error {
	c.digest = c.factory.NewDigest()
	hasher, err := c.unit.NewHasher(c.digest)
	if err != nil {
		return fmt.Errorf("opening content hasher: %w", err)
	}
	c.hasher = hasher

	seed := make([]byte, 0, len(nonce)+len(c.unit.ID()))
	seed = append(seed, nonce...)
	seed = append(seed, c.unit.ID()...)
	c.logger.Debug("starting vote", zap.Uint64("effort", c.effort), zap.Int64("size", c.unit.Size()))
	return c.startBlock(0, seed)
}

// startBlock reseeds the chain digest and builds the engine for block index.
func (c *Computation) startBlock(index int, seed []byte) error {
	if index >= MaxBlocks {
		return fmt.Errorf("unit %s needs more than %d blocks", c.unit.ID(), MaxBlocks)
	}
	c.digest.Reset()
	c.digest.Write(seed)
	challenge := c.digest.Sum(nil)

	if c.mode == mbf.Generating {
		engine, err := c.factory.NewGenerator(c.cfg.Variant, challenge, c.effort, blockLength(index))
		if err != nil {
			return err
		}
		if index == 0 {
			c.state = firstBlockProofGeneration{engine: engine}
		} else {
			c.state = blockProofGeneration{index: index, engine: engine}
		}
		return nil
	}

	proof := c.candidate.Blocks[index].Proof
	engine, err := c.factory.NewVerifier(c.cfg.Variant, challenge, c.effort, blockLength(index), proof, c.cfg.MaxTrials)
	if err != nil {
		return err
	}
	if index == 0 {
		c.state = firstBlockProofVerification{engine: engine}
	} else {
		c.state = blockProofVerification{index: index, engine: engine}
	}
	return nil
}

func (c *Computation) runEngine(index int, engine mbf.Engine, budget *uint64) (bool, error) {
	if !engine.Finished() {
		if *budget == 0 {
			return false, nil
		}
		before := engine.Steps()
		if _, err := engine.ComputeSteps(clampInt(*budget)); err != nil {
			return false, fmt.Errorf("block %d proof: %w", index, err)
		}
		c.consume(engine.Steps()-before, budget)
		if !engine.Finished() {
			return engine.Steps() > before, nil
		}
	}

	result, err := engine.Result()
	if err != nil {
		return false, err
	}
	if c.mode == mbf.Verifying && !result.Valid {
		c.reject(index, ErrProofRejected{Index: index, Reason: result.Reason})
		return true, nil
	}
	c.logger.Debug("block proof done",
		zap.Int("block", index),
		zap.Int("proof_len", len(result.Proof)),
		zap.Uint64("engine_steps", engine.Steps()),
	)
	if c.mode == mbf.Generating {
		c.state = blockHashGeneration{index: index, proof: result.Proof, remaining: blockLength(index)}
	} else {
		c.state = blockHashVerification{index: index, remaining: blockLength(index)}
	}
	return true, nil
}

// hashBlock feeds up to min(budget, remaining) bytes to the hasher and
// returns how many bytes of the block are left. A block ends early when the
// content does.
func (c *Computation) hashBlock(remaining uint64, budget *uint64) (uint64, bool, error) {
	if c.hasher.Finished() {
		return 0, true, nil
	}
	if *budget == 0 {
		return remaining, false, nil
	}
	want := remaining
	if *budget < want {
		want = *budget
	}
	n, err := c.hasher.HashStep(clampInt(want))
	if err != nil {
		return remaining, false, err
	}
	if n == 0 && !c.hasher.Finished() {
		return remaining, false, ErrContentStalled
	}
	c.consume(uint64(n), budget)
	contentBytesCounter.Add(float64(n))
	remaining -= uint64(n)
	if c.hasher.Finished() {
		remaining = 0
	}
	return remaining, true, nil
}

func (c *Computation) endGeneratedBlock(index int, proof mbf.Proof) error {
	digest := c.hasher.Digest()
	c.blocks = append(c.blocks, Block{Proof: proof, Hash: digest})
	blocksCounter.WithLabelValues(c.mode.String()).Inc()

	if c.hasher.Finished() {
		c.valid = true
		c.finish()
		return nil
	}
	return c.startBlock(index+1, nextSeed(digest, proof))
}

func (c *Computation) endVerifiedBlock(index int) error {
	digest := c.hasher.Digest()
	expected := c.candidate.Blocks[index]
	blocksCounter.WithLabelValues(c.mode.String()).Inc()

	if !bytes.Equal(digest, expected.Hash) {
		c.reject(index, ErrBlockMismatch{Index: index, Expected: expected.Hash, Actual: digest})
		return nil
	}
	c.blocks = append(c.blocks, Block{Proof: expected.Proof, Hash: digest})

	last := index+1 == len(c.candidate.Blocks)
	switch {
	case c.hasher.Finished() && last:
		c.valid = true
		c.finish()
		return nil
	case c.hasher.Finished():
		c.reject(index+1, ErrContentExhausted)
		return nil
	case last:
		c.reject(index+1, ErrBlockCountMismatch)
		return nil
	}
	return c.startBlock(index+1, nextSeed(digest, expected.Proof))
}

func nextSeed(digest []byte, proof mbf.Proof) []byte {
	seed := make([]byte, 0, len(digest)+len(proof)*shared.ProofElementSize)
	seed = append(seed, digest...)
	return shared.FlattenProof(seed, proof)
}

func (c *Computation) consume(n uint64, budget *uint64) {
	c.steps += n
	if n > *budget {
		*budget = 0
		return
	}
	*budget -= n
}

func (c *Computation) exhausted() error {
	err := fmt.Errorf("%w: vote used %d of %d steps", mbf.ErrStepBudgetExhausted, c.steps, c.cfg.MaxSteps)
	if c.mode == mbf.Verifying {
		c.reject(c.currentIndex(), err)
		return nil
	}
	c.fail(err)
	return err
}

func (c *Computation) currentIndex() int {
	switch s := c.state.(type) {
	case blockProofGeneration:
		return s.index
	case blockProofVerification:
		return s.index
	case blockHashGeneration:
		return s.index
	case blockHashVerification:
		return s.index
	}
	return 0
}

func (c *Computation) reject(index int, reason error) {
	c.valid = false
	c.reason = reason
	c.failed = index
	c.logger.Debug("vote rejected", zap.Int("block", index), zap.Error(reason))
	c.finish()
}

func (c *Computation) finish() {
	c.state = finished{}
	if err := c.Close(); err != nil {
		c.logger.Warn("closing content hasher", zap.Error(err))
	}
	outcome := "valid"
	if !c.valid {
		outcome = "invalid"
	}
	votesCounter.WithLabelValues(c.mode.String(), outcome).Inc()
	c.logger.Debug("vote finished", zap.Bool("valid", c.valid), zap.Int("blocks", len(c.blocks)), zap.Uint64("steps", c.steps))
}

func (c *Computation) fail(err error) {
	if errors.Is(err, mbf.ErrStepBudgetExhausted) {
		c.logger.Info("vote step budget exhausted", zap.Uint64("steps", c.steps))
	} else {
		c.logger.Warn("vote failed", zap.Stringer("phase", c.state.phase()), zap.Error(err))
	}
	c.state = bad{err: err}
	if cerr := c.Close(); cerr != nil {
		c.logger.Warn("closing content hasher", zap.Error(cerr))
	}
	votesCounter.WithLabelValues(c.mode.String(), "error").Inc()
}

func clampInt(v uint64) int {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}
