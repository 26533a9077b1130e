package mbf

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hopsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mbf_hops_total",
		Help: "Number of basis accesses performed by proof engines",
	}, []string{"variant"})
	trialsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mbf_trials_total",
		Help: "Number of complete paths or trials evaluated by proof engines",
	}, []string{"variant", "mode"})
	proofsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mbf_proofs_total",
		Help: "Number of finished proof computations",
	}, []string{"variant", "mode", "valid"})
)

// Proof is the compact evidence produced by a generator: a start offset for
// MBF1, the set of matching trial numbers for MBF2.
type Proof []uint64

// Mode tells whether an engine searches for a proof or replays one.
type Mode uint8

const (
	Generating Mode = iota
	Verifying
)

func (m Mode) String() string {
	if m == Verifying {
		return "verifying"
	}
	return "generating"
}

// Result is the outcome of a finished engine.
type Result struct {
	// Proof is the generated proof, or the candidate that was replayed.
	Proof Proof
	// Valid is always true for a finished generator.
	Valid bool
	// Reason explains why a verification failed.
	Reason error
}

// Engine is a resumable proof computation bound to one
// (nonce, effort, path length) tuple.
//
// Engines are driven by repeated ComputeSteps calls from a single goroutine
// and never block or spawn goroutines of their own.
type Engine interface {
	// ComputeSteps performs at most n units of work and reports whether more remain.
	ComputeSteps(n int) (bool, error)
	Finished() bool
	// Result returns ErrNotFinished until the engine has finished.
	Result() (Result, error)
	// Steps returns the number of work units performed so far.
	Steps() uint64
	Variant() Variant
	Mode() Mode
}

// state shared by all engine implementations.
type common struct {
	variant Variant
	mode    Mode

	steps    uint64
	finished bool
	result   Result
}

func (c *common) Finished() bool {
	return c.finished
}

func (c *common) Result() (Result, error) {
	if !c.finished {
		return Result{}, ErrNotFinished
	}
	return c.result, nil
}

func (c *common) Steps() uint64 {
	return c.steps
}

func (c *common) Variant() Variant {
	return c.variant
}

func (c *common) Mode() Mode {
	return c.mode
}

func (c *common) finish(result Result) {
	c.finished = true
	c.result = result
	valid := "false"
	if result.Valid {
		valid = "true"
	}
	proofsCounter.WithLabelValues(c.variant.String(), c.mode.String(), valid).Inc()
}

// reject finishes a verifier without doing any work.
func (c *common) reject(candidate Proof, reason error) {
	c.finish(Result{Proof: candidate, Valid: false, Reason: reason})
}
