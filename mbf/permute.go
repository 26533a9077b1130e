package mbf

import (
	"encoding/binary"
	"fmt"
	"hash"
	"math/bits"

	"go.uber.org/zap"

	"github.com/spacemeshos/mbf/basis"
	"github.com/spacemeshos/mbf/shared"
)

const (
	// Acceptance band widths. The verifier accepts one more bit of slack than
	// the generator demands; both values are part of the wire protocol.
	generatingBand = 3
	verifyingBand  = 4

	seedMask  = basis.SeedWords - 1
	tableMask = basis.TableWords - 1
)

// permuteEngine implements MBF2.
//
// Trial k derives a 1 KiB working buffer from H(nonce || k) and the basis
// seed, then runs pathLen rounds of an RC4-like keyed permutation whose
// pointer into the 16 MiB table depends on the previous table word. The
// trial matches when the lowest set bit of H(buffer) is at least
// ceil(log2(effort)) minus the acceptance band.
//
// A proof must list at least minProofLen(effort) matching trials. The
// generator evaluates trials 0..effort-1 and keeps going until it holds that
// many.
type permuteEngine struct {
	common

	table   *basis.Table
	digest  hash.Hash
	effort  uint64
	pathLen uint64
	minBit  int
	minLen  uint64
	logger  *zap.Logger

	// input is nonce || k, with the last 8 bytes rewritten per trial.
	input []byte
	sum   []byte
	buf   [basis.SeedSize]byte
	a     [basis.SeedWords]uint32

	inTrial bool
	k       uint64
	i, j, c uint32
	hops    uint64
	trials  uint64

	matches   Proof // generating
	candidate Proof // verifying
	next      int
}

func newPermuteEngine(table *basis.Table, digest hash.Hash, nonce []byte, effort, pathLen uint64, mode Mode, logger *zap.Logger) *permuteEngine {
	band := generatingBand
	if mode == Verifying {
		band = verifyingBand
	}
	input := make([]byte, 0, len(nonce)+8)
	input = append(input, nonce...)
	input = append(input, make([]byte, 8)...) // placeholder for k

	return &permuteEngine{
		common:  common{variant: MBF2, mode: mode},
		table:   table,
		digest:  digest,
		effort:  effort,
		pathLen: pathLen,
		minBit:  shared.CeilLog2(effort) - band,
		minLen:  minProofLen(effort),
		logger:  logger,
		input:   input,
		sum:     make([]byte, 0, digest.Size()),
	}
}

func newPermuteVerifier(table *basis.Table, digest hash.Hash, nonce []byte, effort, pathLen uint64, candidate Proof, maxSteps uint64, logger *zap.Logger) *permuteEngine {
	e := newPermuteEngine(table, digest, nonce, effort, pathLen, Verifying, logger)
	e.candidate = candidate

	maxLen := effort
	if maxLen == 0 {
		maxLen = 1
	}
	switch {
	case len(candidate) == 0:
		e.reject(candidate, fmt.Errorf("%w: empty trial set", ErrMalformedProof))
	case uint64(len(candidate)) < e.minLen:
		e.reject(candidate, fmt.Errorf("%w: %d trials below minimum %d", ErrMalformedProof, len(candidate), e.minLen))
	case uint64(len(candidate)) > maxLen:
		e.reject(candidate, fmt.Errorf("%w: %d trials exceed effort %d", ErrMalformedProof, len(candidate), effort))
	case !strictlyIncreasing(candidate):
		e.reject(candidate, fmt.Errorf("%w: trials not strictly increasing", ErrMalformedProof))
	case maxSteps > 0 && uint64(len(candidate)) > maxSteps:
		e.reject(candidate, fmt.Errorf("%w: %d trials exceed bound %d", ErrStepBudgetExhausted, len(candidate), maxSteps))
	}
	return e
}

// minProofLen is the number of matches effort trials are expected to yield
// at the generating band, and at least one.
func minProofLen(effort uint64) uint64 {
	shift := shared.CeilLog2(effort) - generatingBand
	if shift < 0 {
		shift = 0
	}
	if n := effort >> uint(shift); n > 0 {
		return n
	}
	return 1
}

func strictlyIncreasing(p Proof) bool {
	for i := 1; i < len(p); i++ {
		if p[i] <= p[i-1] {
			return false
		}
	}
	return true
}

func (e *permuteEngine) ComputeSteps(n int) (bool, error) {
	done := 0
	defer func() {
		hopsCounter.WithLabelValues(MBF2.String()).Add(float64(done))
	}()

	for ; done < n && !e.finished; done++ {
		if !e.inTrial {
			if e.mode == Verifying {
				e.startTrial(e.candidate[e.next])
			} else {
				e.startTrial(e.k)
			}
		}
		e.step()
		if e.hops == e.pathLen {
			e.endTrial()
		}
	}
	return !e.finished, nil
}

func (e *permuteEngine) startTrial(k uint64) {
	e.k = k
	binary.BigEndian.PutUint64(e.input[len(e.input)-8:], k)
	e.digest.Reset()
	e.digest.Write(e.input)
	e.sum = e.digest.Sum(e.sum[:0])

	for off := 0; off < len(e.buf); {
		off += copy(e.buf[off:], e.sum)
	}
	seed := e.table.Seed()
	for x := range e.buf {
		e.buf[x] ^= seed[x]
	}
	for w := range e.a {
		e.a[w] = binary.LittleEndian.Uint32(e.buf[w*4:])
	}

	e.i, e.j = 0, 0
	e.c = e.a[0] & tableMask
	e.hops = 0
	e.inTrial = true
}

func (e *permuteEngine) step() {
	e.i = (e.i + 1) & seedMask
	e.j = (e.j + e.a[e.i]) & seedMask
	t := e.table.Word(e.c)
	e.a[e.i] = bits.RotateLeft32(e.a[e.i]+t, -11)
	e.a[e.i], e.a[e.j] = e.a[e.j], e.a[e.i]
	e.c = (t ^ e.a[(e.a[e.i]+e.a[e.j])&seedMask]) & tableMask
	e.hops++
	e.steps++
}

func (e *permuteEngine) endTrial() {
	e.inTrial = false
	e.trials++
	trialsCounter.WithLabelValues(MBF2.String(), e.mode.String()).Inc()

	for w, v := range e.a {
		binary.LittleEndian.PutUint32(e.buf[w*4:], v)
	}
	e.digest.Reset()
	e.digest.Write(e.buf[:])
	e.sum = e.digest.Sum(e.sum[:0])
	matched := shared.LowestSetBit(e.sum) >= e.minBit

	if e.mode == Verifying {
		if !matched {
			e.finish(Result{Proof: e.candidate, Reason: fmt.Errorf("%w: trial %d", ErrNoMatch, e.k)})
			e.logFinish()
			return
		}
		e.next++
		if e.next == len(e.candidate) {
			e.finish(Result{Proof: e.candidate, Valid: true})
			e.logFinish()
		}
		return
	}

	if matched {
		e.matches = append(e.matches, e.k)
	}
	e.k++
	// Past the effort the search only continues until enough matches exist.
	if e.k >= e.effort && uint64(len(e.matches)) >= e.minLen {
		e.finish(Result{Proof: e.matches, Valid: true})
		e.logFinish()
	}
}

func (e *permuteEngine) logFinish() {
	e.logger.Debug("trials evaluated",
		zap.Stringer("mode", e.mode),
		zap.Uint64("trials", e.trials),
		zap.Uint64("steps", e.steps),
		zap.Int("proof_len", len(e.result.Proof)),
		zap.Bool("valid", e.result.Valid),
	)
}
