package mbf

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"math/big"

	"go.uber.org/zap"

	"github.com/spacemeshos/mbf/basis"
	"github.com/spacemeshos/mbf/shared"
)

// walkEngine implements MBF1.
//
// A path starts at an offset of the flat basis and runs pathLen hops. The
// digest is seeded with the nonce and the big-endian start offset; every hop
// feeds it the basis byte at the current offset and jumps to the digest
// snapshot modulo the basis length. The path matches when the lowest set bit
// b of the final snapshot has 2^b > effort.
//
// Seeding with the start offset departs from the reference construction,
// which seeds with the nonce alone. Proofs are not interchangeable with it.
// With the nonce alone, every path over a uniform basis is the same path.
type walkEngine struct {
	common

	flat    *basis.Flat
	digest  hash.Hash
	nonce   []byte
	effort  uint64
	pathLen uint64
	random  io.Reader
	logger  *zap.Logger

	candidate Proof

	walking  bool
	start    uint64
	offset   uint64
	hops     uint64
	sum      []byte
	in       [1]byte
	startBuf [8]byte

	paths uint64
}

func newWalkEngine(flat *basis.Flat, digest hash.Hash, nonce []byte, effort, pathLen uint64, random io.Reader, logger *zap.Logger) *walkEngine {
	if random == nil {
		random = rand.Reader
	}
	return &walkEngine{
		common:  common{variant: MBF1, mode: Generating},
		flat:    flat,
		digest:  digest,
		nonce:   nonce,
		effort:  effort,
		pathLen: pathLen,
		random:  random,
		logger:  logger,
		sum:     make([]byte, 0, digest.Size()),
	}
}

func newWalkVerifier(flat *basis.Flat, digest hash.Hash, nonce []byte, effort, pathLen uint64, candidate Proof, logger *zap.Logger) *walkEngine {
	e := newWalkEngine(flat, digest, nonce, effort, pathLen, nil, logger)
	e.mode = Verifying
	e.candidate = candidate
	switch {
	case len(candidate) != 1:
		e.reject(candidate, fmt.Errorf("%w: expected a single offset, got %d elements", ErrMalformedProof, len(candidate)))
	case candidate[0] >= flat.Len():
		e.reject(candidate, fmt.Errorf("%w: offset %d outside basis of %d bytes", ErrMalformedProof, candidate[0], flat.Len()))
	}
	return e
}

func (e *walkEngine) ComputeSteps(n int) (bool, error) {
	done := 0
	defer func() {
		hopsCounter.WithLabelValues(MBF1.String()).Add(float64(done))
	}()

	for ; done < n && !e.finished; done++ {
		if !e.walking {
			if err := e.startPath(); err != nil {
				return false, err
			}
		}
		e.hop()
		if e.hops == e.pathLen {
			e.endPath()
		}
	}
	return !e.finished, nil
}

func (e *walkEngine) startPath() error {
	if e.mode == Verifying {
		e.start = e.candidate[0]
	} else {
		start, err := rand.Int(e.random, new(big.Int).SetUint64(e.flat.Len()))
		if err != nil {
			return fmt.Errorf("choosing path start: %w", err)
		}
		e.start = start.Uint64()
	}
	binary.BigEndian.PutUint64(e.startBuf[:], e.start)
	e.digest.Reset()
	e.digest.Write(e.nonce)
	e.digest.Write(e.startBuf[:])
	e.offset = e.start
	e.hops = 0
	e.walking = true
	return nil
}

func (e *walkEngine) hop() {
	e.in[0] = e.flat.At(e.offset)
	e.digest.Write(e.in[:])
	e.sum = e.digest.Sum(e.sum[:0])
	e.offset = shared.ModBytes(e.sum, e.flat.Len())
	e.hops++
	e.steps++
}

func (e *walkEngine) endPath() {
	e.walking = false
	e.paths++
	trialsCounter.WithLabelValues(MBF1.String(), e.mode.String()).Inc()

	matched := shared.ExceedsEffort(shared.LowestSetBit(e.sum), e.effort)
	switch {
	case e.mode == Verifying && matched:
		e.finish(Result{Proof: e.candidate, Valid: true})
	case e.mode == Verifying:
		e.finish(Result{Proof: e.candidate, Reason: fmt.Errorf("%w: path from offset %d", ErrNoMatch, e.start)})
	case matched:
		e.finish(Result{Proof: Proof{e.start}, Valid: true})
	default:
		return
	}
	e.logger.Debug("path evaluated",
		zap.Stringer("mode", e.mode),
		zap.Uint64("start", e.start),
		zap.Uint64("paths", e.paths),
		zap.Uint64("steps", e.steps),
		zap.Bool("valid", e.result.Valid),
	)
}
