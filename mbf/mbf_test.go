package mbf

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spacemeshos/mbf/basis"
)

var (
	tableOnce sync.Once
	table     *basis.Table
)

// testTable returns a deterministic pseudo-random MBF2 basis shared by all tests.
func testTable(t testing.TB) *basis.Table {
	tableOnce.Do(func() {
		rng := rand.New(rand.NewSource(42))
		seed := make([]byte, basis.SeedSize)
		rng.Read(seed)
		data := make([]byte, basis.TableSize)
		rng.Read(data)
		var err error
		table, err = basis.NewTable(seed, data)
		require.NoError(t, err)
	})
	return table
}

func testFlat(t testing.TB, size int, seed int64) *basis.Flat {
	data := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(data)
	flat, err := basis.NewFlat(data)
	require.NoError(t, err)
	return flat
}

func newTestFactory(t testing.TB, flat *basis.Flat, opts ...OptionFunc) *Factory {
	opts = append([]OptionFunc{WithLogger(zaptest.NewLogger(t))}, opts...)
	factory, err := NewFactory(basis.Preloaded(flat, testTable(t)), opts...)
	require.NoError(t, err)
	return factory
}

// run drives an engine to completion in chunks of n steps.
func run(t testing.TB, e Engine, n int) Result {
	t.Helper()
	for calls := 0; ; calls++ {
		require.Less(t, calls, 10_000_000, "engine did not finish")
		more, err := e.ComputeSteps(n)
		require.NoError(t, err)
		if !more {
			break
		}
	}
	require.True(t, e.Finished())
	res, err := e.Result()
	require.NoError(t, err)
	return res
}

func TestParseVariant(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"MBF1", "mbf2", "Mock"} {
		v, err := ParseVariant(name)
		require.NoError(t, err)
		require.True(t, strings.EqualFold(name, v.String()), "%s parsed as %s", name, v)
	}
	_, err := ParseVariant("MBF3")
	require.ErrorIs(t, err, ErrUnknownVariant)

	var v Variant
	require.NoError(t, v.UnmarshalFlag("mbf2"))
	require.Equal(t, MBF2, v)
	require.Error(t, v.UnmarshalFlag(""))
	require.Equal(t, "Variant(9)", Variant(9).String())
}

func TestWalkZeroBasis(t *testing.T) {
	t.Parallel()

	flat, err := basis.NewFlat(make([]byte, 64<<10))
	require.NoError(t, err)
	factory := newTestFactory(t, flat)
	nonce := []byte("test")

	gen, err := factory.NewGenerator(MBF1, nonce, 1, 4)
	require.NoError(t, err)
	res := run(t, gen, math.MaxInt)
	require.True(t, res.Valid)
	require.Len(t, res.Proof, 1)
	require.Less(t, res.Proof[0], flat.Len())

	ver, err := factory.NewVerifier(MBF1, nonce, 1, 4, res.Proof, 0)
	require.NoError(t, err)
	verified := run(t, ver, math.MaxInt)
	require.True(t, verified.Valid)
	require.NoError(t, verified.Reason)
	require.EqualValues(t, 4, ver.Steps())
}

func TestWalkVerificationIsDeterministic(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, testFlat(t, 1<<16, 1))
	for _, nonce := range []string{"a", "bb", "ccc"} {
		gen, err := factory.NewGenerator(MBF1, []byte(nonce), 100, 32)
		require.NoError(t, err)
		proof := run(t, gen, 1000).Proof

		for i := 0; i < 3; i++ {
			ver, err := factory.MakeVerifier("MBF1", []byte(nonce), 100, 32, proof, 0)
			require.NoError(t, err)
			require.True(t, run(t, ver, 7).Valid)
		}
	}
}

func TestWalkTamperedOffsetIsRejected(t *testing.T) {
	t.Parallel()

	flat := testFlat(t, 1<<16, 2)
	factory := newTestFactory(t, flat)
	const effort, pathLen = 256, 8

	accepted := 0
	checks := 0
	for n := 0; n < 8; n++ {
		nonce := []byte{byte(n), 'x'}
		gen, err := factory.NewGenerator(MBF1, nonce, effort, pathLen)
		require.NoError(t, err)
		start := run(t, gen, math.MaxInt).Proof[0]

		for _, mask := range []uint64{0xff, 0xff00} {
			tampered := (start ^ mask) % flat.Len()
			ver, err := factory.NewVerifier(MBF1, nonce, effort, pathLen, Proof{tampered}, 0)
			require.NoError(t, err)
			res := run(t, ver, math.MaxInt)
			checks++
			if res.Valid {
				accepted++
			} else {
				require.ErrorIs(t, res.Reason, ErrNoMatch)
			}
		}
	}
	require.Equal(t, 16, checks)
	require.LessOrEqual(t, accepted, 2)
}

func TestWalkMalformedProof(t *testing.T) {
	t.Parallel()

	flat := testFlat(t, 1024, 3)
	factory := newTestFactory(t, flat)

	for _, proof := range []Proof{nil, {1, 2}, {flat.Len()}} {
		ver, err := factory.NewVerifier(MBF1, []byte("n"), 1, 4, proof, 0)
		require.NoError(t, err)
		require.True(t, ver.Finished())
		more, err := ver.ComputeSteps(10)
		require.NoError(t, err)
		require.False(t, more)
		res, err := ver.Result()
		require.NoError(t, err)
		require.False(t, res.Valid)
		require.ErrorIs(t, res.Reason, ErrMalformedProof)
		require.Zero(t, ver.Steps())
	}
}

func TestWalkChunkedMatchesUnbounded(t *testing.T) {
	t.Parallel()

	flat := testFlat(t, 1<<12, 4)
	nonce := []byte("chunked")

	var proofs []Proof
	var steps []uint64
	for _, n := range []int{1, 3, 64, math.MaxInt} {
		factory := newTestFactory(t, flat, WithRandom(rand.New(rand.NewSource(7))))
		gen, err := factory.NewGenerator(MBF1, nonce, 64, 16)
		require.NoError(t, err)
		proofs = append(proofs, run(t, gen, n).Proof)
		steps = append(steps, gen.Steps())
	}
	for i := 1; i < len(proofs); i++ {
		require.Equal(t, proofs[0], proofs[i])
		require.Equal(t, steps[0], steps[i])
	}
	require.Zero(t, steps[0]%16, "generation always walks whole paths")
}

func TestPermuteGenerateVerify(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)
	nonce := []byte("permute")
	const effort, pathLen = 64, 32

	gen, err := factory.NewGenerator(MBF2, nonce, effort, pathLen)
	require.NoError(t, err)
	res := run(t, gen, 100)
	require.True(t, res.Valid)
	require.GreaterOrEqual(t, uint64(len(res.Proof)), minProofLen(effort))
	require.True(t, strictlyIncreasing(res.Proof))
	require.GreaterOrEqual(t, gen.Steps(), uint64(effort*pathLen))

	ver, err := factory.NewVerifier(MBF2, nonce, effort, pathLen, res.Proof, 0)
	require.NoError(t, err)
	verified := run(t, ver, 5)
	require.True(t, verified.Valid)
	require.Equal(t, uint64(len(res.Proof)*pathLen), ver.Steps())

	// Another nonce does not accept the same trials.
	ver, err = factory.NewVerifier(MBF2, []byte("other"), effort, pathLen, res.Proof, 0)
	require.NoError(t, err)
	require.False(t, run(t, ver, math.MaxInt).Valid)
}

func TestPermuteRejectsNonMatchingTrial(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)
	nonce := []byte("tamper")
	const effort, pathLen = 64, 16

	gen, err := factory.NewGenerator(MBF2, nonce, effort, pathLen)
	require.NoError(t, err)
	proof := run(t, gen, math.MaxInt).Proof

	matched := make(map[uint64]bool)
	for _, k := range proof {
		matched[k] = true
	}
	var failing *uint64
	for k := uint64(0); k < effort && failing == nil; k++ {
		if matched[k] {
			continue
		}
		// a single trial is below the minimum proof size, so replay it directly
		ver := newPermuteEngine(testTable(t), factory.NewDigest(), nonce, effort, pathLen, Verifying, zaptest.NewLogger(t))
		ver.candidate = Proof{k}
		if res := run(t, ver, math.MaxInt); !res.Valid {
			require.ErrorIs(t, res.Reason, ErrNoMatch)
			k := k
			failing = &k
		}
	}
	require.NotNil(t, failing, "expected some trial outside the proof to fail verification")

	candidate := append(Proof{}, proof...)
	candidate = append(candidate, *failing)
	for i := len(candidate) - 1; i > 0 && candidate[i] < candidate[i-1]; i-- {
		candidate[i], candidate[i-1] = candidate[i-1], candidate[i]
	}
	ver, err := factory.NewVerifier(MBF2, nonce, effort, pathLen, candidate, 0)
	require.NoError(t, err)
	res := run(t, ver, math.MaxInt)
	require.False(t, res.Valid)
	require.ErrorIs(t, res.Reason, ErrNoMatch)
}

func TestPermuteMalformedProof(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)
	tests := []struct {
		name     string
		proof    Proof
		maxSteps uint64
		reason   error
	}{
		{"empty", nil, 0, ErrMalformedProof},
		{"below minimum", Proof{0, 1, 2}, 0, ErrMalformedProof},
		{"longer than effort", Proof{0, 1, 2, 3, 4}, 0, ErrMalformedProof},
		{"not increasing", Proof{0, 2, 1, 3}, 0, ErrMalformedProof},
		{"duplicate trial", Proof{0, 1, 1, 2}, 0, ErrMalformedProof},
		{"over step bound", Proof{0, 1, 2, 3}, 2, ErrStepBudgetExhausted},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ver, err := factory.NewVerifier(MBF2, []byte("n"), 4, 8, tc.proof, tc.maxSteps)
			require.NoError(t, err)
			res := run(t, ver, 1)
			require.False(t, res.Valid)
			require.ErrorIs(t, res.Reason, tc.reason)
		})
	}
}

func TestMinProofLen(t *testing.T) {
	t.Parallel()

	for effort, want := range map[uint64]uint64{
		0: 1, 1: 1, 2: 2, 5: 5, 8: 8, 9: 4, 16: 8, 64: 8, 65: 4, 1024: 8, math.MaxUint64: 7,
	} {
		require.Equal(t, want, minProofLen(effort), "effort %d", effort)
	}
}

func TestPermuteRejectsShortProof(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)
	nonce := []byte("short")
	const effort, pathLen = 1024, 4

	gen, err := factory.NewGenerator(MBF2, nonce, effort, pathLen)
	require.NoError(t, err)
	proof := run(t, gen, math.MaxInt).Proof
	minLen := int(minProofLen(effort))
	require.GreaterOrEqual(t, len(proof), minLen)

	// every listed trial matches, but too few of them are listed
	for _, candidate := range []Proof{proof[:1], proof[:minLen-1]} {
		ver, err := factory.NewVerifier(MBF2, nonce, effort, pathLen, candidate, 0)
		require.NoError(t, err)
		res := run(t, ver, math.MaxInt)
		require.False(t, res.Valid)
		require.ErrorIs(t, res.Reason, ErrMalformedProof)
		require.Zero(t, ver.Steps())
	}

	ver, err := factory.NewVerifier(MBF2, nonce, effort, pathLen, proof[:minLen], 0)
	require.NoError(t, err)
	require.True(t, run(t, ver, math.MaxInt).Valid)
}

func TestPermuteEffortIsMonotonic(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)
	nonce := []byte("monotonic")
	const pathLen = 8

	var last uint64
	for _, effort := range []uint64{2, 8, 32, 128} {
		gen, err := factory.NewGenerator(MBF2, nonce, effort, pathLen)
		require.NoError(t, err)
		run(t, gen, math.MaxInt)
		trials := gen.Steps() / pathLen
		require.GreaterOrEqual(t, trials, effort)
		require.GreaterOrEqual(t, trials, last)
		last = trials
	}
}

func TestPermuteChunkedMatchesUnbounded(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)
	nonce := []byte("chunks")

	var first Proof
	for i, n := range []int{1, 13, math.MaxInt} {
		gen, err := factory.NewGenerator(MBF2, nonce, 32, 24)
		require.NoError(t, err)
		proof := run(t, gen, n).Proof
		if i == 0 {
			first = proof
			continue
		}
		require.Equal(t, first, proof)
	}
}

func TestMockEngine(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)
	gen, err := factory.MakeGenerator("MOCK", []byte("n"), 5, 1)
	require.NoError(t, err)
	_, err = gen.Result()
	require.ErrorIs(t, err, ErrNotFinished)
	res := run(t, gen, 1)
	require.Equal(t, Proof{5}, res.Proof)
	require.EqualValues(t, 1, gen.Steps())

	ver, err := factory.NewVerifier(Mock, []byte("n"), 5, 1, Proof{5}, 0)
	require.NoError(t, err)
	require.True(t, run(t, ver, 1).Valid)

	ver, err = factory.NewVerifier(Mock, []byte("n"), 5, 1, Proof{4}, 0)
	require.NoError(t, err)
	require.ErrorIs(t, run(t, ver, 1).Reason, ErrNoMatch)
}

func TestFactoryErrors(t *testing.T) {
	t.Parallel()

	factory, err := NewFactory(basis.Preloaded(nil, nil))
	require.NoError(t, err)

	_, err = factory.MakeGenerator("SHA1", []byte("n"), 1, 1)
	require.ErrorIs(t, err, ErrUnknownVariant)
	_, err = factory.MakeVerifier("nope", []byte("n"), 1, 1, Proof{0}, 0)
	require.ErrorIs(t, err, ErrUnknownVariant)
	_, err = factory.NewGenerator(Variant(0), []byte("n"), 1, 1)
	require.ErrorIs(t, err, ErrUnknownVariant)

	_, err = factory.NewGenerator(MBF1, []byte("n"), 1, 1)
	require.ErrorIs(t, err, basis.ErrNoBasisConfigured)
	_, err = factory.NewVerifier(MBF2, []byte("n"), 1, 1, Proof{0}, 0)
	require.ErrorIs(t, err, basis.ErrNoBasisConfigured)

	_, err = factory.NewGenerator(Mock, []byte("n"), 1, 0)
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewFactory(basis.Preloaded(nil, nil), WithDigest("CRC32"))
	require.Error(t, err)
}

func TestBlake3Digest(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, testFlat(t, 1<<12, 5), WithDigest("BLAKE3"))
	nonce := []byte("digest")

	for _, v := range []Variant{MBF1, MBF2} {
		gen, err := factory.NewGenerator(v, nonce, 16, 8)
		require.NoError(t, err)
		proof := run(t, gen, math.MaxInt).Proof

		ver, err := factory.NewVerifier(v, nonce, 16, 8, proof, 0)
		require.NoError(t, err)
		require.True(t, run(t, ver, math.MaxInt).Valid, v.String())
	}
}

func BenchmarkWalkHop(b *testing.B) {
	factory := newTestFactory(b, testFlat(b, 1<<20, 6))
	gen, err := factory.NewGenerator(MBF1, []byte("bench"), math.MaxUint64, math.MaxUint64)
	require.NoError(b, err)
	b.ResetTimer()
	_, err = gen.ComputeSteps(b.N)
	require.NoError(b, err)
}

func BenchmarkPermuteStep(b *testing.B) {
	factory := newTestFactory(b, nil)
	gen, err := factory.NewGenerator(MBF2, []byte("bench"), math.MaxUint64, math.MaxUint64)
	require.NoError(b, err)
	b.ResetTimer()
	_, err = gen.ComputeSteps(b.N)
	require.NoError(b, err)
}
