package mbf

import "errors"

var (
	ErrUnknownVariant = errors.New("unknown proof variant")
	ErrInvalidParams  = errors.New("invalid proof parameters")
	ErrNotFinished    = errors.New("proof computation not finished")

	// ErrMalformedProof marks a candidate proof whose shape can never verify.
	ErrMalformedProof = errors.New("malformed proof")
	// ErrStepBudgetExhausted marks a computation driven past its step ceiling.
	ErrStepBudgetExhausted = errors.New("step budget exhausted")
	// ErrNoMatch marks a replayed path or trial that does not satisfy the effort.
	ErrNoMatch = errors.New("proof does not satisfy effort")
)
