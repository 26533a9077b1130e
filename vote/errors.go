package vote

import (
	"errors"
	"fmt"
)

var (
	ErrNotFinished = errors.New("vote computation not finished")
	ErrWrongMode   = errors.New("operation not supported in this mode")
	ErrNoBlocks    = errors.New("vote has no blocks")
	// ErrContentExhausted marks a candidate with more blocks than the content covers.
	ErrContentExhausted = errors.New("content exhausted before last block")
	// ErrBlockCountMismatch marks a candidate that ends before the content does.
	ErrBlockCountMismatch = errors.New("content continues past last block")
	ErrContentStalled     = errors.New("content hasher made no progress")
	// ErrChallengeMismatch marks a candidate answering a challenge other than the one issued.
	ErrChallengeMismatch = errors.New("vote answers a different challenge")
)

// ErrNonceMismatch is the invalidity reason of a candidate carrying a nonce
// other than the challenger's.
type ErrNonceMismatch struct {
	Expected []byte
	Actual   []byte
}

func (e ErrNonceMismatch) Error() string {
	return fmt.Sprintf("nonce mismatch: expected %x, actual %x", e.Expected, e.Actual)
}

func (e ErrNonceMismatch) Unwrap() error {
	return ErrChallengeMismatch
}

// ErrEffortMismatch is the invalidity reason of a candidate carrying an
// effort other than the challenger's.
type ErrEffortMismatch struct {
	Expected uint64
	Actual   uint64
}

func (e ErrEffortMismatch) Error() string {
	return fmt.Sprintf("effort mismatch: expected %d, actual %d", e.Expected, e.Actual)
}

func (e ErrEffortMismatch) Unwrap() error {
	return ErrChallengeMismatch
}

// ErrBlockMismatch is the invalidity reason of a block whose recomputed
// content hash differs from the candidate's.
type ErrBlockMismatch struct {
	Index    int
	Expected []byte
	Actual   []byte
}

func (e ErrBlockMismatch) Error() string {
	return fmt.Sprintf("block %d hash mismatch: expected %x, actual %x", e.Index, e.Expected, e.Actual)
}

// ErrProofRejected is the invalidity reason of a block whose proof did not replay.
type ErrProofRejected struct {
	Index  int
	Reason error
}

func (e ErrProofRejected) Error() string {
	return fmt.Sprintf("block %d proof rejected: %v", e.Index, e.Reason)
}

func (e ErrProofRejected) Unwrap() error {
	return e.Reason
}
