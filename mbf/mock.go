package mbf

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// mockEngine finishes after a single step. Its proof is [effort].
type mockEngine struct {
	common

	effort    uint64
	candidate Proof
}

func (e *mockEngine) ComputeSteps(n int) (bool, error) {
	if e.finished || n <= 0 {
		return !e.finished, nil
	}
	e.steps++
	expected := Proof{e.effort}
	switch {
	case e.mode == Generating:
		e.finish(Result{Proof: expected, Valid: true})
	case slices.Equal(e.candidate, expected):
		e.finish(Result{Proof: e.candidate, Valid: true})
	default:
		e.finish(Result{Proof: e.candidate, Reason: fmt.Errorf("%w: expected %v", ErrNoMatch, expected)})
	}
	return false, nil
}
