package vote

import (
	"fmt"

	"github.com/spacemeshos/mbf/mbf"
)

// Phase names the state a vote computation is in.
type Phase uint8

const (
	PhaseFinished Phase = iota
	PhaseStartingGeneration
	PhaseStartingVerification
	PhaseFirstBlockProofGeneration
	PhaseBlockHashGeneration
	PhaseBlockProofGeneration
	PhaseFirstBlockProofVerification
	PhaseBlockHashVerification
	PhaseBlockProofVerification
	PhaseBad
)

var phaseNames = [...]string{
	PhaseFinished:                    "Finished",
	PhaseStartingGeneration:          "StartingGeneration",
	PhaseStartingVerification:        "StartingVerification",
	PhaseFirstBlockProofGeneration:   "FirstBlockProofGeneration",
	PhaseBlockHashGeneration:         "BlockHashGeneration",
	PhaseBlockProofGeneration:        "BlockProofGeneration",
	PhaseFirstBlockProofVerification: "FirstBlockProofVerification",
	PhaseBlockHashVerification:       "BlockHashVerification",
	PhaseBlockProofVerification:      "BlockProofVerification",
	PhaseBad:                         "Bad",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// state is one of the structs below; each carries only the data its phase needs.
type state interface {
	phase() Phase
}

type startingGeneration struct{}

type startingVerification struct{}

type firstBlockProofGeneration struct {
	engine mbf.Engine
}

type blockProofGeneration struct {
	index  int
	engine mbf.Engine
}

type blockHashGeneration struct {
	index     int
	proof     mbf.Proof
	remaining uint64
}

type firstBlockProofVerification struct {
	engine mbf.Engine
}

type blockProofVerification struct {
	index  int
	engine mbf.Engine
}

type blockHashVerification struct {
	index     int
	remaining uint64
}

type finished struct{}

type bad struct {
	err error
}

func (startingGeneration) phase() Phase          { return PhaseStartingGeneration }
func (startingVerification) phase() Phase        { return PhaseStartingVerification }
func (firstBlockProofGeneration) phase() Phase   { return PhaseFirstBlockProofGeneration }
func (blockProofGeneration) phase() Phase        { return PhaseBlockProofGeneration }
func (blockHashGeneration) phase() Phase         { return PhaseBlockHashGeneration }
func (firstBlockProofVerification) phase() Phase { return PhaseFirstBlockProofVerification }
func (blockProofVerification) phase() Phase      { return PhaseBlockProofVerification }
func (blockHashVerification) phase() Phase       { return PhaseBlockHashVerification }
func (finished) phase() Phase                    { return PhaseFinished }
func (bad) phase() Phase                         { return PhaseBad }

// blockLength is the nominal length of block i: block 0 is a single byte and
// every following block doubles.
func blockLength(index int) uint64 {
	return uint64(1) << uint(index)
}
