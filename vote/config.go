package vote

import (
	"github.com/spacemeshos/mbf/mbf"
)

const defaultQuantum = 1 << 16

//nolint:lll
type Config struct {
	Variant   mbf.Variant `long:"variant"    description:"Proof variant used for every block (MBF1, MBF2 or MOCK)"`
	MaxSteps  uint64      `long:"max-steps"  description:"Ceiling on the work units a single vote computation may use (0 for no limit)"`
	MaxTrials uint64      `long:"max-trials" description:"Maximum number of trials a candidate block proof may ask to replay (0 for no limit)"`
	Quantum   int         `long:"quantum"    description:"Work units performed per scheduling step"`
}

func DefaultConfig() Config {
	return Config{
		Variant: mbf.MBF2,
		Quantum: defaultQuantum,
	}
}
