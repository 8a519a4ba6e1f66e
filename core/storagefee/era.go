package storagefee

import (
	"github.com/holiman/uint256"

	"feepools/core/credits"
	"feepools/core/epoch"
	"feepools/core/types"
	"feepools/storage/tree"
)

const (
	// Eras is the number of eras a storage fee is spread over.
	Eras = 50
	// EpochsPerEra is the number of consecutive epochs sharing one weight.
	EpochsPerEra = epoch.PerpetualStorageEpochs / Eras
)

// eraWeights are in units of 1/100000 and decrease over time so that data
// written today pays most of its upkeep to the near-term proposers.
var eraWeights = [Eras]uint64{
	5000, 4800, 4600, 4400, 4200, 4000, 3800, 3600, 3400, 3200,
	3000, 2800, 2600, 2400, 2200, 2000, 1900, 1800, 1700, 1600,
	1500, 1400, 1300, 1200, 1100, 1000, 950, 900, 850, 800,
	750, 700, 650, 600, 550, 500, 450, 400, 350, 300,
	250, 200, 150, 100, 95, 90, 85, 80, 75, 70,
}

var eraWeightTotal = func() uint64 {
	var sum uint64
	for _, w := range eraWeights {
		sum += w
	}
	return sum
}()

// EraAmortizer spreads the integer part of a closed pool over 50 eras of 20
// epochs with decreasing weights. Each era receives floor(I*w/W) and splits
// it evenly over its epochs; the rounding residue and the fractional part go
// to the head pool.
type EraAmortizer struct {
	window epoch.Window
}

// NewEraAmortizer returns the default amortizer.
func NewEraAmortizer(window epoch.Window) *EraAmortizer {
	return &EraAmortizer{window: window}
}

func (a *EraAmortizer) Name() string { return StrategyEra }

// Plan returns the amount each pool of the window receives from integer
// credits, indexed by offset from the head, and the undistributed residue.
func (a *EraAmortizer) Plan(integer credits.Credits) ([]credits.Credits, credits.Credits) {
	amounts := make([]credits.Credits, epoch.PerpetualStorageEpochs)
	total := uint256.NewInt(integer)
	denom := uint256.NewInt(eraWeightTotal)
	var distributed credits.Credits
	for era, weight := range eraWeights {
		perEra := new(uint256.Int).Mul(total, uint256.NewInt(weight))
		perEra.Div(perEra, denom)
		perEpoch := perEra.Uint64() / EpochsPerEra
		for j := 0; j < EpochsPerEra; j++ {
			amounts[era*EpochsPerEra+j] = perEpoch
		}
		distributed += perEpoch * EpochsPerEra
	}
	return amounts, integer - distributed
}

func (a *EraAmortizer) AddAmortizeOperations(batch *tree.Batch, closed, current types.EpochIndex, tx *tree.Transaction) error {
	integer, fraction, err := drain(batch, a.window, closed, tx)
	if err != nil {
		return err
	}
	amounts, residue := a.Plan(integer)
	return distribute(batch, a.window, closed, current, amounts, fraction.Add(credits.FromCredits(residue)), tx)
}
