package storagefee

import (
	"fmt"

	"feepools/core/credits"
	"feepools/core/epoch"
	"feepools/core/types"
	"feepools/storage/tree"
)

// UniformAmortizer splits the integer part of a closed pool evenly over the
// first Epochs pools of the window. The residue and the fractional part go to
// the head pool.
type UniformAmortizer struct {
	window epoch.Window
	epochs int
}

// NewUniformAmortizer validates epochs against the window width.
func NewUniformAmortizer(window epoch.Window, epochs int) (*UniformAmortizer, error) {
	if epochs < 1 || epochs > epoch.PerpetualStorageEpochs {
		return nil, fmt.Errorf("storagefee: uniform epochs must be within [1, %d], got %d", epoch.PerpetualStorageEpochs, epochs)
	}
	return &UniformAmortizer{window: window, epochs: epochs}, nil
}

func (a *UniformAmortizer) Name() string { return StrategyUniform }

// Epochs returns the number of pools fees are spread over.
func (a *UniformAmortizer) Epochs() int { return a.epochs }

func (a *UniformAmortizer) AddAmortizeOperations(batch *tree.Batch, closed, current types.EpochIndex, tx *tree.Transaction) error {
	integer, fraction, err := drain(batch, a.window, closed, tx)
	if err != nil {
		return err
	}
	per := integer / credits.Credits(a.epochs)
	amounts := make([]credits.Credits, a.epochs)
	for i := range amounts {
		amounts[i] = per
	}
	residue := integer - per*credits.Credits(a.epochs)
	return distribute(batch, a.window, closed, current, amounts, fraction.Add(credits.FromCredits(residue)), tx)
}
