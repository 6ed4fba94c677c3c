// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package controller

import (
	"github.com/gomlx/enas/pkg/nas/arcs"
	"github.com/pkg/errors"
)

// Config holds the hyperparameters of a controller.
//
// The LSTM* fields configure controllers backed by an LSTM sampler, the built-in controllers
// accept and ignore them. Same for OutFilters and NumReplicas, which only matter to the child
// networks and to distributed training respectively.
type Config struct {
	// SearchFor selects the controller: "micro" or "macro".
	SearchFor string

	SearchWholeChannels bool

	// SkipTarget is the desired fraction of skip connections (macro search), and SkipWeight the
	// weight of the KL penalty pulling the skip probabilities towards it. SkipWeight <= 0 disables it.
	SkipTarget, SkipWeight float64

	NumCells, NumLayers, NumBranches, OutFilters int

	LSTMSize, LSTMNumLayers int
	LSTMKeepProb            float64

	// TanhConstant squashes the logits to TanhConstant*tanh(logits), if > 0.
	// OpTanhReduce divides TanhConstant for the operation decisions.
	TanhConstant, OpTanhReduce float64

	// Temperature divides the logits before sampling, if > 0.
	Temperature float64

	// Learning rate: LRInit decays by LRDecRate every LRDecEvery steps (staircase), starting
	// after LRDecStart steps. LRDecMin is the lower bound.
	LRInit     float64
	LRDecStart int
	LRDecEvery int
	LRDecRate  float64
	LRDecMin   float64

	// LRCosine replaces the staircase decay by a cosine schedule with period LRCosinePeriod steps,
	// going from LRInit down to LRDecMin.
	LRCosine       bool
	LRCosinePeriod int

	L2Reg         float64
	EntropyWeight float64

	// BLDec is the decay of the exponential moving average of the rewards used as a baseline.
	BLDec float64

	UseCritic bool

	// OptimAlgo is one of "adam", "sgd" or "momentum".
	OptimAlgo string

	// GradBound clips the gradients by their global norm, if > 0.
	GradBound float64

	// SyncReplicas aggregates the gradients of NumAggregate train steps before applying them.
	SyncReplicas bool
	NumAggregate int
	NumReplicas  int

	// Seed of the sampler random number generator.
	Seed uint64
}

// DefaultConfig returns the default hyperparameters: the ones used by the cifar10 micro search.
func DefaultConfig() Config {
	return Config{
		SearchFor:           string(arcs.Micro),
		SearchWholeChannels: true,
		SkipTarget:          0.4,
		SkipWeight:          0.8,
		NumCells:            5,
		NumLayers:           6,
		NumBranches:         5,
		OutFilters:          20,
		LSTMSize:            64,
		LSTMNumLayers:       1,
		LSTMKeepProb:        1.0,
		TanhConstant:        1.10,
		OpTanhReduce:        2.5,
		Temperature:         0,
		LRInit:              0.0035,
		LRDecStart:          0,
		LRDecEvery:          1_000_000,
		LRDecRate:           0.1,
		L2Reg:               0,
		EntropyWeight:       0.0001,
		BLDec:               0.99,
		UseCritic:           false,
		OptimAlgo:           "adam",
		GradBound:           0,
		SyncReplicas:        false,
		NumAggregate:        1,
		NumReplicas:         1,
		Seed:                1,
	}
}

// Validate the configuration.
func (cfg *Config) Validate() error {
	switch {
	case cfg.NumBranches < 1:
		return errors.Errorf("controller needs num_branches >= 1, got %d", cfg.NumBranches)
	case arcs.SearchSpaceFromName(cfg.SearchFor) == arcs.Micro && cfg.NumCells < 1:
		return errors.Errorf("micro controller needs num_cells >= 1, got %d", cfg.NumCells)
	case arcs.SearchSpaceFromName(cfg.SearchFor) == arcs.Macro && cfg.NumLayers < 1:
		return errors.Errorf("macro controller needs num_layers >= 1, got %d", cfg.NumLayers)
	case cfg.LRInit <= 0:
		return errors.Errorf("controller learning rate must be > 0, got %g", cfg.LRInit)
	case cfg.BLDec < 0 || cfg.BLDec >= 1:
		return errors.Errorf("controller baseline decay must be in [0, 1), got %g", cfg.BLDec)
	case cfg.SkipWeight > 0 && (cfg.SkipTarget <= 0 || cfg.SkipTarget >= 1):
		return errors.Errorf("controller skip_target must be in (0, 1) when skip_weight > 0, got %g", cfg.SkipTarget)
	case cfg.LRCosine && cfg.LRCosinePeriod <= 0:
		return errors.Errorf("controller cosine learning rate schedule requires a period > 0, got %d", cfg.LRCosinePeriod)
	case cfg.SyncReplicas && cfg.NumAggregate < 1:
		return errors.Errorf("controller num_aggregate must be >= 1, got %d", cfg.NumAggregate)
	}
	if _, found := knownOptimizers[cfg.OptimAlgo]; !found {
		return errors.Errorf("unknown controller optimizer %q", cfg.OptimAlgo)
	}
	return nil
}
