// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package controller

import "github.com/gomlx/enas/pkg/nas/arcs"

// Snapshot is the serializable state of a controller, as saved in checkpoints.
// Controllers registered by users may leave the fields they don't use empty, and store
// anything else in Extra.
type Snapshot struct {
	SearchSpace arcs.SearchSpace

	// Params by name: for the built-in controllers, the logits of each decision.
	Params map[string][]float64

	Optimizer OptimizerState

	Baseline  float64
	TrainStep int

	// Accumulated gradients not yet applied, when aggregating gradients.
	Accumulated    map[string][]float64 `json:",omitempty"`
	NumAccumulated int                  `json:",omitempty"`

	// RNG is the state of the sampler random number generator.
	RNG []byte `json:",omitempty"`

	Extra map[string]any `json:",omitempty"`
}

// NumParams returns the total number of scalar parameters in the snapshot.
func (s *Snapshot) NumParams() int {
	var n int
	for _, values := range s.Params {
		n += len(values)
	}
	return n
}
