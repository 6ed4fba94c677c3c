// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package controller

import (
	"fmt"
	"slices"

	"github.com/gomlx/enas/pkg/nas/arcs"
	"github.com/pkg/errors"
)

// NewMicro creates the built-in micro search controller: it samples a normal and a reduce cell,
// each with cfg.NumCells nodes. Every node picks two inputs (among the two cell inputs and the
// previous nodes) and one operation (out of cfg.NumBranches) for each input.
func NewMicro(cfg Config) (Controller, error) {
	numCells, numBranches := cfg.NumCells, cfg.NumBranches
	if numCells < 1 || numBranches < 1 {
		return nil, errors.Errorf("micro controller needs num_cells >= 1 and num_branches >= 1, got %d and %d",
			numCells, numBranches)
	}
	ss := &searchSpace{space: arcs.Micro}
	for _, cell := range []string{"normal", "reduce"} {
		for node := range numCells {
			for input := range 2 {
				ss.decisions = append(ss.decisions,
					decision{name: fmt.Sprintf("%s/node_%d/input_%d", cell, node, input), numChoices: node + 2, kind: kindIndex},
					decision{name: fmt.Sprintf("%s/node_%d/op_%d", cell, node, input), numChoices: numBranches, kind: kindOp})
			}
		}
	}
	arcLen := arcs.MicroArcLen(numCells)
	ss.encode = func(choices []int) arcs.Sample {
		return arcs.Sample{
			Normal: slices.Clone(arcs.Arc(choices[:arcLen])),
			Reduce: slices.Clone(arcs.Arc(choices[arcLen:])),
		}
	}
	ss.decode = func(sample arcs.Sample) ([]int, error) {
		if err := arcs.ValidateMicro(sample.Normal, numCells, numBranches); err != nil {
			return nil, errors.WithMessage(err, "normal cell")
		}
		if err := arcs.ValidateMicro(sample.Reduce, numCells, numBranches); err != nil {
			return nil, errors.WithMessage(err, "reduce cell")
		}
		return slices.Concat([]int(sample.Normal), []int(sample.Reduce)), nil
	}
	ss.skipRate = func(arcs.Sample) float64 { return 0 }
	return newPolicyController(cfg, ss)
}

// NewMacro creates the built-in general (macro) search controller: for each of the cfg.NumLayers
// layers it picks one operation (out of cfg.NumBranches) and, for every previous layer, whether to
// add a skip connection from it.
func NewMacro(cfg Config) (Controller, error) {
	numLayers, numBranches := cfg.NumLayers, cfg.NumBranches
	if numLayers < 1 || numBranches < 1 {
		return nil, errors.Errorf("macro controller needs num_layers >= 1 and num_branches >= 1, got %d and %d",
			numLayers, numBranches)
	}
	if !cfg.SearchWholeChannels {
		return nil, errors.New("macro controller only supports search_whole_channels=true")
	}
	ss := &searchSpace{space: arcs.Macro}
	for layer := range numLayers {
		ss.decisions = append(ss.decisions,
			decision{name: fmt.Sprintf("layer_%d/op", layer), numChoices: numBranches, kind: kindOp})
		for skip := range layer {
			ss.decisions = append(ss.decisions,
				decision{name: fmt.Sprintf("layer_%d/skip_%d", layer, skip), numChoices: 2, kind: kindSkip})
		}
	}
	ss.encode = func(choices []int) arcs.Sample {
		return arcs.Sample{Normal: slices.Clone(arcs.Arc(choices))}
	}
	ss.decode = func(sample arcs.Sample) ([]int, error) {
		if err := arcs.ValidateMacro(sample.Normal, numLayers, numBranches); err != nil {
			return nil, err
		}
		return slices.Clone([]int(sample.Normal)), nil
	}
	ss.skipRate = func(sample arcs.Sample) float64 {
		return arcs.SkipRate(sample.Normal, numLayers)
	}
	return newPolicyController(cfg, ss)
}
