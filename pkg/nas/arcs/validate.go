// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arcs

import "github.com/pkg/errors"

// MicroArcLen returns the length of a micro cell arc with numCells nodes.
// Each node takes 4 entries: [prev_index_1, op_1, prev_index_2, op_2].
func MicroArcLen(numCells int) int {
	return 4 * numCells
}

// MacroArcLen returns the length of a macro arc with numLayers layers.
// Layer i takes one op entry followed by i skip-connection bits.
func MacroArcLen(numLayers int) int {
	return numLayers + numLayers*(numLayers-1)/2
}

// ValidateMicro checks the shape of one micro cell arc.
// Node `n` may take as input any of the 2 cell inputs or any of the previous `n` nodes.
func ValidateMicro(arc Arc, numCells, numBranches int) error {
	if len(arc) != MicroArcLen(numCells) {
		return errors.Errorf("micro arc has %d entries, wanted %d for %d cells", len(arc), MicroArcLen(numCells), numCells)
	}
	for node := range numCells {
		entries := arc[4*node : 4*node+4]
		for ii := 0; ii < 4; ii += 2 {
			prev, op := entries[ii], entries[ii+1]
			if prev < 0 || prev >= node+2 {
				return errors.Errorf("micro arc node %d: input index %d out of range [0, %d)", node, prev, node+2)
			}
			if op < 0 || op >= numBranches {
				return errors.Errorf("micro arc node %d: op %d out of range [0, %d)", node, op, numBranches)
			}
		}
	}
	return nil
}

// ValidateMacro checks the shape of one macro arc.
func ValidateMacro(arc Arc, numLayers, numBranches int) error {
	if len(arc) != MacroArcLen(numLayers) {
		return errors.Errorf("macro arc has %d entries, wanted %d for %d layers", len(arc), MacroArcLen(numLayers), numLayers)
	}
	pos := 0
	for layer := range numLayers {
		if op := arc[pos]; op < 0 || op >= numBranches {
			return errors.Errorf("macro arc layer %d: op %d out of range [0, %d)", layer, op, numBranches)
		}
		pos++
		for skip := range layer {
			if bit := arc[pos]; bit != 0 && bit != 1 {
				return errors.Errorf("macro arc layer %d: skip connection to layer %d must be 0 or 1, got %d", layer, skip, bit)
			}
			pos++
		}
	}
	return nil
}

// SkipRate returns the fraction of skip connections enabled in a macro arc.
// It returns 0 if the arc has no skip slots.
func SkipRate(arc Arc, numLayers int) float64 {
	slots := numLayers * (numLayers - 1) / 2
	if slots == 0 {
		return 0
	}
	pos, count := 0, 0
	for layer := range numLayers {
		pos++
		for range layer {
			if pos < len(arc) && arc[pos] == 1 {
				count++
			}
			pos++
		}
	}
	return float64(count) / float64(slots)
}
