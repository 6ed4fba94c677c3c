// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExponentialDecay(t *testing.T) {
	s := ExponentialDecay{Init: 1.0, Rate: 0.5, Start: 10, Every: 5, Min: 0.2}
	assert.Equal(t, 1.0, s.LearningRate(0))
	assert.Equal(t, 1.0, s.LearningRate(14))
	assert.Equal(t, 0.5, s.LearningRate(15))
	assert.Equal(t, 0.25, s.LearningRate(20))
	assert.Equal(t, 0.2, s.LearningRate(100))

	// The default controller configuration never decays in practice.
	s = ScheduleFromConfig(DefaultConfig()).(ExponentialDecay)
	assert.Equal(t, DefaultConfig().LRInit, s.LearningRate(999_999))
}

func TestCosineSchedule(t *testing.T) {
	s := CosineSchedule{Max: 1.0, Min: 0.1, Period: 10}
	assert.InDelta(t, 1.0, s.LearningRate(0), 1e-9)
	assert.InDelta(t, 0.55, s.LearningRate(5), 1e-9)
	assert.InDelta(t, 1.0, s.LearningRate(10), 1e-9) // Restarts.

	cfg := DefaultConfig()
	cfg.LRCosine = true
	cfg.LRCosinePeriod = 4
	s = ScheduleFromConfig(cfg).(CosineSchedule)
	assert.InDelta(t, cfg.LRInit*(1e-3+(1-1e-3)/2), s.LearningRate(2), 1e-12)
}

func TestOptimizers(t *testing.T) {
	params := map[string][]float64{"w": {1.0, -1.0}}
	grads := map[string][]float64{"w": {0.5, -2.0}}

	sgd := knownOptimizers["sgd"]()
	sgd.Apply(params, grads, 0.1)
	assert.InDeltaSlice(t, []float64{0.95, -0.8}, params["w"], 1e-12)

	params = map[string][]float64{"w": {1.0, -1.0}}
	opt := knownOptimizers["adam"]()
	opt.Apply(params, grads, 0.1)
	// First Adam step moves each parameter by ~learning rate against the gradient sign.
	assert.InDelta(t, 0.9, params["w"][0], 1e-2)
	assert.InDelta(t, -0.9, params["w"][1], 1e-2)
	state := opt.State()
	assert.Equal(t, 1, state.Step)

	restored := knownOptimizers["adam"]()
	assert.NoError(t, restored.Restore(state))
	assert.Equal(t, state, restored.State())
	assert.Error(t, restored.Restore(knownOptimizers["momentum"]().State()))

	mom := knownOptimizers["momentum"]()
	params = map[string][]float64{"w": {0}}
	mom.Apply(params, map[string][]float64{"w": {1}}, 1)
	mom.Apply(params, map[string][]float64{"w": {1}}, 1)
	assert.InDelta(t, -2.9, params["w"][0], 1e-12)
}
