// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package controller

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/gomlx/enas/pkg/nas/arcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig(searchFor string) Config {
	cfg := DefaultConfig()
	cfg.SearchFor = searchFor
	cfg.NumCells = 3
	cfg.NumLayers = 4
	cfg.NumBranches = 4
	return cfg
}

func TestNew(t *testing.T) {
	assert.Equal(t, []string{"macro", "micro"}, Registered())

	c, err := New(smallConfig("micro"))
	require.NoError(t, err)
	assert.Equal(t, arcs.Micro, c.SearchSpace())

	// Anything other than "micro" falls back to the general (macro) controller.
	c, err = New(smallConfig("general"))
	require.NoError(t, err)
	assert.Equal(t, arcs.Macro, c.SearchSpace())
	c, err = New(smallConfig("Micro"))
	require.NoError(t, err)
	assert.Equal(t, arcs.Macro, c.SearchSpace())

	require.Panics(t, func() { Register("micro", NewMicro) })

	cfg := smallConfig("micro")
	cfg.OptimAlgo = "rmsprop"
	_, err = New(cfg)
	require.Error(t, err)

	cfg = smallConfig("macro")
	cfg.SearchWholeChannels = false
	_, err = New(cfg)
	require.Error(t, err)

	cfg = smallConfig("micro")
	cfg.UseCritic = true
	_, err = New(cfg)
	require.Error(t, err)

	cfg = smallConfig("micro")
	cfg.BLDec = 1
	_, err = New(cfg)
	require.Error(t, err)
}

func TestSampleShapes(t *testing.T) {
	micro, err := New(smallConfig("micro"))
	require.NoError(t, err)
	macro, err := New(smallConfig("macro"))
	require.NoError(t, err)
	for range 50 {
		s, err := micro.Sample()
		require.NoError(t, err)
		require.NoError(t, arcs.ValidateMicro(s.Normal, 3, 4))
		require.NoError(t, arcs.ValidateMicro(s.Reduce, 3, 4))

		s, err = macro.Sample()
		require.NoError(t, err)
		require.NoError(t, arcs.ValidateMacro(s.Normal, 4, 4))
		assert.Nil(t, s.Reduce)
	}
}

func TestSampleDeterministic(t *testing.T) {
	c1, err := New(smallConfig("micro"))
	require.NoError(t, err)
	c2, err := New(smallConfig("micro"))
	require.NoError(t, err)
	for range 10 {
		s1, _ := c1.Sample()
		s2, _ := c2.Sample()
		assert.Equal(t, s1, s2)
	}
}

func TestTrainStepLearns(t *testing.T) {
	cfg := smallConfig("micro")
	cfg.TanhConstant = 0
	cfg.EntropyWeight = 0
	cfg.BLDec = 0.9
	cfg.LRInit = 0.05
	ctrl, err := New(cfg)
	require.NoError(t, err)
	pc := ctrl.(*policyController)

	target := decision{name: "normal/node_0/op_0", numChoices: 4, kind: kindOp}
	probsBefore, _ := pc.probabilities(target)
	for range 400 {
		s, err := ctrl.Sample()
		require.NoError(t, err)
		reward := 0.0
		if s.Normal[1] == 2 {
			reward = 1.0
		}
		stats, err := ctrl.TrainStep(s, reward)
		require.NoError(t, err)
		require.False(t, math.IsNaN(stats.Loss))
	}
	probsAfter, _ := pc.probabilities(target)
	assert.Greater(t, probsAfter[2], probsBefore[2]+0.2, "probability of the rewarded op should increase")
}

func TestTrainStepStats(t *testing.T) {
	cfg := smallConfig("macro")
	cfg.L2Reg = 1e-4
	cfg.GradBound = 0.5
	ctrl, err := New(cfg)
	require.NoError(t, err)
	s, err := ctrl.Sample()
	require.NoError(t, err)
	stats, err := ctrl.TrainStep(s, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Step)
	assert.Equal(t, 0.8, stats.ChildAcc)
	assert.Greater(t, stats.ValidAcc, 0.8) // Includes the entropy bonus.
	assert.Greater(t, stats.Entropy, 0.0)
	assert.InDelta(t, (1-cfg.BLDec)*stats.ValidAcc, stats.Baseline, 1e-9)
	assert.InDelta(t, cfg.LRInit, stats.LearningRate, 1e-12)
	assert.Equal(t, arcs.SkipRate(s.Normal, cfg.NumLayers), stats.SkipRate)
	assert.True(t, strings.HasPrefix(stats.String(), "ctrl_step=1 "), stats.String())
	assert.Contains(t, stats.String(), "child acc=0.80")

	// Invalid samples and rewards.
	_, err = ctrl.TrainStep(arcs.Sample{Normal: arcs.Arc{0}}, 0.5)
	require.Error(t, err)
	_, err = ctrl.TrainStep(s, math.NaN())
	require.Error(t, err)
}

func TestGradientAggregation(t *testing.T) {
	cfg := smallConfig("micro")
	cfg.SyncReplicas = true
	cfg.NumAggregate = 3
	ctrl, err := New(cfg)
	require.NoError(t, err)
	var steps []int
	for range 7 {
		s, _ := ctrl.Sample()
		stats, err := ctrl.TrainStep(s, 0.5)
		require.NoError(t, err)
		steps = append(steps, stats.Step)
	}
	assert.Equal(t, []int{0, 0, 1, 1, 1, 2, 2}, steps)
}

func TestSnapshotRestore(t *testing.T) {
	cfg := smallConfig("micro")
	cfg.SyncReplicas = true
	cfg.NumAggregate = 2
	c1, err := New(cfg)
	require.NoError(t, err)
	for range 5 {
		s, _ := c1.Sample()
		_, err = c1.TrainStep(s, 0.3)
		require.NoError(t, err)
	}

	// Round trip through JSON, as checkpoints do.
	data, err := json.Marshal(c1.Snapshot())
	require.NoError(t, err)
	var snapshot *Snapshot
	require.NoError(t, json.Unmarshal(data, &snapshot))
	assert.Equal(t, 1, snapshot.NumAccumulated)
	assert.Equal(t, 84, snapshot.NumParams()) // 2 cells x (12 + 14 + 16) logits.

	cfg.Seed = 17 // Restoring overrides the seed.
	c2, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c2.Restore(snapshot))
	for range 5 {
		s1, _ := c1.Sample()
		s2, _ := c2.Sample()
		require.Equal(t, s1, s2)
		st1, err := c1.TrainStep(s1, 0.6)
		require.NoError(t, err)
		st2, err := c2.TrainStep(s2, 0.6)
		require.NoError(t, err)
		require.Equal(t, st1, st2)
	}

	// Snapshot of a different search space or shape.
	macro, err := New(smallConfig("macro"))
	require.NoError(t, err)
	require.Error(t, macro.Restore(snapshot))
	cfg.NumCells = 4
	c3, err := New(cfg)
	require.NoError(t, err)
	require.Error(t, c3.Restore(snapshot))
}
