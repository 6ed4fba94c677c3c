// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/enas/pkg/nas/arcs"
	"github.com/gomlx/enas/pkg/nas/controller"
	"github.com/gomlx/enas/pkg/nas/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSnapshot(t *testing.T) *controller.Snapshot {
	cfg := controller.DefaultConfig()
	cfg.NumCells = 2
	ctrl, err := controller.New(cfg)
	require.NoError(t, err)
	s, err := ctrl.Sample()
	require.NoError(t, err)
	_, err = ctrl.TrainStep(s, 0.5)
	require.NoError(t, err)
	return ctrl.Snapshot()
}

func TestMaxCheckPointCountFromCheckpoints(t *testing.T) {
	assert.Equal(t, -1, maxCheckPointCountFromCheckpoints(nil))
	assert.Equal(t, 12, maxCheckPointCountFromCheckpoints([]string{
		"checkpoint-n0000003-20240101-101010-epoch-000003",
		"checkpoint-n0000012-20240101-101010-epoch-000010",
		"checkpoint-nXYZ-20240101-101010-epoch-000010",
		"other",
	}))
}

func TestSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	_, err := Build(dir).Keep(0).Done()
	require.Error(t, err)

	handler, err := Build(dir).Keep(2).Done()
	require.NoError(t, err)
	assert.Nil(t, handler.Latest())
	has, err := handler.HasCheckpoints()
	require.NoError(t, err)
	assert.False(t, has)
	runID := handler.RunID()
	require.NotEmpty(t, runID)

	p := params.New().SetMany(map[string]any{
		"num_epochs":    10,
		"controller_lr": 0.001,
		"search_for":    "micro",
		"sync_replicas": true,
		"layers":        []int{1, 2, 3},
		"names":         []string{"a", "b"},
		"seed":          int64(42),
	})
	snapshot := newSnapshot(t)
	for epoch := 1; epoch <= 3; epoch++ {
		require.NoError(t, handler.Save(&Checkpoint{
			Epoch:      epoch,
			Params:     SerializeParams(p),
			Controller: snapshot,
			History:    []EpochSummary{{Epoch: epoch - 1, NumSamples: 4, MeanReward: 0.5, MaxReward: 0.7}},
			Best:       &BestSample{Epoch: epoch - 1, Reward: 0.7, Sample: arcs.Sample{Normal: arcs.Arc{0, 1, 1, 2}}},
		}))
	}
	list, err := handler.ListCheckpoints()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Contains(t, list[1], "epoch-000003")
	assert.Equal(t, 3, handler.Latest().Epoch)

	// Reopening loads the latest checkpoint and keeps the run id.
	handler2, err := Build(dir).Done()
	require.NoError(t, err)
	latest := handler2.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, runID, handler2.RunID())
	assert.Equal(t, 3, latest.Epoch)
	assert.Equal(t, snapshot.Params, latest.Controller.Params)
	assert.Equal(t, arcs.Arc{0, 1, 1, 2}, latest.Best.Sample.Normal)
	assert.Equal(t, 2, latest.History[0].Epoch)

	// Parameters recover their types.
	p2 := params.New().SetMany(map[string]any{
		"num_epochs":    150,
		"controller_lr": 0.1,
		"search_for":    "macro",
		"sync_replicas": false,
		"layers":        []int{},
		"names":         []string{},
		"seed":          int64(0),
	})
	latest.RestoreParams(p2, "search_for")
	assert.Equal(t, 10, params.GetOr(p2, "num_epochs", 0))
	assert.Equal(t, 0.001, params.GetOr(p2, "controller_lr", 0.0))
	assert.Equal(t, "macro", params.GetOr(p2, "search_for", ""))
	assert.Equal(t, true, params.GetOr(p2, "sync_replicas", false))
	assert.Equal(t, []int{1, 2, 3}, params.GetOr[[]int](p2, "layers", nil))
	assert.Equal(t, []string{"a", "b"}, params.GetOr[[]string](p2, "names", nil))
	assert.Equal(t, int64(42), params.GetOr(p2, "seed", int64(0)))

	// Saving continues the numbering.
	require.NoError(t, handler2.Save(&Checkpoint{Epoch: 4, Controller: snapshot}))
	list, err = handler2.ListCheckpoints()
	require.NoError(t, err)
	require.Len(t, list, 1) // Default Keep is 1.
	assert.Contains(t, list[0], "checkpoint-n0000003-")
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)

	bad := filepath.Join(dir, "checkpoint-n0000000-20240101-101010-epoch-000001.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"Epoch": 1}`), 0o644))
	_, err = LoadFile(bad)
	require.Error(t, err)

	// A broken checkpoint prevents the handler from starting.
	_, err = Build(dir).Done()
	require.Error(t, err)
}
