// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/gomlx/enas/pkg/nas/arcs"
	"github.com/gomlx/enas/pkg/nas/checkpoints"
	"github.com/gomlx/enas/pkg/nas/controller"
	"github.com/gomlx/enas/pkg/nas/handoff"
	"github.com/gomlx/enas/pkg/nas/params"
	"github.com/gomlx/enas/pkg/nas/tuner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanizeInt(t *testing.T) {
	assert.Equal(t, "0", humanizeInt(0))
	assert.Equal(t, "999", humanizeInt(999))
	assert.Equal(t, "1_000", humanizeInt(1000))
	assert.Equal(t, "12_345_678", humanizeInt(int64(12345678)))
	assert.Equal(t, "-1_234", humanizeInt(int32(-1234)))
	assert.Equal(t, "255", humanizeInt(uint8(255)))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "2.35ms", FormatDuration(2345678*time.Nanosecond))
	assert.Equal(t, "0.00s", FormatDuration(0))
	assert.Equal(t, "59.99s", FormatDuration(59990*time.Millisecond))
	assert.Equal(t, "1m1s", FormatDuration(61400*time.Millisecond))
	assert.Equal(t, "1h2m3s", FormatDuration(time.Hour+2*time.Minute+3*time.Second+200*time.Millisecond))
}

func TestTables(t *testing.T) {
	p := params.New().Set("num_epochs", 10).Set("controller_lr", 0.0035)
	out := ParamsTable(p).String()
	assert.Contains(t, out, "num_epochs")
	assert.Contains(t, out, "0.0035")
	out = ParamsTable(p, "num_epochs").String()
	assert.NotContains(t, out, "controller_lr")

	out = HistoryTable([]checkpoints.EpochSummary{
		{Epoch: 1234, NumSamples: 300, MeanReward: 0.5, MaxReward: 0.75, Stats: controller.Stats{Step: 30}},
	}).String()
	assert.Contains(t, out, "1_234")
	assert.Contains(t, out, "0.7500")
}

func TestStatsRows(t *testing.T) {
	ctrl, err := controller.New(controller.DefaultConfig())
	require.NoError(t, err)
	ch, err := handoff.New(t.TempDir(), arcs.Micro)
	require.NoError(t, err)
	cfg := tuner.ConfigFromParams(tuner.DefaultParams())
	tn, err := tuner.New(ctrl, ch, cfg)
	require.NoError(t, err)
	loop := tuner.NewLoop(tn)
	loop.EndEpoch = 1500

	rows := StatsRows(loop, controller.Stats{Step: 12000, Loss: 1.5, ChildAcc: 0.42})
	require.Len(t, rows, 11)
	assert.Equal(t, [2]string{"Epoch", "0 of 1_500"}, rows[0])
	assert.Equal(t, [2]string{"Controller step", "12_000"}, rows[1])
	assert.Equal(t, [2]string{"Loss", "1.500"}, rows[3])
	assert.Equal(t, [2]string{"Child acc", "0.42"}, rows[9])
	assert.Equal(t, [2]string{"Epoch rate", "-"}, rows[10])

	loop.EpochDurations = []time.Duration{20 * time.Minute, 40 * time.Minute}
	rows = StatsRows(loop, controller.Stats{})
	assert.Equal(t, [2]string{"Epoch rate", "2.0 epochs/h"}, rows[10])
	assert.Equal(t, [2]string{"Median epoch duration", "40m0s"}, rows[2])
}

func TestStopProgressBarAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	Output = &buf
	defer func() { Output = os.Stdout }()

	ctrl, err := controller.New(controller.DefaultConfig())
	require.NoError(t, err)
	ch, err := handoff.New(t.TempDir(), arcs.Micro)
	require.NoError(t, err)
	tn, err := tuner.New(ctrl, ch, tuner.ConfigFromParams(tuner.DefaultParams()))
	require.NoError(t, err)
	loop := tuner.NewLoop(tn)
	AttachProgressBar(loop)

	// A cancelled context fails the loop after the OnStart hooks, so OnEnd is never called.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, loop.Run(ctx), context.Canceled)

	StopProgressBar(loop)
	StopProgressBar(loop)
	assert.Contains(t, buf.String(), "\x1b[?25h") // Cursor shown again.

	// Loops without a progress bar are ignored.
	StopProgressBar(tuner.NewLoop(tn))
}
