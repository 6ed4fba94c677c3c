// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package handoff

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/enas/pkg/nas/arcs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T, space arcs.SearchSpace) *Channel {
	c, err := New(filepath.Join(t.TempDir(), "handoff"), space)
	require.NoError(t, err)
	c.PollInterval = 10 * time.Millisecond
	return c
}

func TestPaths(t *testing.T) {
	c := &Channel{Dir: "/tmp/x", ArcPrefix: "arc_", RewardPrefix: "rew_"}
	assert.Equal(t, "/tmp/x/arc_3.txt", c.ArcPath(3))
	assert.Equal(t, "/tmp/x/rew_0.txt", c.RewardPath(0))
}

func TestSendReadArcs(t *testing.T) {
	c := newTestChannel(t, arcs.Micro)
	batch := &arcs.Batch{Space: arcs.Micro, Samples: []arcs.Sample{
		{Normal: arcs.Arc{0, 1, 1, 0}, Reduce: arcs.Arc{1, 1, 0, 2}},
	}}
	require.NoError(t, c.SendArcs(7, batch))
	contents, err := os.ReadFile(c.ArcPath(7))
	require.NoError(t, err)
	assert.Equal(t, "1\n0 1 1 0\n1 1 0 2\n", string(contents))

	// Re-sending a shorter batch must truncate the previous contents.
	batch.Samples[0] = arcs.Sample{Normal: arcs.Arc{0, 0, 0, 0}, Reduce: arcs.Arc{0, 0, 0, 0}}
	require.NoError(t, c.SendArcs(7, batch))
	got, err := c.ReadArcs(7)
	require.NoError(t, err)
	assert.Equal(t, batch, got)

	// Batch of the wrong search space.
	require.Error(t, c.SendArcs(8, &arcs.Batch{Space: arcs.Macro}))
}

func TestTryReadRewards(t *testing.T) {
	c := newTestChannel(t, arcs.Macro)
	_, found, err := c.TryReadRewards(1, 2)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SendRewards(1, []float64{0.5, 0.75}))
	rewards, found, err := c.TryReadRewards(1, 2)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []float64{0.5, 0.75}, rewards)

	// Wrong count.
	_, _, err = c.TryReadRewards(1, 3)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrIncomplete))

	// Incomplete file.
	require.NoError(t, os.WriteFile(c.RewardPath(2), []byte("3\n0.1\n"), 0644))
	_, found, err = c.TryReadRewards(2, 3)
	assert.True(t, found)
	require.ErrorIs(t, err, ErrIncomplete)

	// Garbage.
	require.NoError(t, os.WriteFile(c.RewardPath(3), []byte("1\nabc\n"), 0644))
	_, _, err = c.TryReadRewards(3, 1)
	require.Error(t, err)
}

func TestReceiveRewards(t *testing.T) {
	c := newTestChannel(t, arcs.Micro)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = c.SendRewards(4, []float64{0.1, 0.2, 0.3})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rewards, err := c.ReceiveRewards(ctx, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, rewards)
}

func TestReceiveRewardsTimeout(t *testing.T) {
	c := newTestChannel(t, arcs.Micro)
	c.Timeout = 50 * time.Millisecond
	_, err := c.ReceiveRewards(context.Background(), 0, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Timeout = 0
	_, err = c.ReceiveRewards(ctx, 0, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRemove(t *testing.T) {
	c := newTestChannel(t, arcs.Macro)
	require.NoError(t, c.SendRewards(0, []float64{1}))
	require.NoError(t, c.Remove(0))
	require.NoError(t, c.Remove(0))
	_, found, err := c.TryReadRewards(0, 1)
	require.NoError(t, err)
	assert.False(t, found)
}
