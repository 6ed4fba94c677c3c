// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package handoff implements the file-based protocol between the architecture controller and the
// separate process that trains the sampled child networks.
//
// For each epoch the controller writes `<dir>/<arc_prefix><epoch>.txt` (see package arcs for the
// format) and then waits for the trainer to write `<dir>/<reward_prefix><epoch>.txt`: a count line
// followed by one validation accuracy per line, one per sampled architecture.
//
// Writers hold an exclusive flock while writing and readers a shared one, so neither side
// observes a partially written file.
package handoff

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gomlx/enas/pkg/nas/arcs"
	"github.com/gomlx/enas/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// DefaultArcPrefix is the file prefix of the arcs files written by the controller.
	DefaultArcPrefix = "controller_arcs_"

	// DefaultRewardPrefix is the file prefix of the rewards files written by the child trainer.
	DefaultRewardPrefix = "child_rewards_"

	// DefaultPollInterval is used when the file watcher misses events or is not available.
	DefaultPollInterval = 2 * time.Second

	fileSuffix = ".txt"
)

// ErrIncomplete is returned when a rewards file holds fewer values than its count line declares.
var ErrIncomplete = errors.New("rewards file incomplete")

// Channel reads and writes the hand-off files of one experiment.
//
// The public attributes can be changed before use, but not concurrently with it.
type Channel struct {
	// Dir where the hand-off files live.
	Dir string

	// ArcPrefix and RewardPrefix of the files, the epoch number and ".txt" are appended to them.
	ArcPrefix, RewardPrefix string

	// Space of the architectures exchanged.
	Space arcs.SearchSpace

	// PollInterval is the maximum time between checks of the rewards file.
	PollInterval time.Duration

	// Timeout for ReceiveRewards. If 0 it waits until the context is cancelled.
	Timeout time.Duration
}

// New creates a Channel in dir with the default prefixes. dir is created if it doesn't exist.
func New(dir string, space arcs.SearchSpace) (*Channel, error) {
	dir, err := fsutil.PrepareDir(dir)
	if err != nil {
		return nil, err
	}
	return &Channel{
		Dir:          dir,
		ArcPrefix:    DefaultArcPrefix,
		RewardPrefix: DefaultRewardPrefix,
		Space:        space,
		PollInterval: DefaultPollInterval,
	}, nil
}

// String implements fmt.Stringer.
func (c *Channel) String() string {
	return fmt.Sprintf("handoff.Channel(%q, %s)", c.Dir, c.Space)
}

// ArcPath returns the path of the arcs file for the epoch.
func (c *Channel) ArcPath(epoch int) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s%d%s", c.ArcPrefix, epoch, fileSuffix))
}

// RewardPath returns the path of the rewards file for the epoch.
func (c *Channel) RewardPath(epoch int) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s%d%s", c.RewardPrefix, epoch, fileSuffix))
}

// SendArcs writes the batch of architectures for the epoch, under an exclusive lock.
func (c *Channel) SendArcs(epoch int, batch *arcs.Batch) error {
	if batch.Space != c.Space {
		return errors.Errorf("%s: cannot send a batch of %s arcs", c, batch.Space)
	}
	filePath := c.ArcPath(epoch)
	err := writeLocked(filePath, func(f *fsutil.LockedFile) error {
		return batch.Encode(f)
	})
	if err != nil {
		return errors.WithMessagef(err, "%s: sending arcs of epoch %d", c, epoch)
	}
	klog.V(1).Infof("%s: sent %d arcs to %q", c, batch.Len(), filePath)
	return nil
}

// ReadArcs reads the batch of architectures of the epoch, under a shared lock.
func (c *Channel) ReadArcs(epoch int) (*arcs.Batch, error) {
	f, err := fsutil.OpenShared(c.ArcPath(epoch))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	batch, err := arcs.Decode(f, c.Space)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: reading arcs of epoch %d", c, epoch)
	}
	return batch, nil
}

// SendRewards writes the rewards (validation accuracies) of the epoch, under an exclusive lock.
// It is what the child trainer does, and it is used by tests and tools.
func (c *Channel) SendRewards(epoch int, rewards []float64) error {
	err := writeLocked(c.RewardPath(epoch), func(f *fsutil.LockedFile) error {
		w := bufio.NewWriter(f)
		if _, err := fmt.Fprintf(w, "%d\n", len(rewards)); err != nil {
			return err
		}
		for _, r := range rewards {
			if _, err := fmt.Fprintln(w, strconv.FormatFloat(r, 'g', -1, 64)); err != nil {
				return err
			}
		}
		return w.Flush()
	})
	return errors.WithMessagef(err, "%s: sending rewards of epoch %d", c, epoch)
}

// TryReadRewards reads the rewards file of the epoch if it exists.
//
// It returns found=false if the file doesn't exist yet, and ErrIncomplete (wrapped) if it holds
// fewer values than declared. If want >= 0, the declared count must match it.
func (c *Channel) TryReadRewards(epoch, want int) (rewards []float64, found bool, err error) {
	filePath := c.RewardPath(epoch)
	exists, err := fsutil.FileExists(filePath)
	if err != nil || !exists {
		return nil, false, err
	}
	f, err := fsutil.OpenShared(filePath)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = f.Close() }()
	rewards, err = decodeRewards(f, want)
	if err != nil {
		return nil, true, errors.WithMessagef(err, "%s: reading %q", c, filePath)
	}
	return rewards, true, nil
}

// ReceiveRewards blocks until the rewards of the epoch are available and returns them.
// It expects exactly `want` values.
//
// It watches Dir for changes and also polls every PollInterval. It returns early if ctx is
// cancelled or if Timeout is set and expires.
func (c *Channel) ReceiveRewards(ctx context.Context, epoch, want int) ([]float64, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	filePath := c.RewardPath(epoch)
	var events <-chan fsnotify.Event
	var watchErrors <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer func() { _ = watcher.Close() }()
		if err = watcher.Add(c.Dir); err == nil {
			events, watchErrors = watcher.Events, watcher.Errors
		}
	}
	if err != nil {
		klog.Warningf("%s: file watcher not available, falling back to polling every %s: %v", c, c.PollInterval, err)
	}
	pollInterval := c.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	klog.V(1).Infof("%s: waiting for rewards in %q", c, filePath)
	for {
		rewards, found, err := c.TryReadRewards(epoch, want)
		if err == nil && found {
			return rewards, nil
		}
		if err != nil && !errors.Is(err, ErrIncomplete) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "%s: waiting for rewards of epoch %d", c, epoch)
		case event, ok := <-events:
			if !ok {
				events = nil
			} else if filepath.Clean(event.Name) != filePath {
				continue
			}
		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
			} else {
				klog.Warningf("%s: file watcher error: %v", c, err)
			}
		case <-ticker.C:
		}
	}
}

func decodeRewards(f *fsutil.LockedFile, want int) ([]float64, error) {
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading rewards")
	}
	if len(lines) == 0 {
		return nil, errors.Wrap(ErrIncomplete, "missing count line")
	}
	count, err := strconv.Atoi(lines[0])
	if err != nil || count < 0 {
		return nil, errors.Errorf("invalid rewards count line %q", lines[0])
	}
	if want >= 0 && count != want {
		return nil, errors.Errorf("rewards file declares %d rewards, wanted %d", count, want)
	}
	values := lines[1:]
	if len(values) < count {
		return nil, errors.Wrapf(ErrIncomplete, "got %d of %d rewards", len(values), count)
	}
	if len(values) > count {
		return nil, errors.Errorf("rewards file declares %d rewards, but has %d", count, len(values))
	}
	rewards := make([]float64, count)
	for ii, v := range values {
		rewards[ii], err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid reward #%d", ii)
		}
	}
	return rewards, nil
}

func writeLocked(filePath string, writeFn func(f *fsutil.LockedFile) error) (err error) {
	f, err := fsutil.OpenExclusive(filePath)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
	}()
	if err = f.Rewrite(); err != nil {
		return err
	}
	return writeFn(f)
}

// Remove deletes the hand-off files of the epoch, ignoring files that don't exist.
func (c *Channel) Remove(epoch int) error {
	for _, filePath := range []string{c.ArcPath(epoch), c.RewardPath(epoch)} {
		if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "%s: removing %q", c, filePath)
		}
	}
	return nil
}
