// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tuner implements the ENAS tuner: every epoch it samples a batch of architectures from the
// controller, hands them to the child trainer process, waits for their validation accuracies and
// trains the controller with them.
//
// The Tuner implements each of these operations, and Loop runs them for all epochs, calling the
// hooks attached to it (progress-bar, checkpoints, etc.).
package tuner

import (
	"context"
	"math"

	"github.com/gomlx/enas/pkg/nas/arcs"
	"github.com/gomlx/enas/pkg/nas/checkpoints"
	"github.com/gomlx/enas/pkg/nas/controller"
	"github.com/gomlx/enas/pkg/nas/handoff"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// Tuner samples architectures with a controller and trains it with the rewards received
// through the hand-off channel.
//
// It is not safe for concurrent use.
type Tuner struct {
	cfg     Config
	ctrl    controller.Controller
	channel *handoff.Channel

	// epoch is the next epoch to be generated.
	epoch int

	// pending holds the batches generated and not yet rewarded, per parameter id.
	pending map[int]pendingTrial

	history   []checkpoints.EpochSummary
	best      *checkpoints.BestSample
	lastStats controller.Stats
}

type pendingTrial struct {
	epoch int
	batch *arcs.Batch
}

// New creates a Tuner for the given controller and hand-off channel.
func New(ctrl controller.Controller, channel *handoff.Channel, cfg Config) (*Tuner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ctrl.SearchSpace() != channel.Space {
		return nil, errors.Errorf("controller searches %q architectures, but hand-off channel %s is for %q",
			ctrl.SearchSpace(), channel, channel.Space)
	}
	klog.V(1).Infof("child total steps per epoch: %d", cfg.ChildTotalSteps())
	klog.V(1).Infof("controller total steps per epoch: %d", cfg.ControllerTotalSteps())
	return &Tuner{
		cfg:     cfg,
		ctrl:    ctrl,
		channel: channel,
		pending: make(map[int]pendingTrial),
	}, nil
}

// Config returns the tuner configuration.
func (t *Tuner) Config() Config { return t.cfg }

// Controller used by the tuner.
func (t *Tuner) Controller() controller.Controller { return t.ctrl }

// Channel used to communicate with the child trainer.
func (t *Tuner) Channel() *handoff.Channel { return t.channel }

// Epoch returns the number of epochs generated so far, which is also the next epoch to be generated.
func (t *Tuner) Epoch() int { return t.epoch }

// History returns the summaries of the epochs finished so far.
func (t *Tuner) History() []checkpoints.EpochSummary { return t.history }

// Best returns the best architecture seen so far, or nil if no rewards were received yet.
func (t *Tuner) Best() *checkpoints.BestSample { return t.best }

// LastStats returns the stats of the latest controller train step.
func (t *Tuner) LastStats() controller.Stats { return t.lastStats }

// SampleBatch samples n architectures from the controller.
func (t *Tuner) SampleBatch(n int) (*arcs.Batch, error) {
	batch := &arcs.Batch{Space: t.ctrl.SearchSpace(), Samples: make([]arcs.Sample, 0, n)}
	for range n {
		sample, err := t.ctrl.Sample()
		if err != nil {
			return nil, errors.WithMessagef(err, "sampling architecture #%d of %d", len(batch.Samples), n)
		}
		batch.Samples = append(batch.Samples, sample)
	}
	return batch, nil
}

// GenerateParameters samples the architectures of the next epoch and advances the epoch counter.
// The batch is kept until its results are received with ReceiveTrialResult.
//
// It returns the epoch the batch belongs to.
func (t *Tuner) GenerateParameters(parameterID int) (epoch int, batch *arcs.Batch, err error) {
	batch, err = t.SampleBatch(t.cfg.ControllerTotalSteps())
	if err != nil {
		return 0, nil, err
	}
	epoch = t.epoch
	t.pending[parameterID] = pendingTrial{epoch: epoch, batch: batch}
	t.epoch++
	return epoch, batch, nil
}

// SendArcs writes the batch for the child trainer.
//
// Rewards left for the epoch by a previous run (or by a run interrupted before its checkpoint)
// belong to other architectures, so the hand-off files of the epoch are removed first.
func (t *Tuner) SendArcs(epoch int, batch *arcs.Batch) error {
	if err := t.channel.Remove(epoch); err != nil {
		return errors.WithMessagef(err, "epoch %d: clearing stale hand-off files", epoch)
	}
	return t.channel.SendArcs(epoch, batch)
}

// ReceiveRewards waits for the rewards of the given epoch, one per architecture sampled.
func (t *Tuner) ReceiveRewards(ctx context.Context, epoch int) ([]float64, error) {
	return t.channel.ReceiveRewards(ctx, epoch, t.cfg.ControllerTotalSteps())
}

// ReceiveTrialResult trains the controller with the rewards of the batch generated for parameterID.
// If batch is nil, the one generated by GenerateParameters is used.
func (t *Tuner) ReceiveTrialResult(parameterID int, batch *arcs.Batch, rewards []float64) error {
	trial, found := t.pending[parameterID]
	if !found {
		if batch == nil {
			return errors.Errorf("ReceiveTrialResult(%d): no architectures were generated for this id", parameterID)
		}
		trial = pendingTrial{epoch: t.epoch, batch: batch}
	} else if batch != nil {
		trial.batch = batch
	}
	klog.V(1).Infof("epoch %d: received %d rewards for parameter id %d", trial.epoch, len(rewards), parameterID)
	if err := t.ControllerOneStep(trial.epoch, trial.batch, rewards); err != nil {
		return err
	}
	delete(t.pending, parameterID)
	return nil
}

// ControllerOneStep trains the controller for one epoch: one train step per architecture of the batch,
// using the corresponding reward.
func (t *Tuner) ControllerOneStep(epoch int, batch *arcs.Batch, rewards []float64) error {
	numSteps := t.cfg.ControllerTotalSteps()
	if batch.Len() < numSteps {
		return errors.Errorf("epoch %d: batch has %d architectures, controller needs %d", epoch, batch.Len(), numSteps)
	}
	if len(rewards) < numSteps {
		return errors.Errorf("epoch %d: received %d rewards, controller needs %d", epoch, len(rewards), numSteps)
	}
	rewards = rewards[:numSteps]
	for ii, r := range rewards {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return errors.Errorf("epoch %d: reward #%d is %g", epoch, ii, r)
		}
	}
	t.updateBest(epoch, batch, rewards)

	summary := checkpoints.EpochSummary{
		Epoch:      epoch,
		NumSamples: numSteps,
		MeanReward: floats.Sum(rewards) / float64(numSteps),
		MaxReward:  floats.Max(rewards),
	}
	if !t.cfg.ControllerTraining {
		klog.V(1).Infof("epoch %d: controller training disabled, mean reward %.4f", epoch, summary.MeanReward)
		t.history = append(t.history, summary)
		return nil
	}

	klog.V(1).Infof("epoch %d: training controller", epoch)
	for ctStep := range numSteps {
		stats, err := t.ctrl.TrainStep(batch.Samples[ctStep], rewards[ctStep])
		if err != nil {
			return errors.WithMessagef(err, "epoch %d: controller train step %d", epoch, ctStep)
		}
		t.lastStats = stats
		if t.cfg.LogEvery > 0 && ctStep%t.cfg.LogEvery == 0 {
			klog.Infof("epoch=%-4d %s", epoch, stats)
		}
	}
	summary.Stats = t.lastStats
	t.history = append(t.history, summary)
	return nil
}

func (t *Tuner) updateBest(epoch int, batch *arcs.Batch, rewards []float64) {
	idx := floats.MaxIdx(rewards)
	if t.best != nil && t.best.Reward >= rewards[idx] {
		return
	}
	t.best = &checkpoints.BestSample{
		Epoch:  epoch,
		Reward: rewards[idx],
		Sample: batch.Samples[idx].Clone(),
	}
	klog.V(1).Infof("epoch %d: new best architecture with reward %.4f: %s", epoch, rewards[idx], t.best.Sample.Normal)
}

// UpdateSearchSpace is accepted for compatibility with tuner frameworks, the search space of ENAS is
// fixed by the controller configuration.
func (t *Tuner) UpdateSearchSpace(data any) {
	klog.V(2).Infof("UpdateSearchSpace(%v) ignored", data)
}

// RunEpoch runs one full epoch: sample architectures, write them for the child trainer, wait for the
// rewards and train the controller.
func (t *Tuner) RunEpoch(ctx context.Context) error {
	parameterID := t.epoch
	epoch, batch, err := t.GenerateParameters(parameterID)
	if err != nil {
		return err
	}
	if err = t.SendArcs(epoch, batch); err != nil {
		return err
	}
	klog.V(1).Infof("epoch %d: sent %d architectures to %s", epoch, batch.Len(), t.channel.ArcPath(epoch))
	rewards, err := t.ReceiveRewards(ctx, epoch)
	if err != nil {
		return err
	}
	return t.ReceiveTrialResult(parameterID, batch, rewards)
}

// Checkpoint returns the state of the tuner to be saved. The hyperparameters are not set.
func (t *Tuner) Checkpoint() *checkpoints.Checkpoint {
	return &checkpoints.Checkpoint{
		Epoch:      t.epoch,
		Controller: t.ctrl.Snapshot(),
		History:    append([]checkpoints.EpochSummary(nil), t.history...),
		Best:       t.best,
	}
}

// Restore the tuner state from a checkpoint: the controller state, the epoch counter and the history.
// Batches generated but not rewarded are discarded.
func (t *Tuner) Restore(c *checkpoints.Checkpoint) error {
	if c.Controller == nil {
		return errors.New("checkpoint has no controller state")
	}
	if err := t.ctrl.Restore(c.Controller); err != nil {
		return errors.WithMessagef(err, "restoring controller from checkpoint of epoch %d", c.Epoch)
	}
	t.epoch = c.Epoch
	t.history = append([]checkpoints.EpochSummary(nil), c.History...)
	t.best = c.Best
	if len(t.history) > 0 {
		t.lastStats = t.history[len(t.history)-1].Stats
	}
	clear(t.pending)
	return nil
}
