// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tuner

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/gomlx/enas/pkg/nas/controller"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop) error

// OnEpochFn is the type of OnEpoch hooks. stats is the stats of the last controller train step.
type OnEpochFn func(loop *Loop, stats controller.Stats) error

// OnEndFn is the type of OnEnd hooks.
type OnEndFn func(loop *Loop, stats controller.Stats) error

// Loop runs the tuner epochs, calling Tuner.RunEpoch for each one, and the appropriate hooks.
//
// In itself it doesn't do much, but one can attach functionality to it, like
// checkpointing, progress-bars, early-stopping strategies, etc.
//
// The public attributes are meant for reading only, don't change them -- behavior
// can be undefined.
type Loop struct {
	// Tuner associated with this loop.
	Tuner *Tuner

	// Epoch currently being executed. It starts at the tuner's epoch, which is non-zero when resuming
	// from a checkpoint.
	Epoch int

	// StartEpoch is the value of Epoch at the start of Run.
	StartEpoch int

	// EndEpoch is one-past the last epoch to be executed.
	EndEpoch int

	// SharedData allows for cross-tools to publish and consume information. Keys (strings)
	// and semantics/type of their values are not specified by loop.
	SharedData map[string]any

	// EpochDurations collected during the run.
	EpochDurations []time.Duration

	// Registered hooks.
	onStart *priorityHooks[*hookWithName[OnStartFn]]
	onEpoch *priorityHooks[*hookWithName[OnEpochFn]]
	onEnd   *priorityHooks[*hookWithName[OnEndFn]]
}

// NewLoop creates a new epoch loop for the tuner.
func NewLoop(t *Tuner) *Loop {
	return &Loop{
		Tuner:      t,
		SharedData: make(map[string]any),
		onStart:    newPriorityHooks[*hookWithName[OnStartFn]](),
		onEpoch:    newPriorityHooks[*hookWithName[OnEpochFn]](),
		onEnd:      newPriorityHooks[*hookWithName[OnEndFn]](),
	}
}

// start of loop: it calls the appropriate hooks.
func (loop *Loop) start() (err error) {
	loop.onStart.Enumerate(func(hook *hookWithName[OnStartFn]) {
		if err != nil {
			// After the first error stop.
			return
		}
		err = hook.fn(loop)
		if err != nil {
			err = errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	})
	return
}

// epoch runs one tuner epoch and calls the appropriate hooks.
func (loop *Loop) epoch(ctx context.Context) (stats controller.Stats, err error) {
	startTime := time.Now()
	err = loop.Tuner.RunEpoch(ctx)
	loop.EpochDurations = append(loop.EpochDurations, time.Since(startTime))
	if err != nil {
		return
	}
	stats = loop.Tuner.LastStats()
	loop.onEpoch.Enumerate(func(hook *hookWithName[OnEpochFn]) {
		if err != nil {
			return
		}
		err = hook.fn(loop, stats)
		if err != nil {
			err = errors.WithMessagef(err, "OnEpoch(hook %q)", hook.name)
		}
	})
	return
}

// end of loop: it calls the appropriate hooks.
func (loop *Loop) end(stats controller.Stats) (err error) {
	loop.onEnd.Enumerate(func(hook *hookWithName[OnEndFn]) {
		if err != nil {
			return
		}
		err = hook.fn(loop, stats)
		if err != nil {
			err = errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	})
	return
}

// Run the tuner from its current epoch until Config.NumEpochs.
// It can be interrupted by cancelling ctx, in which case the error is the context's error.
func (loop *Loop) Run(ctx context.Context) (err error) {
	loop.StartEpoch = loop.Tuner.Epoch()
	loop.EndEpoch = loop.Tuner.Config().NumEpochs
	loop.Epoch = loop.StartEpoch
	loop.EpochDurations = nil
	if loop.StartEpoch > 0 {
		klog.Infof("resuming from epoch %d (of %d)", loop.StartEpoch, loop.EndEpoch)
	}
	if err = loop.start(); err != nil {
		return err
	}
	stats := loop.Tuner.LastStats()
	for ; loop.Epoch < loop.EndEpoch; loop.Epoch++ {
		if err = ctx.Err(); err != nil {
			return errors.Wrapf(err, "Loop.Run() interrupted at epoch %d", loop.Epoch)
		}
		stats, err = loop.epoch(ctx)
		if err != nil {
			return errors.WithMessagef(err, "Loop.Run(): failed epoch %d", loop.Epoch)
		}
	}
	if err = loop.end(stats); err != nil {
		return errors.WithMessagef(err, "Loop.Run(): failed end (epoch=%d)", loop.Epoch)
	}
	return nil
}

// MedianEpochDuration returns the median duration of the epochs run. It returns 1 millisecond
// if no epoch was recorded (to avoid potential division by 0).
func (loop *Loop) MedianEpochDuration() time.Duration {
	if len(loop.EpochDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(loop.EpochDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnStart adds a hook with given priority and name (for error reporting) to the start of a loop.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnEpoch adds a hook with given priority and name (for error reporting) called after each epoch,
// once the controller was trained.
func (loop *Loop) OnEpoch(name string, priority Priority, fn OnEpochFn) {
	loop.onEpoch.Add(priority, &hookWithName[OnEpochFn]{name: name, fn: fn})
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of a loop,
// after the last epoch.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks for type F per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{
		hooks: make(map[Priority][]H),
	}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// Enumerate will call fn for all registered hooks in priority order.
func (h *priorityHooks[H]) Enumerate(fn func(hook H)) {
	keys := make([]Priority, 0, len(h.hooks))
	for key := range h.hooks {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		for _, hook := range h.hooks[key] {
			fn(hook)
		}
	}
}
