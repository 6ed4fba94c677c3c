// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tuner

import (
	"fmt"
	"time"

	"github.com/gomlx/enas/pkg/nas/checkpoints"
	"github.com/gomlx/enas/pkg/nas/controller"
	"github.com/gomlx/enas/pkg/nas/params"
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

type everyNEpochs struct {
	n, count int
	fn       OnEpochFn
}

func (eN *everyNEpochs) onEpoch(loop *Loop, stats controller.Stats) error {
	eN.count++
	if eN.count%eN.n != 0 {
		return nil
	}
	return eN.fn(loop, stats)
}

// EveryNEpochs registers a OnEpoch hook on the loop that is called every N epochs.
//
// Notice that it does not call `fn` at the last epoch (except by coincidence).
func EveryNEpochs(loop *Loop, n int, name string, priority Priority, fn OnEpochFn) {
	if n <= 0 {
		exceptions.Panicf("EveryNEpochs(n=%d): n must be > 0", n)
	}
	eN := &everyNEpochs{n: n, fn: fn}
	fullName := fmt.Sprintf("EveryNEpochs(%d): %s", n, name)
	loop.OnEpoch(fullName, priority, eN.onEpoch)
}

type periodicCallback struct {
	last    time.Time
	period  time.Duration
	started bool
	fn      OnEpochFn
}

func (p *periodicCallback) onEpoch(loop *Loop, stats controller.Stats) error {
	if !p.started {
		// Start the clock.
		p.started = true
		p.last = time.Now()
		return nil
	}
	if time.Since(p.last) < p.period {
		return nil
	}
	err := p.fn(loop, stats)
	p.last = time.Now()
	return err
}

// PeriodicCallback registers an `OnEpoch` hook on the loop that is called every period of time.
// The period counts after the execution of `fn`, and the first epoch only starts the clock.
//
// If callOnEnd is set, it will also call at the end of the loop.
func PeriodicCallback(loop *Loop, period time.Duration, callOnEnd bool, name string, priority Priority, fn OnEpochFn) {
	p := &periodicCallback{period: period, fn: fn}
	fullName := fmt.Sprintf("PeriodicCallback(%s): %s", period, name)
	loop.OnEpoch(fullName, priority, p.onEpoch)
	if callOnEnd {
		loop.OnEnd(fullName, priority, func(loop *Loop, stats controller.Stats) error { return p.fn(loop, stats) })
	}
}

// CheckpointPriority is the priority of the hooks created by AttachCheckpoints: it runs after
// the default priority hooks.
const CheckpointPriority Priority = 100

// AttachCheckpoints saves a checkpoint with the tuner state and hyperparameters p at the end of
// every epoch, and at the end of the loop if the last epoch didn't save one.
//
// The state at the start of the loop is assumed to be saved already: either it was restored from
// a checkpoint, or it is the initial state, for which no epoch was run.
func AttachCheckpoints(loop *Loop, handler *checkpoints.Handler, p *params.Params) {
	lastSaved := -1
	loop.OnStart("checkpoints", CheckpointPriority, func(loop *Loop) error {
		lastSaved = loop.StartEpoch
		return nil
	})
	save := func(loop *Loop, _ controller.Stats) error {
		epoch := loop.Tuner.Epoch()
		if epoch == lastSaved {
			return nil
		}
		c := loop.Tuner.Checkpoint()
		if p != nil {
			c.Params = checkpoints.SerializeParams(p)
		}
		if err := handler.Save(c); err != nil {
			return err
		}
		lastSaved = epoch
		return nil
	}
	loop.OnEpoch("checkpoints", CheckpointPriority, save)
	loop.OnEnd("checkpoints", CheckpointPriority, func(loop *Loop, stats controller.Stats) error {
		if err := save(loop, stats); err != nil {
			return err
		}
		if best := loop.Tuner.Best(); best != nil {
			klog.Infof("best architecture (epoch %d, reward %.4f): normal=%s reduce=%s",
				best.Epoch, best.Reward, best.Sample.Normal, best.Sample.Reduce)
		}
		return nil
	})
}
