// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package controller defines the architecture controller used by the ENAS tuner: the policy that
// samples child-network architectures and learns from their validation accuracies.
//
// Controllers are created from a Config with New, which picks an implementation registered under
// the name given by Config.SearchFor ("micro" or "macro"; anything else falls back to "macro", the
// general search). Custom implementations, e.g. backed by an LSTM sampler, can be registered with
// Register.
//
// The built-in controllers use a factorised softmax policy: one independent set of logits per
// decision of the architecture, trained with REINFORCE.
package controller

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gomlx/enas/pkg/nas/arcs"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Controller samples architectures and is trained with the rewards (validation accuracies) of the
// child networks built from them.
type Controller interface {
	// SearchSpace of the architectures sampled.
	SearchSpace() arcs.SearchSpace

	// Sample one architecture from the current policy.
	Sample() (arcs.Sample, error)

	// TrainStep runs one training step of the controller using the sample and the validation
	// accuracy obtained by the child network built from it.
	TrainStep(sample arcs.Sample, validAcc float64) (Stats, error)

	// Snapshot returns a serializable copy of the controller state, for checkpointing.
	Snapshot() *Snapshot

	// Restore the controller state from a snapshot.
	Restore(snapshot *Snapshot) error
}

// Stats of one controller training step.
type Stats struct {
	// Step is the controller train step, after the step was run.
	// When gradients are aggregated it only increments when they are applied.
	Step int

	Loss         float64
	Entropy      float64
	LearningRate float64
	GradNorm     float64

	// ValidAcc is the reward used in the step, including the entropy bonus.
	ValidAcc float64

	// ChildAcc is the validation accuracy of the child network, as given.
	ChildAcc float64

	Baseline float64
	SkipRate float64
}

// String formats the stats in the controller log line format.
func (s Stats) String() string {
	return fmt.Sprintf("ctrl_step=%-6d loss=%-7.3f ent=%-5.2f lr=%-6.4f |g|=%-8.4f acc=%-6.4f bl=%-5.2f child acc=%-5.2f",
		s.Step, s.Loss, s.Entropy, s.LearningRate, s.GradNorm, s.ValidAcc, s.Baseline, s.ChildAcc)
}

// Builder creates a Controller from its configuration.
type Builder func(cfg Config) (Controller, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]Builder)
)

// Register a controller Builder under name. It panics if the name is already registered.
func Register(name string, builder Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := registry[name]; found {
		exceptions.Panicf("controller.Register(%q): controller already registered", name)
	}
	registry[name] = builder
}

// Registered returns the sorted names of the registered controllers.
func Registered() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the controller registered under cfg.SearchFor.
// If no controller is registered with that name, the general ("macro") controller is used.
func New(cfg Config) (Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	registryMu.Lock()
	builder, found := registry[cfg.SearchFor]
	if !found {
		builder, found = registry[string(arcs.Macro)]
	}
	registryMu.Unlock()
	if !found {
		return nil, errors.Errorf("no controller registered for search_for=%q", cfg.SearchFor)
	}
	return builder(cfg)
}

func init() {
	Register(string(arcs.Micro), NewMicro)
	Register(string(arcs.Macro), NewMacro)
}
