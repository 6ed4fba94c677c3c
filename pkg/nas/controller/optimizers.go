// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package controller

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// optimizer updates the policy parameters given their gradients.
type optimizer interface {
	// Apply the gradients to the params, in place.
	Apply(params, grads map[string][]float64, learningRate float64)

	// State returns a copy of the optimizer state.
	State() OptimizerState

	// Restore the optimizer state.
	Restore(state OptimizerState) error
}

// OptimizerState is the serializable state of an optimizer.
type OptimizerState struct {
	Algo  string
	Step  int
	Slots map[string]map[string][]float64 `json:",omitempty"`
}

// knownOptimizers by name to their default constructors.
var knownOptimizers = map[string]func() optimizer{
	// Adam with beta1=0 and a large epsilon, as commonly used for ENAS controllers.
	"adam":     func() optimizer { return newAdam(0.0, 0.999, 1e-3) },
	"sgd":      func() optimizer { return &momentum{algo: "sgd"} },
	"momentum": func() optimizer { return &momentum{algo: "momentum", mu: 0.9} },
}

// adam optimization is a stochastic gradient descent method that is based on adaptive estimation of first-order and
// second-order moments. See [Kingma et al., 2014](http://arxiv.org/abs/1412.6980).
type adam struct {
	beta1, beta2, epsilon float64
	step                  int
	m, v                  map[string][]float64
}

func newAdam(beta1, beta2, epsilon float64) *adam {
	return &adam{
		beta1:   beta1,
		beta2:   beta2,
		epsilon: epsilon,
		m:       make(map[string][]float64),
		v:       make(map[string][]float64),
	}
}

// Apply implements optimizer.
func (o *adam) Apply(params, grads map[string][]float64, learningRate float64) {
	o.step++
	debias1 := 1 - math.Pow(o.beta1, float64(o.step))
	debias2 := 1 - math.Pow(o.beta2, float64(o.step))
	for name, grad := range grads {
		param := params[name]
		m, v := o.m[name], o.v[name]
		if m == nil {
			m, v = make([]float64, len(param)), make([]float64, len(param))
			o.m[name], o.v[name] = m, v
		}
		for ii, g := range grad {
			m[ii] = o.beta1*m[ii] + (1-o.beta1)*g
			v[ii] = o.beta2*v[ii] + (1-o.beta2)*g*g
			mHat := m[ii] / debias1
			vHat := v[ii] / debias2
			param[ii] -= learningRate * mHat / (math.Sqrt(vHat) + o.epsilon)
		}
	}
}

// State implements optimizer.
func (o *adam) State() OptimizerState {
	return OptimizerState{
		Algo: "adam",
		Step: o.step,
		Slots: map[string]map[string][]float64{
			"m": cloneParams(o.m),
			"v": cloneParams(o.v),
		},
	}
}

// Restore implements optimizer.
func (o *adam) Restore(state OptimizerState) error {
	if state.Algo != "adam" {
		return errors.Errorf("cannot restore optimizer %q state into adam", state.Algo)
	}
	o.step = state.Step
	o.m = cloneParams(state.Slots["m"])
	o.v = cloneParams(state.Slots["v"])
	return nil
}

// momentum implements plain gradient descent (mu == 0) and gradient descent with momentum.
type momentum struct {
	algo     string
	mu       float64
	step     int
	velocity map[string][]float64
}

// Apply implements optimizer.
func (o *momentum) Apply(params, grads map[string][]float64, learningRate float64) {
	o.step++
	if o.velocity == nil {
		o.velocity = make(map[string][]float64)
	}
	for name, grad := range grads {
		param := params[name]
		if o.mu == 0 {
			floats.AddScaled(param, -learningRate, grad)
			continue
		}
		vel := o.velocity[name]
		if vel == nil {
			vel = make([]float64, len(param))
			o.velocity[name] = vel
		}
		floats.Scale(o.mu, vel)
		floats.Add(vel, grad)
		floats.AddScaled(param, -learningRate, vel)
	}
}

// State implements optimizer.
func (o *momentum) State() OptimizerState {
	state := OptimizerState{Algo: o.algo, Step: o.step}
	if len(o.velocity) > 0 {
		state.Slots = map[string]map[string][]float64{"velocity": cloneParams(o.velocity)}
	}
	return state
}

// Restore implements optimizer.
func (o *momentum) Restore(state OptimizerState) error {
	if state.Algo != o.algo {
		return errors.Errorf("cannot restore optimizer %q state into %s", state.Algo, o.algo)
	}
	o.step = state.Step
	o.velocity = cloneParams(state.Slots["velocity"])
	return nil
}

func cloneParams(params map[string][]float64) map[string][]float64 {
	c := make(map[string][]float64, len(params))
	for name, values := range params {
		c[name] = slices.Clone(values)
	}
	return c
}
