// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package controller

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/gomlx/enas/pkg/nas/arcs"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

type decisionKind int

const (
	kindIndex decisionKind = iota
	kindOp
	kindSkip
)

// decision is one choice made when sampling an architecture.
type decision struct {
	name       string
	numChoices int
	kind       decisionKind
}

// searchSpace lays out the decisions of an architecture and converts between the flat list of
// choices and arcs.Sample.
type searchSpace struct {
	space     arcs.SearchSpace
	decisions []decision
	encode    func(choices []int) arcs.Sample
	decode    func(sample arcs.Sample) ([]int, error)
	skipRate  func(sample arcs.Sample) float64
}

// policyController is a factorised softmax policy: each decision has its own logits, and all
// decisions are sampled independently. It is trained with REINFORCE, using an exponential moving
// average of the rewards as baseline.
type policyController struct {
	cfg      Config
	ss       *searchSpace
	schedule Schedule
	opt      optimizer

	pcg *rand.PCG
	rng *rand.Rand

	// params holds the logits of each decision, by decision name.
	params map[string][]float64

	baseline  float64
	trainStep int

	// Gradients being aggregated when Config.SyncReplicas is set.
	accumulated    map[string][]float64
	numAccumulated int
}

var _ Controller = (*policyController)(nil)

// initScale is the range of the uniform initialization of the logits.
const initScale = 0.1

func newPolicyController(cfg Config, ss *searchSpace) (*policyController, error) {
	if cfg.UseCritic {
		return nil, errors.New("use_critic is not supported by the built-in controllers")
	}
	newOpt, found := knownOptimizers[cfg.OptimAlgo]
	if !found {
		return nil, errors.Errorf("unknown controller optimizer %q", cfg.OptimAlgo)
	}
	c := &policyController{
		cfg:      cfg,
		ss:       ss,
		schedule: ScheduleFromConfig(cfg),
		opt:      newOpt(),
		pcg:      rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15),
		params:   make(map[string][]float64, len(ss.decisions)),
	}
	c.rng = rand.New(c.pcg)
	for _, d := range ss.decisions {
		logits := make([]float64, d.numChoices)
		for ii := range logits {
			logits[ii] = (2*c.rng.Float64() - 1) * initScale
		}
		c.params[d.name] = logits
	}
	return c, nil
}

// String implements fmt.Stringer.
func (c *policyController) String() string {
	return fmt.Sprintf("controller(%s, %d decisions)", c.ss.space, len(c.ss.decisions))
}

// SearchSpace implements Controller.
func (c *policyController) SearchSpace() arcs.SearchSpace {
	return c.ss.space
}

// probabilities returns the sampling probabilities of the decision and the derivative of the
// effective logits with respect to the parameters.
func (c *policyController) probabilities(d decision) (probs, dLogits []float64) {
	logits := c.params[d.name]
	temperature := c.cfg.Temperature
	if temperature <= 0 {
		temperature = 1
	}
	tanhConstant := c.cfg.TanhConstant
	if d.kind == kindOp && c.cfg.OpTanhReduce > 0 {
		tanhConstant /= c.cfg.OpTanhReduce
	}
	z := make([]float64, len(logits))
	dLogits = make([]float64, len(logits))
	for ii, l := range logits {
		x := l / temperature
		if tanhConstant > 0 {
			t := math.Tanh(x)
			z[ii] = tanhConstant * t
			dLogits[ii] = tanhConstant * (1 - t*t) / temperature
		} else {
			z[ii] = x
			dLogits[ii] = 1 / temperature
		}
	}
	lse := floats.LogSumExp(z)
	probs = make([]float64, len(z))
	for ii, v := range z {
		probs[ii] = math.Exp(v - lse)
	}
	return
}

// sampleCategorical picks an index with the given probabilities.
func (c *policyController) sampleCategorical(probs []float64) int {
	u := c.rng.Float64() * floats.Sum(probs)
	for ii, p := range probs {
		u -= p
		if u < 0 {
			return ii
		}
	}
	return len(probs) - 1
}

// Sample implements Controller.
func (c *policyController) Sample() (arcs.Sample, error) {
	choices := make([]int, len(c.ss.decisions))
	for ii, d := range c.ss.decisions {
		probs, _ := c.probabilities(d)
		choices[ii] = c.sampleCategorical(probs)
	}
	return c.ss.encode(choices), nil
}

// TrainStep implements Controller.
func (c *policyController) TrainStep(sample arcs.Sample, validAcc float64) (Stats, error) {
	if math.IsNaN(validAcc) || math.IsInf(validAcc, 0) {
		return Stats{}, errors.Errorf("invalid reward %f, controller training interrupted", validAcc)
	}
	choices, err := c.ss.decode(sample)
	if err != nil {
		return Stats{}, errors.WithMessage(err, "controller cannot train on sample")
	}

	// Log-probability of the sample and entropy of the policy.
	allProbs := make([][]float64, len(c.ss.decisions))
	allDLogits := make([][]float64, len(c.ss.decisions))
	var logProb, entropy float64
	for ii, d := range c.ss.decisions {
		probs, dLogits := c.probabilities(d)
		allProbs[ii], allDLogits[ii] = probs, dLogits
		logProb += math.Log(probs[choices[ii]])
		for _, p := range probs {
			if p > 0 {
				entropy -= p * math.Log(p)
			}
		}
	}

	reward := validAcc
	if c.cfg.EntropyWeight > 0 {
		reward += c.cfg.EntropyWeight * entropy
	}
	c.baseline -= (1 - c.cfg.BLDec) * (c.baseline - reward)
	advantage := reward - c.baseline
	loss := -logProb * advantage

	// Gradients of the loss with respect to the logits.
	grads := make(map[string][]float64, len(c.ss.decisions))
	skipTargets := []float64{1 - c.cfg.SkipTarget, c.cfg.SkipTarget}
	for ii, d := range c.ss.decisions {
		probs := allProbs[ii]
		grad := make([]float64, len(probs))
		for k, p := range probs {
			grad[k] = advantage * p
		}
		grad[choices[ii]] -= advantage
		if d.kind == kindSkip && c.cfg.SkipWeight > 0 {
			var kl float64
			for k, p := range probs {
				kl += p * math.Log(p/skipTargets[k])
			}
			loss += c.cfg.SkipWeight * kl
			for k, p := range probs {
				grad[k] += c.cfg.SkipWeight * p * (math.Log(p/skipTargets[k]) - kl)
			}
		}
		floats.Mul(grad, allDLogits[ii])
		if c.cfg.L2Reg > 0 {
			logits := c.params[d.name]
			loss += c.cfg.L2Reg * floats.Dot(logits, logits)
			floats.AddScaled(grad, 2*c.cfg.L2Reg, logits)
		}
		grads[d.name] = grad
	}

	gradNorm := globalNorm(grads)
	if c.cfg.GradBound > 0 && gradNorm > c.cfg.GradBound {
		for _, grad := range grads {
			floats.Scale(c.cfg.GradBound/gradNorm, grad)
		}
	}
	learningRate := c.schedule.LearningRate(c.trainStep)
	c.applyGradients(grads, learningRate)

	return Stats{
		Step:         c.trainStep,
		Loss:         loss,
		Entropy:      entropy,
		LearningRate: learningRate,
		GradNorm:     gradNorm,
		ValidAcc:     reward,
		ChildAcc:     validAcc,
		Baseline:     c.baseline,
		SkipRate:     c.ss.skipRate(sample),
	}, nil
}

// applyGradients applies the gradients immediately, or aggregates them until NumAggregate
// gradients are collected if SyncReplicas is set.
func (c *policyController) applyGradients(grads map[string][]float64, learningRate float64) {
	numAggregate := 1
	if c.cfg.SyncReplicas {
		numAggregate = max(c.cfg.NumAggregate, 1)
	}
	if numAggregate == 1 {
		c.opt.Apply(c.params, grads, learningRate)
		c.trainStep++
		return
	}
	if c.accumulated == nil {
		c.accumulated = make(map[string][]float64, len(grads))
	}
	for name, grad := range grads {
		if acc, found := c.accumulated[name]; found {
			floats.Add(acc, grad)
		} else {
			c.accumulated[name] = grad
		}
	}
	c.numAccumulated++
	if c.numAccumulated < numAggregate {
		return
	}
	for _, acc := range c.accumulated {
		floats.Scale(1/float64(c.numAccumulated), acc)
	}
	c.opt.Apply(c.params, c.accumulated, learningRate)
	c.accumulated = nil
	c.numAccumulated = 0
	c.trainStep++
}

func globalNorm(grads map[string][]float64) float64 {
	var sum float64
	for _, grad := range grads {
		sum += floats.Dot(grad, grad)
	}
	return math.Sqrt(sum)
}

// Snapshot implements Controller.
func (c *policyController) Snapshot() *Snapshot {
	rngState, _ := c.pcg.MarshalBinary() // PCG marshaling never fails.
	s := &Snapshot{
		SearchSpace:    c.ss.space,
		Params:         cloneParams(c.params),
		Optimizer:      c.opt.State(),
		Baseline:       c.baseline,
		TrainStep:      c.trainStep,
		NumAccumulated: c.numAccumulated,
		RNG:            rngState,
	}
	if len(c.accumulated) > 0 {
		s.Accumulated = cloneParams(c.accumulated)
	}
	return s
}

// Restore implements Controller.
func (c *policyController) Restore(s *Snapshot) error {
	if s.SearchSpace != c.ss.space {
		return errors.Errorf("%s: cannot restore snapshot of a %s controller", c, s.SearchSpace)
	}
	for _, d := range c.ss.decisions {
		logits, found := s.Params[d.name]
		if !found {
			return errors.Errorf("%s: snapshot is missing the logits of %q", c, d.name)
		}
		if len(logits) != d.numChoices {
			return errors.Errorf("%s: snapshot logits of %q have %d choices, wanted %d", c, d.name, len(logits), d.numChoices)
		}
	}
	if len(s.Params) != len(c.ss.decisions) {
		return errors.Errorf("%s: snapshot has %d decisions, wanted %d", c, len(s.Params), len(c.ss.decisions))
	}
	if err := c.opt.Restore(s.Optimizer); err != nil {
		return errors.WithMessagef(err, "%s: restoring optimizer", c)
	}
	if len(s.RNG) > 0 {
		if err := c.pcg.UnmarshalBinary(s.RNG); err != nil {
			return errors.Wrapf(err, "%s: restoring random number generator", c)
		}
	}
	c.params = cloneParams(s.Params)
	c.baseline = s.Baseline
	c.trainStep = s.TrainStep
	c.numAccumulated = s.NumAccumulated
	c.accumulated = nil
	if len(s.Accumulated) > 0 {
		c.accumulated = cloneParams(s.Accumulated)
	}
	return nil
}
