// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package controller

import "math"

// This file implements learning rate schedules.

// Schedule returns the learning rate for a given train step.
type Schedule interface {
	LearningRate(step int) float64
}

// ExponentialDecay is a staircase exponential decay of the learning rate:
//
//	lr = Init * Rate^floor((step - Start) / Every)
//
// for step >= Start, and Init before. The result is bounded below by Min.
type ExponentialDecay struct {
	Init, Rate, Min float64
	Start, Every    int
}

// LearningRate implements Schedule.
func (s ExponentialDecay) LearningRate(step int) float64 {
	lr := s.Init
	if step > s.Start && s.Every > 0 && s.Rate > 0 {
		decays := (step - s.Start) / s.Every
		lr *= math.Pow(s.Rate, float64(decays))
	}
	return math.Max(lr, s.Min)
}

// CosineSchedule anneals the learning rate from Max to Min following a cosine over Period steps,
// and then restarts.
//
// If Min is 0 it defaults to 10^-3 * Max.
type CosineSchedule struct {
	Max, Min float64
	Period   int
}

// LearningRate implements Schedule.
func (s CosineSchedule) LearningRate(step int) float64 {
	lrMin := s.Min
	if lrMin == 0 {
		lrMin = s.Max * 1e-3
	}
	if s.Period <= 0 {
		return s.Max
	}
	cycle := float64(step) / float64(s.Period)
	cycle -= math.Floor(cycle) // Take only the fractional part: so always in range `[0.0, 1.0)`.
	lr := (math.Cos(cycle*math.Pi) + 1) / 2
	return lr*(s.Max-lrMin) + lrMin
}

// ScheduleFromConfig returns the learning rate schedule configured.
func ScheduleFromConfig(cfg Config) Schedule {
	if cfg.LRCosine {
		return CosineSchedule{Max: cfg.LRInit, Min: cfg.LRDecMin, Period: cfg.LRCosinePeriod}
	}
	return ExponentialDecay{
		Init:  cfg.LRInit,
		Rate:  cfg.LRDecRate,
		Min:   cfg.LRDecMin,
		Start: cfg.LRDecStart,
		Every: cfg.LRDecEvery,
	}
}
