// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package stats keeps running count/sum/sum-of-squares accumulators.
package stats

import "math"

// ResetEpsilon seeds the count of the accelerometer groups on reset so that
// means read before the first sample stay finite.
const ResetEpsilon = 0.001

// ChannelStats accumulates one scalar channel.
type ChannelStats struct {
	Count      float64 `json:"count"`
	Sum        float64 `json:"sum"`
	SumSquares float64 `json:"sum_squares"`
}

func (c *ChannelStats) Observe(v float64) {
	c.Count++
	c.Sum += v
	c.SumSquares += v * v
}

// Mean returns sum/count, or 0 before any sample.
func (c *ChannelStats) Mean() float64 {
	if c.Count == 0 {
		return 0
	}
	return c.Sum / c.Count
}

// Variance is the population variance, clamped at zero.
func (c *ChannelStats) Variance() float64 {
	if c.Count == 0 {
		return 0
	}
	m := c.Mean()
	v := c.SumSquares/c.Count - m*m
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

func (c *ChannelStats) StdDev() float64 {
	return math.Sqrt(c.Variance())
}

func (c *ChannelStats) Reset() {
	*c = ChannelStats{}
}

// ResetSeeded zeroes the sums and sets count to eps.
func (c *ChannelStats) ResetSeeded(eps float64) {
	*c = ChannelStats{Count: eps}
}

// Triad is the x/y/z group of one accelerometer.
type Triad [3]ChannelStats

func (t *Triad) Observe(v [3]float64) {
	for i := range t {
		t[i].Observe(v[i])
	}
}

func (t *Triad) Means() [3]float64 {
	return [3]float64{t[0].Mean(), t[1].Mean(), t[2].Mean()}
}

// Reset clears all three axes and seeds their counts with ResetEpsilon.
func (t *Triad) Reset() {
	for i := range t {
		t[i].ResetSeeded(ResetEpsilon)
	}
}
