// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stats

import "fmt"

// Group names an independently resettable set of channels.
type Group string

const (
	GroupStrain      Group = "strain"
	GroupAccel1      Group = "accel1"
	GroupAccel2      Group = "accel2"
	GroupTemperature Group = "temperature"
	GroupBattery     Group = "battery"
	GroupAll         Group = "all"
)

// ParseGroup accepts the group names used on the wire and in the UI.
func ParseGroup(s string) (Group, error) {
	switch g := Group(s); g {
	case GroupStrain, GroupAccel1, GroupAccel2, GroupTemperature, GroupBattery, GroupAll:
		return g, nil
	}
	return "", fmt.Errorf("unknown statistics group %q", s)
}

// Set holds every channel displayed by the diagnostic tool.
type Set struct {
	Strain      ChannelStats
	Accel1      Triad
	Accel2      Triad
	Temperature ChannelStats
	Battery     ChannelStats
}

// NewSet returns a set whose accelerometer groups are already seeded.
func NewSet() *Set {
	s := &Set{}
	s.Reset(GroupAll)
	return s
}

func (s *Set) Reset(g Group) {
	switch g {
	case GroupStrain:
		s.Strain.Reset()
	case GroupAccel1:
		s.Accel1.Reset()
	case GroupAccel2:
		s.Accel2.Reset()
	case GroupTemperature:
		s.Temperature.Reset()
	case GroupBattery:
		s.Battery.Reset()
	case GroupAll:
		s.Strain.Reset()
		s.Accel1.Reset()
		s.Accel2.Reset()
		s.Temperature.Reset()
		s.Battery.Reset()
	}
}

// Summary is the JSON view of a channel.
type Summary struct {
	Count  float64 `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

func summarize(c *ChannelStats) Summary {
	return Summary{Count: c.Count, Mean: c.Mean(), StdDev: c.StdDev()}
}

// Snapshot is a copy of the set suitable for publishing.
type Snapshot struct {
	Strain      Summary    `json:"strain"`
	Accel1      [3]Summary `json:"accel1"`
	Accel2      [3]Summary `json:"accel2"`
	Temperature Summary    `json:"temperature"`
	Battery     Summary    `json:"battery"`
}

func (s *Set) Snapshot() Snapshot {
	snap := Snapshot{
		Strain:      summarize(&s.Strain),
		Temperature: summarize(&s.Temperature),
		Battery:     summarize(&s.Battery),
	}
	for i := 0; i < 3; i++ {
		snap.Accel1[i] = summarize(&s.Accel1[i])
		snap.Accel2[i] = summarize(&s.Accel2[i])
	}
	return snap
}
