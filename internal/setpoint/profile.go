// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package setpoint holds the periodic, zero-order-hold setpoint profile
// read from a t,T1,T2 table.
package setpoint

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

var ErrInvalidProfile = errors.New("invalid setpoint profile")

type Sample struct {
	T  float64 // seconds from start
	T1 float64
	T2 float64
}

// Profile is an immutable, non-empty list of samples with strictly
// increasing T, the first at T == 0.
type Profile struct {
	samples []Sample
	tEnd    float64
}

// New validates samples and builds a profile.
func New(samples []Sample) (*Profile, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidProfile)
	}
	if samples[0].T != 0 {
		return nil, fmt.Errorf("%w: first sample must be at t=0, got t=%g", ErrInvalidProfile, samples[0].T)
	}
	for i, s := range samples {
		if math.IsNaN(s.T) || math.IsInf(s.T, 0) || math.IsNaN(s.T1) || math.IsNaN(s.T2) {
			return nil, fmt.Errorf("%w: sample %d is not a finite number", ErrInvalidProfile, i)
		}
		if i > 0 && s.T <= samples[i-1].T {
			return nil, fmt.Errorf("%w: t must be strictly increasing (row %d: %g after %g)",
				ErrInvalidProfile, i+1, s.T, samples[i-1].T)
		}
	}
	p := &Profile{samples: append([]Sample(nil), samples...)}
	p.tEnd = p.samples[len(p.samples)-1].T
	return p, nil
}

// Constant is a single-sample profile.
func Constant(t1, t2 float64) *Profile {
	p, _ := New([]Sample{{T: 0, T1: t1, T2: t2}})
	return p
}

// Load reads a CSV file with a t,T1,T2 header.
func Load(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open setpoint profile: %w", err)
	}
	defer f.Close()
	p, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Read parses CSV rows. Columns are located by header name, so their order
// does not matter and extra columns are ignored.
func Read(r io.Reader) (*Profile, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidProfile)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	idx := [3]int{}
	for i, name := range []string{"t", "T1", "T2"} {
		c, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing column %q in header %v", ErrInvalidProfile, name, header)
		}
		idx[i] = c
	}

	var samples []Sample
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		var vals [3]float64
		for i, c := range idx {
			if c >= len(rec) {
				return nil, fmt.Errorf("%w: line %d: missing field", ErrInvalidProfile, line)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[c]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidProfile, line, err)
			}
			vals[i] = v
		}
		samples = append(samples, Sample{T: vals[0], T1: vals[1], T2: vals[2]})
	}
	return New(samples)
}

// Period is the time of the last sample.
func (p *Profile) Period() float64 { return p.tEnd }

func (p *Profile) Samples() []Sample { return append([]Sample(nil), p.samples...) }

// Setpoints returns the held (T1, T2) at time t. The profile repeats every
// Period() seconds in both directions.
func (p *Profile) Setpoints(t float64) (float64, float64) {
	s := p.At(t)
	return s.T1, s.T2
}

// At returns the sample in force at t.
func (p *Profile) At(t float64) Sample {
	if p.tEnd == 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return p.samples[0]
	}
	tMod := math.Mod(t, p.tEnd)
	if tMod < 0 {
		tMod += p.tEnd
	}

	// greatest sample with T <= tMod
	i := sort.Search(len(p.samples), func(i int) bool { return p.samples[i].T > tMod })
	if i == 0 {
		return p.samples[0]
	}
	return p.samples[i-1]
}
