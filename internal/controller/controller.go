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

package controller

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Controller is a SISO control strategy.
//
// Conventions: reference is the setpoint (r), measure the process output
// (y), feedforward an open-loop contribution added to the feedback action.
// Every variant saturates its output to [u_min, u_max] as its last step.
// Implementations are safe for concurrent use, so parameters can be tuned
// from the dashboard while the loop is running.
type Controller interface {
	Kind() string

	// Starting is called once before the first ComputeControlAction.
	Starting(reference, measure, initialU, feedforward float64)
	ComputeControlAction(reference, measure, feedforward float64) float64

	// ListOfParameters returns the parameter names in schema order.
	ListOfParameters() []string
	// Parameters returns a copy of the current parameter values.
	Parameters() map[string]float64
	// SetParameters validates the whole update before applying any of it.
	SetParameters(update map[string]any) error
}

// ErrConfiguration wraps construction errors.
var ErrConfiguration = errors.New("invalid controller configuration")

type factory func(params map[string]any) (Controller, error)

var kinds = map[string]factory{
	KindP: func(params map[string]any) (Controller, error) {
		return newPFromParams(params)
	},
	KindPI: func(params map[string]any) (Controller, error) {
		return newPIFromParams(params)
	},
	KindManual: func(params map[string]any) (Controller, error) {
		return newManualFromParams(params)
	},
}

// Kinds lists the registered controller types.
func Kinds() []string {
	var s []string
	for name := range kinds {
		s = append(s, name)
	}
	sort.Strings(s)
	return s
}

// New builds a controller by type name. params may set any parameter of
// the type's schema, missing ones take their default.
func New(kind string, params map[string]any) (Controller, error) {
	f, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown controller type %q (valid: %v)", ErrConfiguration, kind, Kinds())
	}
	return f(params)
}

// base holds the parameter set and the shared saturation policy.
type base struct {
	mu     sync.Mutex
	kind   string
	schema Schema
	values map[string]float64
}

func newBase(kind string, extra Schema, params map[string]any) (*base, error) {
	schema := append(append(Schema{}, baseSchema...), extra...)
	values, err := schema.merge(kind, schema.defaults(), params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return &base{kind: kind, schema: schema, values: values}, nil
}

func (b *base) Kind() string { return b.kind }

func (b *base) ListOfParameters() []string {
	return b.schema.names()
}

func (b *base) Parameters() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

func (b *base) SetParameters(update map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next, err := b.schema.merge(b.kind, b.values, update)
	if err != nil {
		return err
	}
	b.values = next
	return nil
}

// saturate must be called with b.mu held.
func (b *base) saturate(u float64) float64 {
	return Clamp(u, b.values[ParamUMin], b.values[ParamUMax])
}

// Clamp limits u to [lo, hi]. NaN maps to lo.
func Clamp(u, lo, hi float64) float64 {
	if u < lo || math.IsNaN(u) {
		return lo
	}
	if u > hi {
		return hi
	}
	return u
}
