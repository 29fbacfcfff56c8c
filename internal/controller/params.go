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
	"encoding/json"
	"fmt"
	"math"
)

// Param describes one tunable parameter: its name, inclusive bounds and
// default value. MinExclusive marks a lower bound the value must exceed.
type Param struct {
	Name         string
	Min, Max     float64
	MinExclusive bool
	Default      float64
}

// Schema is the ordered, fixed set of parameters of a controller type.
type Schema []Param

const (
	ParamSamplingPeriod = "sampling_period"
	ParamUMin           = "u_min"
	ParamUMax           = "u_max"
)

// baseSchema is shared by every controller and always comes first.
var baseSchema = Schema{
	{Name: ParamSamplingPeriod, Min: 0, MinExclusive: true, Max: 3600, Default: 1},
	{Name: ParamUMin, Min: 0, Max: 100, Default: 0},
	{Name: ParamUMax, Min: 0, Max: 100, Default: 100},
}

// ParameterError reports a rejected parameter update. Nothing was changed.
type ParameterError struct {
	Controller string
	Key        string
	Value      any
	Reason     string
}

func (e *ParameterError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: invalid parameters: %s", e.Controller, e.Reason)
	}
	return fmt.Sprintf("%s: parameter %q = %v: %s", e.Controller, e.Key, e.Value, e.Reason)
}

func (s Schema) names() []string {
	names := make([]string, len(s))
	for i, p := range s {
		names[i] = p.Name
	}
	return names
}

func (s Schema) lookup(name string) (Param, bool) {
	for _, p := range s {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

func (s Schema) defaults() map[string]float64 {
	values := make(map[string]float64, len(s))
	for _, p := range s {
		values[p.Name] = p.Default
	}
	return values
}

func (p Param) check(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "not a finite number"
	}
	if p.MinExclusive && v <= p.Min {
		return fmt.Sprintf("must be > %g", p.Min)
	}
	if v < p.Min {
		return fmt.Sprintf("must be >= %g", p.Min)
	}
	if v > p.Max {
		return fmt.Sprintf("must be <= %g", p.Max)
	}
	return ""
}

// merge validates update against the schema and returns the merged set.
// current is never modified.
func (s Schema) merge(controller string, current map[string]float64, update map[string]any) (map[string]float64, error) {
	next := make(map[string]float64, len(current))
	for k, v := range current {
		next[k] = v
	}

	for key, raw := range update {
		p, ok := s.lookup(key)
		if !ok {
			return nil, &ParameterError{Controller: controller, Key: key, Value: raw,
				Reason: fmt.Sprintf("unknown parameter, valid parameters: %v", s.names())}
		}
		v, ok := toFloat64(raw)
		if !ok {
			return nil, &ParameterError{Controller: controller, Key: key, Value: raw,
				Reason: fmt.Sprintf("expected a number, got %T", raw)}
		}
		if reason := p.check(v); reason != "" {
			return nil, &ParameterError{Controller: controller, Key: key, Value: raw, Reason: reason}
		}
		next[key] = v
	}

	if next[ParamUMin] >= next[ParamUMax] {
		return nil, &ParameterError{Controller: controller,
			Reason: fmt.Sprintf("u_min (%g) must be < u_max (%g)", next[ParamUMin], next[ParamUMax])}
	}
	return next, nil
}

// toFloat64 accepts every numeric type a caller or a JSON decoder produces.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
