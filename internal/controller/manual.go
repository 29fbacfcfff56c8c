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

const (
	KindManual               = "manual"
	ParamManualControlAction = "manual_control_action"
)

var manualSchema = Schema{
	{Name: ParamManualControlAction, Min: -1000, Max: 1000, Default: 0},
}

// ManualController outputs manual_control_action regardless of reference,
// measure and feedforward. Setting the parameter live gives open-loop step
// tests.
type ManualController struct {
	*base
}

func NewManual(samplingPeriod, action, uMin, uMax float64) (*ManualController, error) {
	return newManualFromParams(map[string]any{
		ParamSamplingPeriod:      samplingPeriod,
		ParamManualControlAction: action,
		ParamUMin:                uMin,
		ParamUMax:                uMax,
	})
}

func newManualFromParams(params map[string]any) (*ManualController, error) {
	b, err := newBase(KindManual, manualSchema, params)
	if err != nil {
		return nil, err
	}
	return &ManualController{base: b}, nil
}

// Starting keeps the configured action, the loop starts from it.
func (c *ManualController) Starting(reference, measure, initialU, feedforward float64) {}

func (c *ManualController) ComputeControlAction(_, _, _ float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saturate(c.values[ParamManualControlAction])
}
