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
	KindP   = "p"
	ParamKp = "Kp"
)

var pSchema = Schema{
	{Name: ParamKp, Min: -1000, Max: 1000, Default: 1},
}

// PController is a stateless proportional controller:
//
//	u = clamp(Kp*(reference-measure) + feedforward, u_min, u_max)
type PController struct {
	*base
}

func NewP(samplingPeriod, kp, uMin, uMax float64) (*PController, error) {
	return newPFromParams(map[string]any{
		ParamSamplingPeriod: samplingPeriod,
		ParamKp:             kp,
		ParamUMin:           uMin,
		ParamUMax:           uMax,
	})
}

func newPFromParams(params map[string]any) (*PController, error) {
	b, err := newBase(KindP, pSchema, params)
	if err != nil {
		return nil, err
	}
	return &PController{base: b}, nil
}

// Starting is a no-op, a pure P controller has no state.
func (c *PController) Starting(reference, measure, initialU, feedforward float64) {}

func (c *PController) ComputeControlAction(reference, measure, feedforward float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.values[ParamKp]*(reference-measure) + feedforward
	return c.saturate(u)
}
