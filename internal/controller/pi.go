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
	"math"

	"tclab/pkg/logger"
)

const (
	KindPI        = "pi"
	ParamTi       = "Ti"
	ParamDeadband = "deadband"
)

var piSchema = Schema{
	{Name: ParamKp, Min: -1000, Max: 1000, Default: 1},
	{Name: ParamTi, Min: 0, Max: 1e5, Default: 0},
	{Name: ParamDeadband, Min: 0, Max: 100, Default: 0},
}

// PIController is a positional PI controller sampled every sampling_period:
//
//	u = clamp(Kp*e + I + feedforward, u_min, u_max)
//	I += Kp*Ts/Ti * e
//
// Ti == 0 disables integral action. Errors smaller than deadband count as
// zero. While the output is saturated, an integral step is only taken when
// it moves the output back inside the limits.
type PIController struct {
	*base
	integral float64
	log      *logger.Logger
}

func NewPI(samplingPeriod, kp, ti, uMin, uMax float64) (*PIController, error) {
	return newPIFromParams(map[string]any{
		ParamSamplingPeriod: samplingPeriod,
		ParamKp:             kp,
		ParamTi:             ti,
		ParamUMin:           uMin,
		ParamUMax:           uMax,
	})
}

func newPIFromParams(params map[string]any) (*PIController, error) {
	b, err := newBase(KindPI, piSchema, params)
	if err != nil {
		return nil, err
	}
	return &PIController{base: b, log: logger.New("PI Control")}, nil
}

// Starting aligns the integrator so the first output equals initialU.
func (c *PIController) Starting(reference, measure, initialU, feedforward float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.integral = 0
	if c.values[ParamTi] > 0 {
		c.integral = initialU - c.values[ParamKp]*c.deviation(reference, measure) - feedforward
	}
	c.log.Debug("starting: r=%.2f y=%.2f u0=%.2f I=%.2f", reference, measure, initialU, c.integral)
}

func (c *PIController) ComputeControlAction(reference, measure, feedforward float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	kp, ti, ts := c.values[ParamKp], c.values[ParamTi], c.values[ParamSamplingPeriod]
	err := c.deviation(reference, measure)

	if ti <= 0 {
		c.integral = 0
	}

	raw := kp*err + c.integral + feedforward
	u := c.saturate(raw)

	if ti > 0 && !math.IsNaN(err) {
		step := kp * ts / ti * err
		// only integrate when it moves the output back inside the limits
		if u == raw || math.Signbit(step) != math.Signbit(raw-u) {
			c.integral += step
		}
	}

	c.log.Debug("e=%.2f I=%.2f raw=%.2f u=%.2f", err, c.integral, raw, u)
	return u
}

// Integral returns the current integrator value.
func (c *PIController) Integral() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.integral
}

func (c *PIController) deviation(reference, measure float64) float64 {
	e := reference - measure
	if math.Abs(e) < c.values[ParamDeadband] {
		return 0
	}
	return e
}
