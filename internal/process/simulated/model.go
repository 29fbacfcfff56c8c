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

package simulated

import (
	"errors"
	"fmt"
	"math"

	"tclab/internal/process"
)

var ErrInvalidParams = errors.New("invalid simulated process parameters")

// Channel is the first-order-plus-dead-time response of one heater/sensor pair.
type Channel struct {
	Gain         float64 `json:"gain"`          // K, °C per %
	TimeConstant float64 `json:"time_constant"` // tau, s
	DeadTime     float64 `json:"dead_time"`     // L, s
}

type Params struct {
	// Dt is the physics step in process seconds. It does not depend on
	// RealtimeFactor.
	Dt       float64    `json:"dt"`
	Ambient  float64    `json:"ambient"`
	Channels [2]Channel `json:"channels"`
	// Coupling[0] is the gain of heater 2 on T1, Coupling[1] of heater 1
	// on T2. The cross input is delayed by the driving heater's dead time.
	Coupling [2]float64 `json:"coupling"`

	// RealtimeFactor is process seconds per wall second.
	RealtimeFactor float64 `json:"realtime_factor"`
	// MaxCatchUp bounds the steps run back-to-back when the stepper is late.
	MaxCatchUp int `json:"max_catch_up"`
	// LogInterval is the process time between logged rows, 0 logs every step.
	LogInterval float64 `json:"log_interval"`
}

// DefaultParams is a rough fit of the TCLab kit.
func DefaultParams() Params {
	return Params{
		Dt:      0.1,
		Ambient: 23,
		Channels: [2]Channel{
			{Gain: 0.9, TimeConstant: 180, DeadTime: 15},
			{Gain: 0.6, TimeConstant: 200, DeadTime: 20},
		},
		Coupling:       [2]float64{0.2, 0.25},
		RealtimeFactor: 1,
		MaxCatchUp:     10,
		LogInterval:    1,
	}
}

func (p Params) Validate() error {
	if !(p.Dt > 0) {
		return fmt.Errorf("%w: dt must be > 0, got %g", ErrInvalidParams, p.Dt)
	}
	if !(p.RealtimeFactor > 0) {
		return fmt.Errorf("%w: realtime_factor must be > 0, got %g", ErrInvalidParams, p.RealtimeFactor)
	}
	if p.MaxCatchUp < 1 {
		return fmt.Errorf("%w: max_catch_up must be >= 1, got %d", ErrInvalidParams, p.MaxCatchUp)
	}
	if p.LogInterval < 0 {
		return fmt.Errorf("%w: log_interval must be >= 0, got %g", ErrInvalidParams, p.LogInterval)
	}
	for i, ch := range p.Channels {
		if !(ch.TimeConstant > 0) {
			return fmt.Errorf("%w: channel %d time_constant must be > 0, got %g", ErrInvalidParams, i+1, ch.TimeConstant)
		}
		if ch.DeadTime < 0 {
			return fmt.Errorf("%w: channel %d dead_time must be >= 0, got %g", ErrInvalidParams, i+1, ch.DeadTime)
		}
	}
	return nil
}

// Model is the discrete-time coupled FOPDT plant. For each channel
//
//	dx/dt = (K*u_delayed + C*u_other_delayed - x) / tau,   T = ambient + x
//
// advanced with the exact zero-order-hold solution over Dt. Not safe for
// concurrent use.
type Model struct {
	params Params
	decay  [2]float64
	queues [2]*DeadTime
	x      [2]float64
	steps  uint64
}

func NewModel(params Params) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	m := &Model{params: params}
	for i, ch := range params.Channels {
		m.decay[i] = math.Exp(-params.Dt / ch.TimeConstant)
		m.queues[i] = NewDeadTime(ch.DeadTime, params.Dt, 0)
	}
	return m, nil
}

// Snapshot is the current state without stepping.
func (m *Model) Snapshot() process.Snapshot {
	return process.Snapshot{
		Time: float64(m.steps) * m.params.Dt,
		T1:   m.params.Ambient + m.x[0],
		T2:   m.params.Ambient + m.x[1],
		Seq:  m.steps,
	}
}

// Step consumes cmd into the dead-time queues and advances one Dt.
func (m *Model) Step(cmd process.Command) process.Snapshot {
	u := [2]float64{cmd.U1, cmd.U2}
	var delayed [2]float64
	for i := range u {
		delayed[i] = m.queues[i].Shift(u[i])
	}
	for i, ch := range m.params.Channels {
		input := ch.Gain*delayed[i] + m.params.Coupling[i]*delayed[1-i]
		m.x[i] = m.decay[i]*m.x[i] + (1-m.decay[i])*input
	}
	m.steps++
	return m.Snapshot()
}

// DeadTimeSteps returns the queue depth of each channel.
func (m *Model) DeadTimeSteps() [2]int {
	return [2]int{m.queues[0].Depth(), m.queues[1].Depth()}
}
