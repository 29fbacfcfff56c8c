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

// Package modbusrig drives a thermal rig exposed through Modbus TCP
// registers, e.g. a PLC with two heater outputs and two RTD inputs.
package modbusrig

import (
	"context"
	"errors"

	"tclab/pkg/modbus"
)

// Register names expected in the YAML register map.
const (
	RegT1 = "t1"
	RegT2 = "t2"
	RegQ1 = "q1"
	RegQ2 = "q2"
)

type registers interface {
	ReadFloat(name string) (float64, error)
	WriteFloat(name string, value float64) error
	Close() error
}

type Device struct {
	regs registers
}

// Dial connects to the rig described by cfg.
func Dial(ctx context.Context, cfg *modbus.Config) (*Device, error) {
	if err := cfg.Require(false, RegT1, RegT2); err != nil {
		return nil, err
	}
	if err := cfg.Require(true, RegQ1, RegQ2); err != nil {
		return nil, err
	}
	client, err := modbus.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Device{regs: client}, nil
}

func (d *Device) ReadTemperatures() (float64, float64, error) {
	t1, err := d.regs.ReadFloat(RegT1)
	if err != nil {
		return 0, 0, err
	}
	t2, err := d.regs.ReadFloat(RegT2)
	if err != nil {
		return 0, 0, err
	}
	return t1, t2, nil
}

func (d *Device) WriteHeaters(u1, u2 float64) error {
	return errors.Join(
		d.regs.WriteFloat(RegQ1, u1),
		d.regs.WriteFloat(RegQ2, u2),
	)
}

func (d *Device) Close() error {
	return d.regs.Close()
}
