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

package modbus

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ReadFloat reads a register by name and returns its engineering value.
// Bool registers read as 0 or 1.
func (c *Client) ReadFloat(name string) (float64, error) {
	reg, ok := c.config.Registers[name]
	if !ok {
		return 0, fmt.Errorf("register %q not configured", name)
	}
	n, err := registerCount(reg.DataType)
	if err != nil {
		return 0, fmt.Errorf("register %q: %w", name, err)
	}

	raw, err := c.ReadRegisters(c.ctx, reg.Address, n)
	if err != nil {
		return 0, fmt.Errorf("register read failed for %s: %w", name, err)
	}
	v, err := decode(reg, raw)
	if err != nil {
		return 0, fmt.Errorf("register %q: %w", name, err)
	}
	return v, nil
}

// WriteFloat converts an engineering value to the register's raw
// representation and writes it.
func (c *Client) WriteFloat(name string, value float64) error {
	reg, ok := c.config.Registers[name]
	if !ok {
		return fmt.Errorf("register %q not configured", name)
	}
	if !reg.Writable {
		return fmt.Errorf("register %q is not writable", name)
	}
	raw, n, err := encode(reg, value)
	if err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}

	c.log.Debug("WriteRegister '%s' <- %v", name, value)
	err = c.retry(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, werr := c.client.WriteMultipleRegisters(c.ctx, reg.Address, n, raw)
		return werr
	})
	if err != nil {
		return fmt.Errorf("failed to write register %q: %w", name, err)
	}
	return nil
}

func registerCount(dataType string) (uint16, error) {
	switch dataType {
	case "uint16", "int16", "bool":
		return 1, nil
	case "float32":
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported data type %q", dataType)
	}
}

func decode(reg RegisterDef, raw []byte) (float64, error) {
	n, err := registerCount(reg.DataType)
	if err != nil {
		return 0, err
	}
	if len(raw) < int(n*2) {
		return 0, fmt.Errorf("short read: %d bytes", len(raw))
	}

	var v float64
	switch reg.DataType {
	case "float32":
		v = float64(math.Float32frombits(binary.BigEndian.Uint32(raw)))
	case "int16":
		v = float64(int16(binary.BigEndian.Uint16(raw)))
	case "uint16":
		v = float64(binary.BigEndian.Uint16(raw))
	case "bool":
		if binary.BigEndian.Uint16(raw) != 0 {
			return 1, nil
		}
		return 0, nil
	}
	if reg.Scale != 0 {
		v = v*reg.Scale + reg.Offset
	}
	return v, nil
}

func encode(reg RegisterDef, value float64) ([]byte, uint16, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, 0, fmt.Errorf("value %v is not finite", value)
	}
	if reg.Scale != 0 && reg.DataType != "bool" {
		value = (value - reg.Offset) / reg.Scale
	}

	switch reg.DataType {
	case "float32":
		if value > math.MaxFloat32 || value < -math.MaxFloat32 {
			return nil, 0, fmt.Errorf("value %v out of float32 range", value)
		}
		raw := make([]byte, 4)
		binary.BigEndian.PutUint32(raw, math.Float32bits(float32(value)))
		return raw, 2, nil

	case "int16":
		ival := int64(math.Round(value))
		if ival < math.MinInt16 || ival > math.MaxInt16 {
			return nil, 0, fmt.Errorf("value %v out of int16 range", value)
		}
		return uint16ToBytes(uint16(ival)), 1, nil

	case "uint16":
		ival := math.Round(value)
		if ival < 0 || ival > math.MaxUint16 {
			return nil, 0, fmt.Errorf("value %v out of uint16 range", value)
		}
		return uint16ToBytes(uint16(ival)), 1, nil

	case "bool":
		if value != 0 {
			return uint16ToBytes(math.MaxUint16), 1, nil
		}
		return uint16ToBytes(0), 1, nil

	default:
		return nil, 0, fmt.Errorf("unsupported data type %q", reg.DataType)
	}
}

func uint16ToBytes(v uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return buf
}
