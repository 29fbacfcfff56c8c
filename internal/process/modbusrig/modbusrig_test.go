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

package modbusrig

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tclab/pkg/modbus"
)

type fakeRegisters struct {
	values map[string]float64
	fail   string
	closed bool
}

func (f *fakeRegisters) ReadFloat(name string) (float64, error) {
	if name == f.fail {
		return 0, errors.New("illegal data address")
	}
	return f.values[name], nil
}

func (f *fakeRegisters) WriteFloat(name string, v float64) error {
	if name == f.fail {
		return errors.New("illegal data address")
	}
	f.values[name] = v
	return nil
}

func (f *fakeRegisters) Close() error {
	f.closed = true
	return nil
}

func TestDeviceMapsRegisters(t *testing.T) {
	regs := &fakeRegisters{values: map[string]float64{RegT1: 31.2, RegT2: 28.4}}
	d := &Device{regs: regs}

	t1, t2, err := d.ReadTemperatures()
	require.NoError(t, err)
	assert.Equal(t, 31.2, t1)
	assert.Equal(t, 28.4, t2)

	require.NoError(t, d.WriteHeaters(40, 15))
	assert.Equal(t, 40.0, regs.values[RegQ1])
	assert.Equal(t, 15.0, regs.values[RegQ2])

	require.NoError(t, d.Close())
	assert.True(t, regs.closed)
}

func TestDeviceWriteErrorStillWritesOtherHeater(t *testing.T) {
	regs := &fakeRegisters{values: map[string]float64{}, fail: RegQ1}
	d := &Device{regs: regs}

	assert.Error(t, d.WriteHeaters(40, 15))
	assert.Equal(t, 15.0, regs.values[RegQ2])
}

func TestDialChecksRegisterMap(t *testing.T) {
	cfg, err := modbus.ParseConfig([]byte(`
registers:
  t1: {address: 1, data_type: int16, scale: 0.1}
  t2: {address: 2, data_type: int16, scale: 0.1}
  q1: {address: 3, data_type: uint16, writable: true}
  q2: {address: 4, data_type: uint16}
`))
	require.NoError(t, err)

	_, err = Dial(context.Background(), cfg)
	assert.ErrorContains(t, err, `"q2" is not writable`)
}
