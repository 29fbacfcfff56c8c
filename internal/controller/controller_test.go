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
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allKinds(t *testing.T) []Controller {
	t.Helper()
	var out []Controller
	for _, kind := range Kinds() {
		c, err := New(kind, nil)
		require.NoError(t, err, kind)
		out = append(out, c)
	}
	return out
}

func TestPControllerMatchesClampedLaw(t *testing.T) {
	c, err := NewP(1.0, 3.0, 0, 100)
	require.NoError(t, err)

	r := rand.New(rand.NewPCG(1, 2))
	for range 1000 {
		ref := r.Float64()*200 - 50
		meas := r.Float64()*200 - 50
		ff := r.Float64()*100 - 50
		want := Clamp(3.0*(ref-meas)+ff, 0, 100)
		assert.Equal(t, want, c.ComputeControlAction(ref, meas, ff))
	}
}

func TestPControllerSaturates(t *testing.T) {
	c, err := NewP(1.0, 2.0, 10, 60)
	require.NoError(t, err)

	assert.Equal(t, 60.0, c.ComputeControlAction(100, 0, 0))
	assert.Equal(t, 10.0, c.ComputeControlAction(0, 100, 0))
	assert.Equal(t, 30.0, c.ComputeControlAction(25, 15, 10))
}

func TestManualIgnoresInputs(t *testing.T) {
	c, err := NewManual(1.0, 42, 0, 100)
	require.NoError(t, err)

	r := rand.New(rand.NewPCG(3, 4))
	for range 200 {
		assert.Equal(t, 42.0, c.ComputeControlAction(r.NormFloat64()*100, r.NormFloat64()*100, r.NormFloat64()*100))
	}

	require.NoError(t, c.SetParameters(map[string]any{ParamManualControlAction: 250.0}))
	assert.Equal(t, 100.0, c.ComputeControlAction(0, 0, 0))

	require.NoError(t, c.SetParameters(map[string]any{ParamManualControlAction: -5}))
	assert.Equal(t, 0.0, c.ComputeControlAction(0, 0, 0))
}

func TestParameterRoundTrip(t *testing.T) {
	for _, c := range allKinds(t) {
		before := c.Parameters()
		update := make(map[string]any, len(before))
		for k, v := range before {
			update[k] = v
		}
		require.NoError(t, c.SetParameters(update), c.Kind())
		assert.Equal(t, before, c.Parameters(), c.Kind())
	}
}

func TestListOfParametersOrder(t *testing.T) {
	p, _ := New(KindP, nil)
	m, _ := New(KindManual, nil)
	pi, _ := New(KindPI, nil)

	assert.Equal(t, []string{"sampling_period", "u_min", "u_max", "Kp"}, p.ListOfParameters())
	assert.Equal(t, []string{"sampling_period", "u_min", "u_max", "manual_control_action"}, m.ListOfParameters())
	assert.Equal(t, []string{"sampling_period", "u_min", "u_max", "Kp", "Ti", "deadband"}, pi.ListOfParameters())

	for _, c := range []Controller{p, m, pi} {
		assert.Len(t, c.Parameters(), len(c.ListOfParameters()))
	}
}

func TestSetParametersIsAtomic(t *testing.T) {
	cases := map[string]map[string]any{
		"unknown key":      {"Kp": 5.0, "Kd": 1.0},
		"out of bounds":    {"Kp": 5.0, "u_max": 150.0},
		"not a number":     {"Kp": 5.0, "u_min": "zero"},
		"crossed limits":   {"Kp": 5.0, "u_min": 80.0, "u_max": 20.0},
		"zero period":      {"Kp": 5.0, "sampling_period": 0.0},
		"min above max":    {"u_min": 100.0},
		"nil value":        {"Kp": nil},
		"non finite value": {"Kp": math.Inf(1)},
	}

	for name, update := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := NewP(1.0, 2.0, 0, 100)
			require.NoError(t, err)
			before := c.Parameters()

			err = c.SetParameters(update)
			var perr *ParameterError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, KindP, perr.Controller)
			assert.Equal(t, before, c.Parameters())
		})
	}
}

func TestParameterErrorNamesKey(t *testing.T) {
	c, _ := NewP(1.0, 2.0, 0, 100)
	err := c.SetParameters(map[string]any{"Kd": 1.0})

	var perr *ParameterError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Kd", perr.Key)
	assert.Contains(t, err.Error(), "Kd")
}

func TestSetParametersAcceptsJSONNumbers(t *testing.T) {
	c, _ := NewP(1.0, 2.0, 0, 100)
	require.NoError(t, c.SetParameters(map[string]any{"Kp": 4, "u_max": float32(80)}))
	assert.Equal(t, 4.0, c.Parameters()["Kp"])
	assert.Equal(t, 80.0, c.Parameters()["u_max"])
}

func TestConstructionErrors(t *testing.T) {
	_, err := NewP(0, 1, 0, 100)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewP(1, 1, 50, 50)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewManual(-1, 0, 0, 100)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New("pid", nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestPIStartingIsBumpless(t *testing.T) {
	c, err := NewPI(1.0, 2.0, 50, 0, 100)
	require.NoError(t, err)

	c.Starting(40, 30, 35, 0)
	assert.InDelta(t, 35.0, c.ComputeControlAction(40, 30, 0), 1e-9)
}

func TestPIIntegratesTowardsSetpoint(t *testing.T) {
	c, err := NewPI(1.0, 1.0, 10, 0, 100)
	require.NoError(t, err)
	c.Starting(30, 30, 0, 0)

	first := c.ComputeControlAction(31, 30, 0)
	second := c.ComputeControlAction(31, 30, 0)
	assert.InDelta(t, 1.0, first, 1e-9)
	assert.InDelta(t, 1.1, second, 1e-9)
}

func TestPIAntiWindup(t *testing.T) {
	c, err := NewPI(1.0, 10.0, 5, 0, 100)
	require.NoError(t, err)
	c.Starting(0, 0, 0, 0)

	for range 100 {
		assert.Equal(t, 100.0, c.ComputeControlAction(100, 0, 0))
	}
	assert.Equal(t, 0.0, c.Integral())

	// leaving saturation is immediate because nothing was wound up
	assert.Equal(t, 0.0, c.ComputeControlAction(0, 1, 0))
}

func TestNaNMeasureStaysInLimits(t *testing.T) {
	assert.Equal(t, 10.0, Clamp(math.NaN(), 10, 60))

	p, err := NewP(1.0, 2.0, 10, 60)
	require.NoError(t, err)
	assert.Equal(t, 10.0, p.ComputeControlAction(30, math.NaN(), 0))

	pi, err := NewPI(1.0, 2.0, 10, 10, 60)
	require.NoError(t, err)
	pi.Starting(30, 30, 20, 0)
	assert.Equal(t, 10.0, pi.ComputeControlAction(30, math.NaN(), 0))
	assert.Equal(t, 20.0, pi.Integral())
	assert.InDelta(t, 20.0, pi.ComputeControlAction(30, 30, 0), 1e-9)
}

func TestPIDeadband(t *testing.T) {
	c, err := New(KindPI, map[string]any{"Kp": 2.0, "Ti": 10.0, "deadband": 0.5})
	require.NoError(t, err)
	c.Starting(20, 20, 10, 0)

	for range 10 {
		assert.InDelta(t, 10.0, c.ComputeControlAction(20.3, 20, 0), 1e-9)
	}
}

func TestConcurrentTuning(t *testing.T) {
	c, _ := NewP(1.0, 1.0, 0, 100)

	var wg sync.WaitGroup
	wg.Go(func() {
		for i := range 1000 {
			_ = c.SetParameters(map[string]any{"Kp": float64(i % 10), "u_max": float64(50 + i%50)})
		}
	})
	wg.Go(func() {
		for range 1000 {
			u := c.ComputeControlAction(1000, 0, 0)
			assert.GreaterOrEqual(t, u, 0.0)
			assert.LessOrEqual(t, u, 100.0)
		}
	})
	wg.Wait()
}
