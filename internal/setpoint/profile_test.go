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

package setpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleCSV = `t,T1,T2
0,25,25
300,40,25
600,50,30
900,50,50
1200,30,30
`

func example(t *testing.T) *Profile {
	t.Helper()
	p, err := Read(strings.NewReader(exampleCSV))
	require.NoError(t, err)
	return p
}

func pair(a, b float64) [2]float64 { return [2]float64{a, b} }

func get(p *Profile, t float64) [2]float64 {
	t1, t2 := p.Setpoints(t)
	return pair(t1, t2)
}

func TestZeroOrderHold(t *testing.T) {
	p := example(t)
	require.Equal(t, 1200.0, p.Period())

	assert.Equal(t, pair(25, 25), get(p, 0))
	assert.Equal(t, pair(25, 25), get(p, 150))
	assert.Equal(t, pair(40, 25), get(p, 300))
	assert.Equal(t, pair(40, 25), get(p, 599.999))
	assert.Equal(t, pair(50, 30), get(p, 600))
	assert.Equal(t, pair(50, 50), get(p, 1199))
	assert.Equal(t, get(p, 50), get(p, 1250))
	assert.Equal(t, pair(25, 25), get(p, 1250))
}

func TestPeriodicity(t *testing.T) {
	p := example(t)
	for i := range 600 {
		tm := -2500 + float64(i)*12.5
		assert.Equal(t, get(p, tm), get(p, tm+p.Period()), "t=%v", tm)
	}
}

func TestSingleSampleIsConstant(t *testing.T) {
	p, err := Read(strings.NewReader("t,T1,T2\n0,35,45\n"))
	require.NoError(t, err)

	assert.Equal(t, 0.0, p.Period())
	for _, tm := range []float64{0, 1, 1e6, -3} {
		assert.Equal(t, pair(35, 45), get(p, tm))
	}
	assert.Equal(t, pair(20, 21), get(Constant(20, 21), 99))
}

func TestColumnsByName(t *testing.T) {
	p, err := Read(strings.NewReader("T2, t, T1, note\n30,0,20,start\n35,10,25,step\n"))
	require.NoError(t, err)
	assert.Equal(t, pair(25, 35), get(p, 10))
}

func TestInvalidProfiles(t *testing.T) {
	cases := map[string]string{
		"empty file":        "",
		"header only":       "t,T1,T2\n",
		"missing column":    "t,T1\n0,20\n",
		"first not zero":    "t,T1,T2\n5,20,20\n10,30,30\n",
		"not increasing":    "t,T1,T2\n0,20,20\n10,30,30\n10,40,40\n",
		"decreasing":        "t,T1,T2\n0,20,20\n10,30,30\n5,40,40\n",
		"malformed number":  "t,T1,T2\n0,20,abc\n",
		"short row":         "t,T1,T2\n0,20\n",
		"not a number time": "t,T1,T2\n0,20,20\nNaN,1,1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(body))
			assert.ErrorIs(t, err, ErrInvalidProfile)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.csv")
	require.NoError(t, os.WriteFile(path, []byte(exampleCSV), 0644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, p.Samples(), 5)

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
