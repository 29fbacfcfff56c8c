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

package realprocess

import (
	"fmt"
	"math"
	"time"
)

// Limits bounds what a sensor reading may look like before it is trusted.
type Limits struct {
	MinTemp float64 `json:"min_temp"`
	MaxTemp float64 `json:"max_temp"`
	// MaxRate is the largest believable change in °C per second.
	MaxRate float64 `json:"max_rate"`
}

func DefaultLimits() Limits {
	return Limits{MinTemp: -40, MaxTemp: 200, MaxRate: 5}
}

type reading struct {
	at    time.Time
	value float64
}

// checkTemperature rejects readings that are outside the sensor range or
// that jumped faster than the kit can heat or cool.
func (l Limits) checkTemperature(name string, value float64, at time.Time, prev *reading) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%s is not a number", name)
	}
	if value < l.MinTemp {
		return fmt.Errorf("%s too low: %.2f°C", name, value)
	}
	if value > l.MaxTemp {
		return fmt.Errorf("%s too high: %.2f°C", name, value)
	}
	if prev == nil || l.MaxRate <= 0 {
		return nil
	}

	dt := at.Sub(prev.at).Seconds()
	if dt < 1 {
		dt = 1
	}
	delta := math.Abs(value - prev.value)
	if delta > l.MaxRate*dt {
		return fmt.Errorf("%s changed too fast: Δ%.1f°C in %v", name, delta, at.Sub(prev.at).Truncate(time.Millisecond))
	}
	return nil
}
