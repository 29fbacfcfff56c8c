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

import "math"

// DeadTime is a fixed-depth FIFO of past commands. Each Shift returns the
// value pushed exactly Depth() shifts earlier.
type DeadTime struct {
	buf  []float64
	head int
}

// NewDeadTime sizes the queue to round(delay/dt) and fills it with initial.
func NewDeadTime(delay, dt, initial float64) *DeadTime {
	depth := int(math.Round(delay / dt))
	q := &DeadTime{buf: make([]float64, depth)}
	for i := range q.buf {
		q.buf[i] = initial
	}
	return q
}

func (q *DeadTime) Depth() int { return len(q.buf) }

// Shift pops the oldest value and pushes u. With depth 0 u passes through.
func (q *DeadTime) Shift(u float64) float64 {
	if len(q.buf) == 0 {
		return u
	}
	out := q.buf[q.head]
	q.buf[q.head] = u
	q.head = (q.head + 1) % len(q.buf)
	return out
}
