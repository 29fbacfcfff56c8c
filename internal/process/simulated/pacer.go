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

import "time"

// pacer schedules physics steps at absolute wall deadlines start+n*interval.
// A late stepper catches up at most maxCatchUp steps per wake-up; any
// backlog beyond that is dropped by moving start forward, so process time
// falls behind wall time instead of bursting.
type pacer struct {
	start      time.Time
	interval   time.Duration
	steps      int64
	maxCatchUp int64
}

func newPacer(start time.Time, interval time.Duration, maxCatchUp int) *pacer {
	return &pacer{start: start, interval: interval, maxCatchUp: int64(maxCatchUp)}
}

// due returns how many steps to run now and how many were dropped.
func (p *pacer) due(now time.Time) (run, dropped int64) {
	target := int64(now.Sub(p.start) / p.interval)
	behind := target - p.steps
	if behind <= 0 {
		return 0, 0
	}
	run = behind
	if behind > p.maxCatchUp {
		dropped = behind - p.maxCatchUp
		run = p.maxCatchUp
		p.start = p.start.Add(time.Duration(dropped) * p.interval)
	}
	p.steps += run
	return run, dropped
}

// untilNext is the wait before the next step is due.
func (p *pacer) untilNext(now time.Time) time.Duration {
	next := p.start.Add(time.Duration(p.steps+1) * p.interval)
	return next.Sub(now)
}
