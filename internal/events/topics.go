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

package events

import (
	"sync/atomic"

	"tclab/pkg/eventbus"
)

var (
	TopicLoop      eventbus.Topic = "loop"
	TopicLoopState eventbus.Topic = "loop_state"
)

// LoopUpdate is pushed once per control tick. Nil setpoints mean there is
// no reference curve to show.
type LoopUpdate struct {
	Time float64  `json:"time"`
	T1   float64  `json:"T1"`
	T2   float64  `json:"T2"`
	U1   float64  `json:"U1"`
	U2   float64  `json:"U2"`
	SP1  *float64 `json:"SP1,omitempty"`
	SP2  *float64 `json:"SP2,omitempty"`
}

type LoopState struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// BusSink publishes loop updates on the bus. It never blocks the caller.
type BusSink struct {
	bus    *eventbus.Bus
	closed atomic.Bool
}

func NewBusSink(bus *eventbus.Bus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Push(u LoopUpdate) {
	if s.closed.Load() {
		return
	}
	s.bus.Publish(TopicLoop, u)
}

func (s *BusSink) State(state, reason string) {
	s.bus.Publish(TopicLoopState, LoopState{State: state, Reason: reason})
}

// Close stops further pushes. The bus stays open for other publishers.
func (s *BusSink) Close() error {
	s.closed.Store(true)
	return nil
}
