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

// Package process defines the contract between the control loop and a
// two-heater/two-sensor thermal process, real or simulated.
package process

import (
	"fmt"
	"sync/atomic"
)

// Interface is implemented identically by the simulated plant and the real
// rig adapters.
type Interface interface {
	// ReadProcessVariables returns the temperatures of the newest snapshot.
	// It never blocks on the acquisition cadence.
	ReadProcessVariables() (t1, t2 float64, err error)
	// WriteControlCommands clamps both commands to [0,100] and replaces the
	// current command. It never waits for the plant to consume it.
	WriteControlCommands(u1, u2 float64) error
	// Stop terminates the background activity and flushes the log sink.
	// It is idempotent.
	Stop() error
}

// Clocked is implemented by processes that keep their own process time.
type Clocked interface {
	ProcessTime() float64
}

const (
	UMin = 0.0
	UMax = 100.0
)

// Snapshot is one published measurement. Time is process seconds.
type Snapshot struct {
	Time float64
	T1   float64
	T2   float64
	Seq  uint64
}

// Command is the heater command pair, in percent.
type Command struct {
	U1 float64
	U2 float64
}

// Clamped returns the command limited to [UMin, UMax]. NaN becomes 0.
func (c Command) Clamped() Command {
	return Command{U1: clamp(c.U1), U2: clamp(c.U2)}
}

func clamp(u float64) float64 {
	if u != u {
		return UMin
	}
	if u < UMin {
		return UMin
	}
	if u > UMax {
		return UMax
	}
	return u
}

// Register is a single-slot, last-write-wins value. Load and Store replace
// the whole value, so readers never observe a partially written one.
type Register[T any] struct {
	p atomic.Pointer[T]
}

func NewRegister[T any](initial T) *Register[T] {
	r := &Register[T]{}
	r.Store(initial)
	return r
}

func (r *Register[T]) Store(v T) {
	r.p.Store(&v)
}

func (r *Register[T]) Load() T {
	if p := r.p.Load(); p != nil {
		return *p
	}
	var zero T
	return zero
}

// Row is one line of the experiment log.
type Row struct {
	Time float64
	T1   float64
	T2   float64
	U1   float64
	U2   float64
}

// LogSink receives rows in time order. Close flushes pending rows.
type LogSink interface {
	Append(Row) error
	Close() error
}

// DiscardLog is a LogSink that drops every row.
type DiscardLog struct{}

func (DiscardLog) Append(Row) error { return nil }
func (DiscardLog) Close() error     { return nil }

// RuntimeFault is a read or write failure of the process. The control loop
// stops when it sees one.
type RuntimeFault struct {
	Op  string
	Err error
}

func (f *RuntimeFault) Error() string {
	return fmt.Sprintf("process fault during %s: %v", f.Op, f.Err)
}

func (f *RuntimeFault) Unwrap() error { return f.Err }
