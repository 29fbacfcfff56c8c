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

// Package simulated is a software stand-in for the TCLab kit: two coupled
// first-order-plus-dead-time channels stepped by a background goroutine.
package simulated

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tclab/internal/process"
	"tclab/pkg/clock"
	"tclab/pkg/logger"
)

var log = logger.New("Simulated")

// Option customizes a Process.
type Option func(*Process)

// WithClock paces the stepper on c instead of the wall clock.
func WithClock(c clock.Clock) Option {
	return func(p *Process) { p.clock = c }
}

// Stats describes the pacing health of the stepper.
type Stats struct {
	Steps   uint64
	Dropped uint64
}

// Process runs the model in its own goroutine from construction until Stop.
// Readers and writers only touch the snapshot and command registers.
type Process struct {
	params Params
	model  *Model
	clock  clock.Clock
	sink   process.LogSink

	snapshot *process.Register[process.Snapshot]
	command  *process.Register[process.Command]

	nextLog float64
	dropped atomic.Uint64
	stopped atomic.Bool

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// New validates params, publishes the initial snapshot at ambient and
// starts stepping. A nil sink discards rows.
func New(params Params, sink process.LogSink, opts ...Option) (*Process, error) {
	model, err := NewModel(params)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = process.DiscardLog{}
	}

	p := &Process{
		params:   params,
		model:    model,
		clock:    clock.Real(),
		sink:     sink,
		command:  process.NewRegister(process.Command{}),
		snapshot: process.NewRegister(model.Snapshot()),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	// the initial state is logged like any other row
	p.logRow(model.Snapshot(), process.Command{})

	dt := p.params.Dt / p.params.RealtimeFactor
	interval := time.Duration(dt * float64(time.Second))
	if interval <= 0 {
		interval = time.Nanosecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx, interval)

	log.Info("started: dt=%gs realtime_factor=%g dead time steps=%v",
		params.Dt, params.RealtimeFactor, model.DeadTimeSteps())
	return p, nil
}

func (p *Process) run(ctx context.Context, interval time.Duration) {
	defer close(p.done)

	pace := newPacer(p.clock.Now(), interval, p.params.MaxCatchUp)
	var lastWarn time.Time
	for {
		run, dropped := pace.due(p.clock.Now())
		if dropped > 0 {
			total := p.dropped.Add(uint64(dropped))
			now := p.clock.Now()
			if now.Sub(lastWarn) > 5*time.Second {
				log.Warn("stepper is late: dropped %d steps (%d total), process time now lags wall time", dropped, total)
				lastWarn = now
			}
		}
		for range run {
			if ctx.Err() != nil {
				return
			}
			p.step()
		}
		if err := p.clock.Sleep(ctx, pace.untilNext(p.clock.Now())); err != nil {
			return
		}
	}
}

func (p *Process) step() {
	cmd := p.command.Load()
	snap := p.model.Step(cmd)
	p.snapshot.Store(snap)
	if snap.Time+1e-9 >= p.nextLog {
		p.logRow(snap, cmd)
	}
}

func (p *Process) logRow(snap process.Snapshot, cmd process.Command) {
	p.nextLog += p.params.LogInterval
	err := p.sink.Append(process.Row{Time: snap.Time, T1: snap.T1, T2: snap.T2, U1: cmd.U1, U2: cmd.U2})
	if err != nil {
		log.Error("log row at t=%g: %v", snap.Time, err)
	}
}

// ReadProcessVariables returns the newest snapshot's temperatures.
func (p *Process) ReadProcessVariables() (float64, float64, error) {
	s := p.snapshot.Load()
	return s.T1, s.T2, nil
}

// Snapshot returns the newest snapshot including its process time.
func (p *Process) Snapshot() process.Snapshot {
	return p.snapshot.Load()
}

// ProcessTime is the time of the newest snapshot, in process seconds.
func (p *Process) ProcessTime() float64 {
	return p.snapshot.Load().Time
}

// WriteControlCommands replaces the current command. It is a no-op once
// the process is stopped.
func (p *Process) WriteControlCommands(u1, u2 float64) error {
	if p.stopped.Load() {
		return nil
	}
	p.command.Store(process.Command{U1: u1, U2: u2}.Clamped())
	return nil
}

// Command is the command the stepper will consume next.
func (p *Process) Command() process.Command {
	return p.command.Load()
}

func (p *Process) Stats() Stats {
	return Stats{Steps: p.snapshot.Load().Seq, Dropped: p.dropped.Load()}
}

// Stop halts the stepper and closes the log sink. Once it returns no
// further steps happen. Later calls return the first call's result.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		p.cancel()
		<-p.done
		p.stopErr = p.sink.Close()
		s := p.snapshot.Load()
		log.Info("stopped at t=%.1fs after %d steps (%d dropped)", s.Time, s.Seq, p.dropped.Load())
	})
	return p.stopErr
}
