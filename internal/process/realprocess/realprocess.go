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

// Package realprocess adapts a physical two-heater device to the process
// interface. A poller goroutine reads the sensors and applies the newest
// command, so the control loop never waits on the device.
package realprocess

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tclab/internal/process"
	"tclab/pkg/clock"
	"tclab/pkg/logger"
)

var log = logger.New("RealProcess")

// Device is the raw hardware access used by the poller. Calls are made from
// a single goroutine.
type Device interface {
	ReadTemperatures() (t1, t2 float64, err error)
	WriteHeaters(u1, u2 float64) error
	Close() error
}

type Config struct {
	PollInterval time.Duration
	LogInterval  time.Duration
	Limits       Limits
	// MaxInvalid is how many implausible readings in a row become a fault.
	MaxInvalid int
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		LogInterval:  time.Second,
		Limits:       DefaultLimits(),
		MaxInvalid:   5,
	}
}

type Option func(*Process)

func WithClock(c clock.Clock) Option {
	return func(p *Process) { p.clock = c }
}

type Process struct {
	dev   Device
	cfg   Config
	clock clock.Clock
	sink  process.LogSink
	start time.Time

	snapshot *process.Register[process.Snapshot]
	command  *process.Register[process.Command]
	fault    atomic.Pointer[process.RuntimeFault]
	stopped  atomic.Bool

	// poller-owned
	applied process.Command
	prev    [2]*reading
	invalid int
	nextLog time.Time
	seq     uint64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// New takes ownership of dev. The first reading is taken before New
// returns so the initial snapshot is a real measurement. The heaters are
// switched off.
func New(dev Device, cfg Config, sink process.LogSink, opts ...Option) (*Process, error) {
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be > 0, got %v", cfg.PollInterval)
	}
	if cfg.MaxInvalid < 1 {
		cfg.MaxInvalid = 1
	}
	if sink == nil {
		sink = process.DiscardLog{}
	}
	p := &Process{
		dev:     dev,
		cfg:     cfg,
		clock:   clock.Real(),
		sink:    sink,
		command: process.NewRegister(process.Command{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.start = p.clock.Now()

	if err := dev.WriteHeaters(0, 0); err != nil {
		dev.Close()
		return nil, fmt.Errorf("switch heaters off: %w", err)
	}
	t1, t2, err := dev.ReadTemperatures()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("initial reading: %w", err)
	}
	for i, v := range [2]float64{t1, t2} {
		if err := cfg.Limits.checkTemperature(fmt.Sprintf("T%d", i+1), v, p.start, nil); err != nil {
			dev.Close()
			return nil, fmt.Errorf("initial reading: %w", err)
		}
		p.prev[i] = &reading{at: p.start, value: v}
	}
	first := process.Snapshot{Time: 0, T1: t1, T2: t2}
	p.snapshot = process.NewRegister(first)
	p.nextLog = p.start
	p.logRow(p.start, first)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)

	log.Info("started: T1=%.2f T2=%.2f, polling every %v", t1, t2, cfg.PollInterval)
	return p, nil
}

func (p *Process) run(ctx context.Context) {
	defer close(p.done)
	for {
		if err := p.clock.Sleep(ctx, p.cfg.PollInterval); err != nil {
			return
		}
		if err := p.poll(); err != nil {
			p.fault.CompareAndSwap(nil, err)
			log.Error("%v", err)
			return
		}
	}
}

func (p *Process) poll() *process.RuntimeFault {
	now := p.clock.Now()
	t1, t2, err := p.dev.ReadTemperatures()
	if err != nil {
		return &process.RuntimeFault{Op: "read", Err: err}
	}

	last := p.snapshot.Load()
	values := [2]float64{t1, t2}
	var bad error
	for i, v := range values {
		if err := p.cfg.Limits.checkTemperature(fmt.Sprintf("T%d", i+1), v, now, p.prev[i]); err != nil {
			bad = errors.Join(bad, err)
		}
	}
	if bad != nil {
		p.invalid++
		log.Warn("implausible reading %d/%d: %v", p.invalid, p.cfg.MaxInvalid, bad)
		if p.invalid >= p.cfg.MaxInvalid {
			return &process.RuntimeFault{Op: "read", Err: bad}
		}
		values = [2]float64{last.T1, last.T2}
	} else {
		p.invalid = 0
		for i, v := range values {
			p.prev[i] = &reading{at: now, value: v}
		}
	}

	p.seq++
	snap := process.Snapshot{
		Time: now.Sub(p.start).Seconds(),
		T1:   values[0],
		T2:   values[1],
		Seq:  p.seq,
	}
	p.snapshot.Store(snap)

	cmd := p.command.Load()
	if cmd != p.applied {
		if err := p.dev.WriteHeaters(cmd.U1, cmd.U2); err != nil {
			return &process.RuntimeFault{Op: "write", Err: err}
		}
		p.applied = cmd
	}

	if !now.Before(p.nextLog) {
		p.logRow(now, snap)
	}
	return nil
}

func (p *Process) logRow(now time.Time, snap process.Snapshot) {
	p.nextLog = p.nextLog.Add(p.cfg.LogInterval)
	if p.nextLog.Before(now) {
		p.nextLog = now.Add(p.cfg.LogInterval)
	}
	row := process.Row{Time: snap.Time, T1: snap.T1, T2: snap.T2, U1: p.applied.U1, U2: p.applied.U2}
	if err := p.sink.Append(row); err != nil {
		log.Error("log row at t=%g: %v", snap.Time, err)
	}
}

// ReadProcessVariables returns the newest accepted reading. After a fault
// it keeps returning the last values alongside the fault.
func (p *Process) ReadProcessVariables() (float64, float64, error) {
	s := p.snapshot.Load()
	if f := p.fault.Load(); f != nil {
		return s.T1, s.T2, f
	}
	return s.T1, s.T2, nil
}

func (p *Process) Snapshot() process.Snapshot {
	return p.snapshot.Load()
}

// ProcessTime is wall seconds since the first reading.
func (p *Process) ProcessTime() float64 {
	return p.clock.Now().Sub(p.start).Seconds()
}

// WriteControlCommands stores the clamped command for the poller.
func (p *Process) WriteControlCommands(u1, u2 float64) error {
	if p.stopped.Load() {
		return nil
	}
	if f := p.fault.Load(); f != nil {
		return f
	}
	p.command.Store(process.Command{U1: u1, U2: u2}.Clamped())
	return nil
}

// Fault returns the sticky runtime fault, or nil.
func (p *Process) Fault() error {
	if f := p.fault.Load(); f != nil {
		return f
	}
	return nil
}

// Stop halts polling, switches the heaters off and releases the device.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		p.cancel()
		<-p.done

		var errs []error
		if err := p.dev.WriteHeaters(0, 0); err != nil {
			errs = append(errs, fmt.Errorf("switch heaters off: %w", err))
		}
		if err := p.dev.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close device: %w", err))
		}
		if err := p.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log: %w", err))
		}
		p.stopErr = errors.Join(errs...)
		log.Info("stopped after %d readings", p.seq)
	})
	return p.stopErr
}
