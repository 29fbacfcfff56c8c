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

// Package loop runs two SISO controllers against a process at a fixed
// cadence and owns the shutdown sequence.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tclab/internal/controller"
	"tclab/internal/events"
	"tclab/internal/process"
	"tclab/internal/setpoint"
	"tclab/pkg/clock"
	"tclab/pkg/logger"
)

var log = logger.New("Loop")

var (
	ErrInvalidConfig  = errors.New("invalid loop configuration")
	ErrAlreadyStarted = errors.New("loop already started")
)

type State int32

const (
	StateInit State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Sink receives one update per tick. Push must not block.
type Sink interface {
	Push(events.LoopUpdate)
	Close() error
}

type Config struct {
	RealtimeFactor float64
	// MaxDuration in process seconds, 0 runs until cancelled.
	MaxDuration float64
}

type Option func(*Loop)

func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithProfile sets the reference curve. Without one both references are 0
// and updates carry no setpoints.
func WithProfile(p *setpoint.Profile) Option {
	return func(l *Loop) { l.profile = p }
}

func WithSink(s Sink) Option {
	return func(l *Loop) { l.sink = s }
}

type Stats struct {
	State    string            `json:"state"`
	Ticks    uint64            `json:"ticks"`
	Overruns uint64            `json:"overruns"`
	Drift    time.Duration     `json:"drift"`
	Last     events.LoopUpdate `json:"last"`
}

type Loop struct {
	cfg     Config
	proc    process.Interface
	ctrl    [2]controller.Controller
	profile *setpoint.Profile
	sink    Sink
	clock   clock.Clock

	state    atomic.Int32
	ticks    atomic.Uint64
	overruns atomic.Uint64
	drift    atomic.Int64
	last     *process.Register[events.LoopUpdate]

	stopReq  chan struct{}
	reqOnce  sync.Once
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

func New(cfg Config, proc process.Interface, c1, c2 controller.Controller, opts ...Option) (*Loop, error) {
	if !(cfg.RealtimeFactor > 0) {
		return nil, fmt.Errorf("%w: realtime_factor must be > 0, got %g", ErrInvalidConfig, cfg.RealtimeFactor)
	}
	if cfg.MaxDuration < 0 {
		return nil, fmt.Errorf("%w: max_duration must be >= 0, got %g", ErrInvalidConfig, cfg.MaxDuration)
	}
	if proc == nil || c1 == nil || c2 == nil {
		return nil, fmt.Errorf("%w: process and both controllers are required", ErrInvalidConfig)
	}
	l := &Loop{
		cfg:     cfg,
		proc:    proc,
		ctrl:    [2]controller.Controller{c1, c2},
		clock:   clock.Real(),
		last:    process.NewRegister(events.LoopUpdate{}),
		stopReq: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) Stats() Stats {
	return Stats{
		State:    l.State().String(),
		Ticks:    l.ticks.Load(),
		Overruns: l.overruns.Load(),
		Drift:    time.Duration(l.drift.Load()),
		Last:     l.last.Load(),
	}
}

// Controllers returns the two controllers, e.g. for tuning.
func (l *Loop) Controllers() [2]controller.Controller {
	return l.ctrl
}

// Run blocks until max_duration is reached, ctx is cancelled, Stop is
// called or the process faults. Normal ends and cancellation return nil;
// a fault is returned as a *process.RuntimeFault.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateInit), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	defer close(l.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.stopReq:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := l.clock.Now()
	procTime := l.processTime(start)

	r1, r2 := l.references(procTime())
	m1, m2, err := l.proc.ReadProcessVariables()
	if err != nil {
		return l.fail("read", err)
	}
	l.ctrl[0].Starting(r1, m1, 0, 0)
	l.ctrl[1].Starting(r2, m2, 0, 0)
	log.Info("running: realtime_factor=%g max_duration=%gs controllers=%s/%s",
		l.cfg.RealtimeFactor, l.cfg.MaxDuration, l.ctrl[0].Kind(), l.ctrl[1].Kind())

	next := start
	for {
		if ctx.Err() != nil {
			return l.shutdown("cancelled")
		}
		t := procTime()
		if l.cfg.MaxDuration > 0 && t >= l.cfg.MaxDuration {
			return l.shutdown(fmt.Sprintf("max_duration %gs reached", l.cfg.MaxDuration))
		}
		if err := l.tick(t); err != nil {
			return err
		}

		next = next.Add(l.period())
		now := l.clock.Now()
		if late := now.Sub(next); late > 0 {
			l.overruns.Add(1)
			total := l.drift.Add(int64(late))
			log.Warn("tick at t=%.2fs overran by %v (drift %v)", t, late, time.Duration(total))
			next = now
			continue
		}
		// a cancelled sleep is picked up at the top of the loop
		_ = l.clock.Sleep(ctx, next.Sub(now))
	}
}

func (l *Loop) tick(t float64) error {
	r1, r2 := l.references(t)
	m1, m2, err := l.proc.ReadProcessVariables()
	if err != nil {
		return l.fail("read", err)
	}
	u1 := l.ctrl[0].ComputeControlAction(r1, m1, 0)
	u2 := l.ctrl[1].ComputeControlAction(r2, m2, 0)
	if err := l.proc.WriteControlCommands(u1, u2); err != nil {
		return l.fail("write", err)
	}

	update := events.LoopUpdate{Time: t, T1: m1, T2: m2, U1: u1, U2: u2}
	if l.profile != nil {
		update.SP1, update.SP2 = &r1, &r2
	}
	l.last.Store(update)
	l.ticks.Add(1)
	if l.sink != nil {
		l.sink.Push(update)
	}
	log.Debug("t=%.1f T1=%.2f T2=%.2f U1=%.1f U2=%.1f", t, m1, m2, u1, u2)
	return nil
}

// processTime prefers the process's own clock.
func (l *Loop) processTime(start time.Time) func() float64 {
	if c, ok := l.proc.(process.Clocked); ok {
		return c.ProcessTime
	}
	return func() float64 {
		return l.clock.Now().Sub(start).Seconds() * l.cfg.RealtimeFactor
	}
}

func (l *Loop) references(t float64) (float64, float64) {
	if l.profile == nil {
		return 0, 0
	}
	return l.profile.Setpoints(t)
}

// period follows controller 1's live sampling period.
func (l *Loop) period() time.Duration {
	ts := l.ctrl[0].Parameters()[controller.ParamSamplingPeriod]
	return time.Duration(ts / l.cfg.RealtimeFactor * float64(time.Second))
}

func (l *Loop) fail(op string, err error) error {
	var fault *process.RuntimeFault
	if !errors.As(err, &fault) {
		fault = &process.RuntimeFault{Op: op, Err: err}
	}
	log.Error("%v", fault)
	if serr := l.shutdown("fault: " + fault.Error()); serr != nil {
		return errors.Join(fault, serr)
	}
	return fault
}

// shutdown zeroes both outputs, stops the process and releases the sink,
// exactly once.
func (l *Loop) shutdown(reason string) error {
	l.stopOnce.Do(func() {
		l.state.Store(int32(StateStopping))
		log.Info("stopping: %s", reason)

		var errs []error
		if err := l.proc.WriteControlCommands(0, 0); err != nil {
			log.Warn("zero commands: %v", err)
		}
		if err := l.proc.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop process: %w", err))
		}
		if l.sink != nil {
			if err := l.sink.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close sink: %w", err))
			}
		}
		l.stopErr = errors.Join(errs...)
		l.state.Store(int32(StateStopped))
		log.Info("stopped after %d ticks (%d overruns, drift %v)",
			l.ticks.Load(), l.overruns.Load(), time.Duration(l.drift.Load()))
	})
	return l.stopErr
}

// Stop requests the shutdown sequence and waits for it. Safe to call
// repeatedly and concurrently, before or after Run.
func (l *Loop) Stop() error {
	l.reqOnce.Do(func() { close(l.stopReq) })
	if l.state.CompareAndSwap(int32(StateInit), int32(StateStopping)) {
		close(l.done)
		return l.shutdown("stopped before start")
	}
	<-l.done
	return l.shutdown("stopped")
}
