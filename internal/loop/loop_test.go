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

package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tclab/internal/controller"
	"tclab/internal/events"
	"tclab/internal/process"
	"tclab/internal/setpoint"
	"tclab/pkg/clock"
)

type fakeProcess struct {
	mu      sync.Mutex
	t1, t2  float64
	reads   int
	writes  []process.Command
	stops   int
	failAt  int
	failErr error
	onRead  func(n int)
}

func (p *fakeProcess) ReadProcessVariables() (float64, float64, error) {
	p.mu.Lock()
	p.reads++
	n := p.reads
	hook := p.onRead
	t1, t2 := p.t1, p.t2
	fail := p.failAt > 0 && n >= p.failAt
	p.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if fail {
		return 0, 0, p.failErr
	}
	return t1, t2, nil
}

func (p *fakeProcess) WriteControlCommands(u1, u2 float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, process.Command{U1: u1, U2: u2})
	return nil
}

func (p *fakeProcess) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakeProcess) state() ([]process.Command, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]process.Command(nil), p.writes...), p.stops
}

// clockedProcess reports its own process time, five seconds per read.
type clockedProcess struct {
	fakeProcess
}

func (p *clockedProcess) ProcessTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.reads) * 5
}

type recordingSink struct {
	mu      sync.Mutex
	updates []events.LoopUpdate
	closes  int
}

func (s *recordingSink) Push(u events.LoopUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func pControllers(t *testing.T, kp, uMax float64) (controller.Controller, controller.Controller) {
	t.Helper()
	c1, err := controller.NewP(1, kp, 0, uMax)
	require.NoError(t, err)
	c2, err := controller.NewP(1, kp, 0, uMax)
	require.NoError(t, err)
	return c1, c2
}

func TestRunsUntilMaxDuration(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	proc := &fakeProcess{t1: 20, t2: 20}
	sink := &recordingSink{}
	c1, c2 := pControllers(t, 2, 100)

	l, err := New(Config{RealtimeFactor: 1, MaxDuration: 10}, proc, c1, c2,
		WithClock(vc), WithSink(sink), WithProfile(setpoint.Constant(30, 40)))
	require.NoError(t, err)

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, StateStopped, l.State())
	assert.Equal(t, uint64(10), l.Stats().Ticks)

	writes, stops := proc.state()
	assert.Equal(t, 1, stops)
	require.Len(t, writes, 11)
	assert.Equal(t, process.Command{U1: 20, U2: 40}, writes[0])
	assert.Equal(t, process.Command{}, writes[10])

	require.Len(t, sink.updates, 10)
	assert.Equal(t, 1, sink.closes)
	first := sink.updates[0]
	require.NotNil(t, first.SP1)
	require.NotNil(t, first.SP2)
	assert.Equal(t, 30.0, *first.SP1)
	assert.Equal(t, 40.0, *first.SP2)
	assert.Equal(t, 9.0, sink.updates[9].Time)
}

func TestRealtimeFactorCompressesWallTime(t *testing.T) {
	start := time.Unix(0, 0)
	vc := clock.NewVirtual(start)
	proc := &fakeProcess{t1: 20, t2: 20}
	c1, c2 := pControllers(t, 1, 100)

	l, err := New(Config{RealtimeFactor: 10, MaxDuration: 60}, proc, c1, c2, WithClock(vc))
	require.NoError(t, err)
	require.NoError(t, l.Run(context.Background()))

	assert.InDelta(t, 6.0, vc.Now().Sub(start).Seconds(), 0.11)
	assert.InDelta(t, 60, float64(l.Stats().Ticks), 1)
}

func TestPrefersProcessClock(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	proc := &clockedProcess{fakeProcess{t1: 20, t2: 20}}
	sink := &recordingSink{}
	c1, c2 := pControllers(t, 1, 100)

	l, err := New(Config{RealtimeFactor: 1, MaxDuration: 20}, proc, c1, c2, WithClock(vc), WithSink(sink))
	require.NoError(t, err)
	require.NoError(t, l.Run(context.Background()))

	// the first read happens before the first tick, then one per tick
	require.Len(t, sink.updates, 3)
	assert.Equal(t, 5.0, sink.updates[0].Time)
	assert.Equal(t, 15.0, sink.updates[2].Time)
	assert.Nil(t, sink.updates[0].SP1)
}

func TestFaultRunsShutdownSequence(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	cause := errors.New("usb disconnected")
	proc := &fakeProcess{t1: 20, t2: 20, failAt: 4, failErr: cause}
	sink := &recordingSink{}
	c1, c2 := pControllers(t, 1, 100)

	l, err := New(Config{RealtimeFactor: 1}, proc, c1, c2, WithClock(vc), WithSink(sink))
	require.NoError(t, err)

	err = l.Run(context.Background())
	require.ErrorIs(t, err, cause)
	var fault *process.RuntimeFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "read", fault.Op)

	writes, stops := proc.state()
	assert.Equal(t, 1, stops)
	assert.Equal(t, process.Command{}, writes[len(writes)-1])
	assert.Equal(t, 1, sink.closes)
	assert.Equal(t, StateStopped, l.State())
	assert.Equal(t, uint64(2), l.Stats().Ticks)
}

func TestCancellationStopsWithinOneTick(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	proc := &fakeProcess{t1: 20, t2: 20}
	proc.onRead = func(n int) {
		if n == 6 {
			cancel()
		}
	}
	c1, c2 := pControllers(t, 1, 100)

	l, err := New(Config{RealtimeFactor: 1}, proc, c1, c2, WithClock(vc))
	require.NoError(t, err)
	require.NoError(t, l.Run(ctx))

	assert.Equal(t, uint64(5), l.Stats().Ticks)
	writes, stops := proc.state()
	assert.Equal(t, 1, stops)
	assert.Equal(t, process.Command{}, writes[len(writes)-1])
}

func TestOverrunAccruesDrift(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	proc := &fakeProcess{t1: 20, t2: 20}
	proc.onRead = func(n int) {
		if n > 1 {
			vc.Advance(1500 * time.Millisecond)
		}
	}
	c1, c2 := pControllers(t, 1, 100)

	l, err := New(Config{RealtimeFactor: 1, MaxDuration: 10}, proc, c1, c2, WithClock(vc))
	require.NoError(t, err)
	require.NoError(t, l.Run(context.Background()))

	s := l.Stats()
	assert.Equal(t, uint64(7), s.Ticks)
	assert.Equal(t, s.Ticks, s.Overruns)
	assert.Equal(t, time.Duration(s.Ticks)*500*time.Millisecond, s.Drift)
}

func TestCommandsStayWithinLimits(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	proc := &fakeProcess{t1: -50, t2: 500}
	c1, c2 := pControllers(t, 1000, 60)

	l, err := New(Config{RealtimeFactor: 1, MaxDuration: 5}, proc, c1, c2,
		WithClock(vc), WithProfile(setpoint.Constant(50, 50)))
	require.NoError(t, err)
	require.NoError(t, l.Run(context.Background()))

	writes, _ := proc.state()
	for _, w := range writes {
		assert.GreaterOrEqual(t, w.U1, 0.0)
		assert.LessOrEqual(t, w.U1, 60.0)
		assert.GreaterOrEqual(t, w.U2, 0.0)
		assert.LessOrEqual(t, w.U2, 60.0)
	}
	assert.Equal(t, 60.0, writes[0].U1)
	assert.Equal(t, 0.0, writes[0].U2)
}

func TestConcurrentStopIsIdempotent(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	proc := &fakeProcess{t1: 20, t2: 20}
	sink := &recordingSink{}
	c1, c2 := pControllers(t, 1, 100)

	l, err := New(Config{RealtimeFactor: 1}, proc, c1, c2, WithClock(vc), WithSink(sink))
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- l.Run(context.Background()) }()
	assert.Eventually(t, func() bool { return l.Stats().Ticks > 10 }, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() { assert.NoError(t, l.Stop()) })
	}
	wg.Wait()
	require.NoError(t, <-runErr)

	_, stops := proc.state()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, sink.closes)
	assert.Equal(t, StateStopped, l.State())
}

func TestStopBeforeRun(t *testing.T) {
	proc := &fakeProcess{}
	c1, c2 := pControllers(t, 1, 100)
	l, err := New(Config{RealtimeFactor: 1}, proc, c1, c2)
	require.NoError(t, err)

	require.NoError(t, l.Stop())
	require.NoError(t, l.Stop())
	assert.ErrorIs(t, l.Run(context.Background()), ErrAlreadyStarted)

	writes, stops := proc.state()
	assert.Equal(t, 1, stops)
	assert.Equal(t, []process.Command{{}}, writes)
}

func TestConfigValidation(t *testing.T) {
	proc := &fakeProcess{}
	c1, c2 := pControllers(t, 1, 100)

	_, err := New(Config{RealtimeFactor: 0}, proc, c1, c2)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{RealtimeFactor: 1, MaxDuration: -1}, proc, c1, c2)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{RealtimeFactor: 1}, nil, c1, c2)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
