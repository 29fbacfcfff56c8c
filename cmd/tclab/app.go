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

package main

import (
	"context"
	"fmt"
	"time"

	"tclab/internal/config"
	"tclab/internal/controller"
	"tclab/internal/dashboard"
	"tclab/internal/datalog"
	"tclab/internal/emoncms"
	"tclab/internal/events"
	"tclab/internal/loop"
	"tclab/internal/process"
	"tclab/internal/process/modbusrig"
	"tclab/internal/process/realprocess"
	"tclab/internal/process/simulated"
	"tclab/internal/process/tclabserial"
	"tclab/pkg/appctx"
	"tclab/pkg/eventbus"
	"tclab/pkg/logger"
	"tclab/pkg/modbus"
	"tclab/pkg/rootserv"
	"tclab/pkg/service"
	"tclab/pkg/sysmon"
)

var log = logger.New("TCLab")

// experiment wires a process, two controllers and the monitoring surfaces
// into one run.
type experiment struct {
	cfg   *config.Config
	ctrls [2]controller.Controller
	// extra services started next to the loop, e.g. the step test driver
	extra []service.Runnable
}

func openLogSink(cfg *config.Config) (process.LogSink, error) {
	if cfg.DataLog.Disabled {
		return process.DiscardLog{}, nil
	}
	path := datalog.FileName(cfg.Path(cfg.DataLog.Dir), time.Now())
	sink, err := datalog.Create(path)
	if err != nil {
		return nil, err
	}
	log.Info("data log: %s", path)
	return sink, nil
}

func openProcess(ctx context.Context, cfg *config.Config, sink process.LogSink) (process.Interface, error) {
	switch cfg.Process {
	case config.ProcessSimulated:
		return simulated.New(cfg.SimulatedParams(), sink)

	case config.ProcessSerial:
		dev, err := tclabserial.Open(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return nil, err
		}
		return realprocess.New(dev, cfg.RealProcessConfig(), sink)

	case config.ProcessModbus:
		regs, err := modbus.LoadConfig(cfg.Path(cfg.Modbus.RegisterFile))
		if err != nil {
			return nil, err
		}
		dev, err := modbusrig.Dial(ctx, regs)
		if err != nil {
			return nil, err
		}
		return realprocess.New(dev, cfg.RealProcessConfig(), sink)
	}
	return nil, fmt.Errorf("unknown process backend %q", cfg.Process)
}

func loopStats(l *loop.Loop) sysmon.Provider {
	return func() map[string]any {
		s := l.Stats()
		return map[string]any{
			"state":    s.State,
			"ticks":    s.Ticks,
			"overruns": s.Overruns,
			"drift":    s.Drift.String(),
			"time":     s.Last.Time,
			"T1":       s.Last.T1,
			"T2":       s.Last.T2,
			"U1":       s.Last.U1,
			"U2":       s.Last.U2,
		}
	}
}

func simulatorStats(p *simulated.Process) sysmon.Provider {
	return func() map[string]any {
		s := p.Stats()
		return map[string]any{
			"steps":         s.Steps,
			"dropped_steps": s.Dropped,
			"process_time":  p.ProcessTime(),
		}
	}
}

func rigStats(p *realprocess.Process) sysmon.Provider {
	return func() map[string]any {
		snap := p.Snapshot()
		fault := ""
		if err := p.Fault(); err != nil {
			fault = err.Error()
		}
		return map[string]any{
			"T1":           snap.T1,
			"T2":           snap.T2,
			"process_time": p.ProcessTime(),
			"fault":        fault,
		}
	}
}

// run blocks until the loop ends, then stops every other service. It
// returns the loop's error: nil for a normal end or an interrupt.
func (e *experiment) run() error {
	cfg := e.cfg
	ctx, cancel := appctx.New()
	defer cancel()

	bus := eventbus.New()
	defer bus.Close()
	cfg.EventBus = bus

	profile, err := cfg.LoadProfile()
	if err != nil {
		return err
	}

	logSink, err := openLogSink(cfg)
	if err != nil {
		return err
	}
	proc, err := openProcess(ctx, cfg, logSink)
	if err != nil {
		logSink.Close()
		return err
	}

	sink := events.NewBusSink(bus)
	l, err := loop.New(loop.Config{RealtimeFactor: cfg.RealtimeFactor, MaxDuration: cfg.MaxDuration},
		proc, e.ctrls[0], e.ctrls[1], loop.WithProfile(profile), loop.WithSink(sink))
	if err != nil {
		proc.Stop()
		return err
	}

	var loopErr error
	services := []service.Runnable{
		service.RunFunc(func(ctx context.Context) {
			// the whole application ends with the loop
			defer cancel()
			sink.State(loop.StateRunning.String(), "")
			loopErr = l.Run(ctx)
			reason := ""
			if loopErr != nil {
				reason = loopErr.Error()
			}
			sink.State(loop.StateStopped.String(), reason)
		}),
	}
	services = append(services, e.extra...)

	if cfg.Dashboard.Addr != "" {
		monitor := sysmon.New()
		monitor.WatchDisk(cfg.Path(cfg.DataLog.Dir))
		monitor.Add("loop", loopStats(l))
		switch p := proc.(type) {
		case *simulated.Process:
			monitor.Add("simulator", simulatorStats(p))
		case *realprocess.Process:
			monitor.Add("rig", rigStats(p))
		}

		dash := dashboard.New(bus, l.Controllers(), cfg.Dashboard.TimeWindow)
		server := rootserv.New(cfg.Dashboard.Addr)
		server.Attach("/dashboard", "Live plot and controller tuning", dash.Handler())
		server.Attach("/logger", "Logger", logger.WebService())
		server.Attach("/monitor", "System Monitor", monitor)
		server.SetMainPage("/dashboard")
		services = append(services, dash, server)
	}
	if cfg.DataLogger.EmonCMSAddr != "" {
		services = append(services, emoncms.New(cfg))
	}

	exitCh := service.Start(ctx, cancel, services)

	// waits for all services to stop
	if code := <-exitCh; code != 0 {
		// a panicking service cancelled the context, make sure the rig is safe
		if err := l.Stop(); err != nil {
			log.Error("stop: %v", err)
		}
		return fmt.Errorf("service panic, exit code %d", code)
	}
	return loopErr
}
