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
	"math"

	"github.com/spf13/cobra"

	"tclab/internal/controller"
	"tclab/internal/events"
	"tclab/pkg/eventbus"
	"tclab/pkg/service"
)

// staircase is an open-loop input that starts at Initial, moves by Delta
// every StepDuration seconds towards Final and bounces back once there.
type staircase struct {
	Initial      float64
	Final        float64
	Delta        float64
	StepDuration float64
}

func (s staircase) validate() error {
	if !(s.Delta > 0) {
		return fmt.Errorf("delta must be > 0, got %g", s.Delta)
	}
	if !(s.StepDuration > 0) {
		return fmt.Errorf("step duration must be > 0, got %g", s.StepDuration)
	}
	for _, u := range []float64{s.Initial, s.Final} {
		if u < 0 || u > 100 {
			return fmt.Errorf("heater levels must be within [0, 100], got %g", u)
		}
	}
	return nil
}

// At returns the input at process time t.
func (s staircase) At(t float64) float64 {
	if t < 0 {
		t = 0
	}
	n := int(math.Ceil(math.Abs(s.Final-s.Initial)/s.Delta - 1e-9))
	if n == 0 {
		return s.Initial
	}
	dir := 1.0
	if s.Final < s.Initial {
		dir = -1
	}
	k := int(t/s.StepDuration) % (2 * n)
	if k > n {
		k = 2*n - k
	}
	if k == n {
		return s.Final
	}
	return s.Initial + dir*float64(k)*s.Delta
}

// stepDriver follows the loop updates and sets the manual action of the
// controller for the next tick.
func stepDriver(bus *eventbus.Bus, c controller.Controller, s staircase) service.Runnable {
	return service.RunFunc(func(ctx context.Context) {
		updates, unsub := bus.Subscribe(ctx, events.TopicLoop, false)
		defer unsub()

		current := s.Initial
		for ev := range updates {
			u, ok := ev.(events.LoopUpdate)
			if !ok {
				continue
			}
			ts := c.Parameters()[controller.ParamSamplingPeriod]
			next := s.At(u.Time + ts)
			if next == current {
				continue
			}
			if err := c.SetParameters(map[string]any{controller.ParamManualControlAction: next}); err != nil {
				log.Error("step test: %v", err)
				continue
			}
			log.Info("step test: t=%.1fs heater 1 %.1f%% -> %.1f%%", u.Time, current, next)
			current = next
		}
	})
}

func newStepTestCmd() *cobra.Command {
	s := staircase{}

	cmd := &cobra.Command{
		Use:   "steptest",
		Short: "open-loop staircase on heater 1 with manual controllers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.validate(); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.SetpointFile = ""

			c1, err := controller.NewManual(cfg.SamplingPeriod, s.Initial, 0, 100)
			if err != nil {
				return err
			}
			c2, err := controller.NewManual(cfg.SamplingPeriod, 0, 0, 100)
			if err != nil {
				return err
			}
			if err := initLogging(); err != nil {
				return err
			}

			// the bus is created by the experiment, so the driver is
			// started lazily through a wrapper
			e := &experiment{cfg: cfg, ctrls: [2]controller.Controller{c1, c2}}
			e.extra = append(e.extra, service.RunFunc(func(ctx context.Context) {
				stepDriver(cfg.EventBus, c1, s).Run(ctx)
			}))
			log.Info("step test: %g%% -> %g%% in steps of %g%% every %gs",
				s.Initial, s.Final, s.Delta, s.StepDuration)
			return e.run()
		},
	}
	cmd.Flags().Float64Var(&s.Initial, "u-initial", 0, "first heater level, %")
	cmd.Flags().Float64Var(&s.Final, "u-final", 100, "last heater level before coming back, %")
	cmd.Flags().Float64Var(&s.Delta, "delta", 20, "step size, %")
	cmd.Flags().Float64Var(&s.StepDuration, "step-duration", 300, "process seconds between steps")
	return cmd
}
