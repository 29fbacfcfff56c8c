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

// Package dashboard is the live monitoring and tuning surface: it follows
// the loop topic on the event bus, keeps a window of history for new
// clients and forwards parameter changes to the controllers.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tclab/internal/controller"
	"tclab/internal/events"
	"tclab/pkg/eventbus"
	"tclab/pkg/logger"
)

// ControllerInfo describes one controller to a client.
type ControllerInfo struct {
	Name       string             `json:"name"`
	Kind       string             `json:"kind"`
	Order      []string           `json:"order"`
	Parameters map[string]float64 `json:"parameters"`
}

type Dashboard struct {
	log    *logger.Logger
	bus    *eventbus.Bus
	names  []string
	ctrls  map[string]controller.Controller
	window float64

	// guards history, state and the client set
	mu      sync.Mutex
	history []events.LoopUpdate
	state   events.LoopState
	clients map[*client]struct{}
}

// New builds a dashboard for the two loop controllers, named "1" and "2".
// window is the history kept for new clients, in process seconds.
func New(bus *eventbus.Bus, ctrls [2]controller.Controller, window float64) *Dashboard {
	return &Dashboard{
		log:     logger.New("Dashboard"),
		bus:     bus,
		names:   []string{"1", "2"},
		ctrls:   map[string]controller.Controller{"1": ctrls[0], "2": ctrls[1]},
		window:  window,
		clients: make(map[*client]struct{}),
	}
}

// Run follows the loop topics until ctx is cancelled, then disconnects
// every client.
func (d *Dashboard) Run(ctx context.Context) {
	d.log.Info("Running...")
	updates, unsubUpdates := d.bus.Subscribe(ctx, events.TopicLoop, true)
	defer unsubUpdates()
	states, unsubStates := d.bus.Subscribe(ctx, events.TopicLoopState, true)
	defer unsubStates()

	for {
		select {
		case <-ctx.Done():
			d.closeAll()
			d.log.Info("Stopped")
			return
		case ev, ok := <-updates:
			if !ok {
				d.closeAll()
				return
			}
			if u, ok := ev.(events.LoopUpdate); ok {
				d.push(u)
			}
		case ev, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if s, ok := ev.(events.LoopState); ok {
				d.setState(s)
			}
		}
	}
}

// push records u and broadcasts it.
func (d *Dashboard) push(u events.LoopUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, u)
	cut := 0
	for cut < len(d.history)-1 && d.history[cut].Time < u.Time-d.window {
		cut++
	}
	if cut > 0 {
		d.history = append(d.history[:0], d.history[cut:]...)
	}
	d.broadcast(updateMessage{Type: "update", LoopUpdate: u})
}

func (d *Dashboard) setState(s events.LoopState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
	d.broadcast(stateMessage{Type: "state", LoopState: s})
}

// History returns a copy of the retained window.
func (d *Dashboard) History() []events.LoopUpdate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]events.LoopUpdate(nil), d.history...)
}

// Controllers lists both controllers with their current parameters.
func (d *Dashboard) Controllers() []ControllerInfo {
	out := make([]ControllerInfo, 0, len(d.names))
	for _, name := range d.names {
		c := d.ctrls[name]
		out = append(out, ControllerInfo{
			Name:       name,
			Kind:       c.Kind(),
			Order:      c.ListOfParameters(),
			Parameters: c.Parameters(),
		})
	}
	return out
}

var errUnknownController = errors.New("unknown controller")

// SetParameters forwards a parameter update to the named controller.
func (d *Dashboard) SetParameters(name string, params map[string]any) error {
	c, ok := d.ctrls[name]
	if !ok {
		return fmt.Errorf("%w %q (valid: %v)", errUnknownController, name, d.names)
	}
	if err := c.SetParameters(params); err != nil {
		d.log.Warn("rejected parameters for controller %s: %v", name, err)
		return err
	}
	d.log.Info("controller %s parameters: %v", name, c.Parameters())
	return nil
}
