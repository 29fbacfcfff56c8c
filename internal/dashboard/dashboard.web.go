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

package dashboard

import (
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tclab/internal/events"
)

//go:embed www/dashboard.html
var indexPage []byte

const writeTimeout = 2 * time.Second

// WebAppRequest is a message from a browser client.
type WebAppRequest struct {
	Command    string         `json:"command"`
	Controller string         `json:"controller,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

type helloMessage struct {
	Type        string              `json:"type"`
	State       events.LoopState    `json:"state"`
	Controllers []ControllerInfo    `json:"controllers"`
	History     []events.LoopUpdate `json:"history"`
}

type updateMessage struct {
	Type string `json:"type"`
	events.LoopUpdate
}

type stateMessage struct {
	Type string `json:"type"`
	events.LoopState
}

type replyMessage struct {
	Type        string           `json:"type"`
	Controller  string           `json:"controller"`
	OK          bool             `json:"ok"`
	Error       string           `json:"error,omitempty"`
	Controllers []ControllerInfo `json:"controllers,omitempty"`
}

// client serializes writes to one websocket; gorilla allows a single
// concurrent writer.
type client struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *client) write(pm *websocket.PreparedMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WritePreparedMessage(pm)
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

// broadcast must be called with d.mu held.
func (d *Dashboard) broadcast(msg any) {
	if len(d.clients) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		d.log.Error("failed to marshal broadcast: %v", err)
		return
	}
	pm, err := websocket.NewPreparedMessage(websocket.TextMessage, data)
	if err != nil {
		d.log.Error("failed to prepare message: %v", err)
		return
	}
	for c := range d.clients {
		if err := c.write(pm); err != nil {
			d.log.Debug("dropping client: %v", err)
			c.ws.Close()
			delete(d.clients, c)
		}
	}
}

func (d *Dashboard) closeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.clients {
		c.ws.Close()
		delete(d.clients, c)
	}
}

// Handler serves the page, the websocket and the JSON API. It expects to be
// mounted with its prefix stripped.
func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", d.serveIndex)
	mux.HandleFunc("GET /ws", d.serveWebSockets())
	mux.HandleFunc("GET /api/controllers", d.serveControllers)
	mux.HandleFunc("POST /api/controllers/{name}", d.serveSetParameters)
	mux.HandleFunc("GET /api/history", d.serveHistory)
	return mux
}

func (d *Dashboard) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexPage)
}

func (d *Dashboard) serveWebSockets() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			d.log.Debug("checking origin: %s", origin)
			// non-browser clients send no origin
			if origin == "" {
				return true
			}
			if strings.Contains(origin, "localhost") {
				return true
			}
			return strings.Contains(origin, r.Host)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.log.Error("failed to upgrade websocket: %v", err)
			return
		}
		c := &client{ws: ws}
		if !d.attach(c) {
			ws.Close()
			return
		}
		defer func() {
			d.detach(c)
			ws.Close()
		}()

		for {
			var req WebAppRequest
			if err := ws.ReadJSON(&req); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					d.log.Debug("ws read: %v", err)
				}
				return
			}
			if err := c.writeJSON(d.handleRequest(req)); err != nil {
				d.log.Debug("ws reply: %v", err)
				return
			}
		}
	}
}

// attach sends the hello message and registers c in one step so the client
// neither misses nor repeats an update.
func (d *Dashboard) attach(c *client) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	hello := helloMessage{
		Type:        "hello",
		State:       d.state,
		Controllers: d.Controllers(),
		History:     d.history,
	}
	if err := c.writeJSON(hello); err != nil {
		d.log.Debug("ws hello: %v", err)
		return false
	}
	d.clients[c] = struct{}{}
	return true
}

func (d *Dashboard) detach(c *client) {
	d.mu.Lock()
	delete(d.clients, c)
	d.mu.Unlock()
}

func (d *Dashboard) handleRequest(req WebAppRequest) replyMessage {
	reply := replyMessage{Type: "reply", Controller: req.Controller}
	switch req.Command {
	case "set_parameters":
		if err := d.SetParameters(req.Controller, req.Params); err != nil {
			reply.Error = err.Error()
			return reply
		}
		reply.OK = true
		reply.Controllers = d.Controllers()
	case "get_parameters":
		reply.OK = true
		reply.Controllers = d.Controllers()
	default:
		reply.Error = "unknown command: " + req.Command
	}
	return reply
}

func (d *Dashboard) serveControllers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.Controllers())
}

func (d *Dashboard) serveHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.History())
}

func (d *Dashboard) serveSetParameters(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var params map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&params); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return
	}
	if err := d.SetParameters(name, params); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errUnknownController) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, d.Controllers())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
