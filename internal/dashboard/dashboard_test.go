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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tclab/internal/controller"
	"tclab/internal/events"
	"tclab/pkg/eventbus"
)

func newControllers(t *testing.T) [2]controller.Controller {
	t.Helper()
	c1, err := controller.NewP(1, 2, 0, 100)
	require.NoError(t, err)
	c2, err := controller.NewPI(1, 3, 60, 0, 100)
	require.NoError(t, err)
	return [2]controller.Controller{c1, c2}
}

func TestHistoryWindow(t *testing.T) {
	d := New(eventbus.New(), newControllers(t), 10)
	for i := range 21 {
		d.push(events.LoopUpdate{Time: float64(i)})
	}
	h := d.History()
	require.Len(t, h, 11)
	assert.Equal(t, 10.0, h[0].Time)
	assert.Equal(t, 20.0, h[10].Time)
}

func TestControllerAPI(t *testing.T) {
	d := New(eventbus.New(), newControllers(t), 100)
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/controllers")
	require.NoError(t, err)
	var list []ControllerInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 2)
	assert.Equal(t, controller.KindP, list[0].Kind)
	assert.Equal(t, []string{"sampling_period", "u_min", "u_max", "Kp"}, list[0].Order)
	assert.Equal(t, controller.KindPI, list[1].Kind)

	post := func(name, body string) int {
		resp, err := http.Post(srv.URL+"/api/controllers/"+name, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusOK, post("1", `{"Kp": 7.5}`))
	assert.Equal(t, 7.5, d.Controllers()[0].Parameters["Kp"])

	assert.Equal(t, http.StatusBadRequest, post("1", `{"u_min": 90, "u_max": 10}`))
	assert.Equal(t, 0.0, d.Controllers()[0].Parameters["u_min"])
	assert.Equal(t, http.StatusBadRequest, post("2", `not json`))
	assert.Equal(t, http.StatusNotFound, post("3", `{"Kp": 1}`))
}

func TestWebSocketSession(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	ctrls := newControllers(t)
	d := New(bus, ctrls, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	sp := 30.0
	for i := range 3 {
		bus.Publish(events.TopicLoop, events.LoopUpdate{Time: float64(i), T1: 21, SP1: &sp, SP2: &sp})
		require.Eventually(t, func() bool { return len(d.History()) == i+1 }, time.Second, time.Millisecond)
	}

	srv := httptest.NewServer(d.Handler())
	defer srv.Close()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello helloMessage
	require.NoError(t, ws.ReadJSON(&hello))
	assert.Equal(t, "hello", hello.Type)
	assert.Len(t, hello.History, 3)
	assert.Len(t, hello.Controllers, 2)

	require.NoError(t, ws.WriteJSON(WebAppRequest{Command: "set_parameters", Controller: "2", Params: map[string]any{"Kp": 5}}))
	var reply replyMessage
	require.NoError(t, ws.ReadJSON(&reply))
	assert.True(t, reply.OK)
	assert.Equal(t, 5.0, ctrls[1].Parameters()["Kp"])

	require.NoError(t, ws.WriteJSON(WebAppRequest{Command: "set_parameters", Controller: "2", Params: map[string]any{"sampling_period": 0}}))
	reply = replyMessage{}
	require.NoError(t, ws.ReadJSON(&reply))
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "sampling_period")
	assert.Equal(t, 1.0, ctrls[1].Parameters()["sampling_period"])

	bus.Publish(events.TopicLoop, events.LoopUpdate{Time: 3, T1: 22.5})
	var raw map[string]any
	require.NoError(t, ws.ReadJSON(&raw))
	assert.Equal(t, "update", raw["type"])
	assert.Equal(t, 3.0, raw["time"])
	assert.Equal(t, 22.5, raw["T1"])
	assert.NotContains(t, raw, "SP1")
}
