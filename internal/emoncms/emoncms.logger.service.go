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

package emoncms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tclab/internal/config"
	"tclab/internal/events"
	"tclab/pkg/eventbus"
	"tclab/pkg/logger"
	"tclab/pkg/service"
)

type loggerService struct {
	addr     string
	apiKey   string
	node     string
	interval time.Duration
	log      *logger.Logger
	bus      *eventbus.Bus
	client   *http.Client

	lastTime float64
	posted   bool
}

// New posts the latest loop update to an emoncms input node every
// interval. Updates that have not changed since the last post are skipped.
func New(appConfig *config.Config) service.Runnable {
	return &loggerService{
		addr:     strings.TrimRight(appConfig.DataLogger.EmonCMSAddr, "/"),
		apiKey:   appConfig.DataLogger.EmonCMSApiKey,
		node:     appConfig.DataLogger.Node,
		interval: time.Duration(appConfig.DataLogger.IntervalSeconds) * time.Second,
		log:      logger.New("DataLogger"),
		bus:      appConfig.EventBus,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *loggerService) emoncmsInputPost(ctx context.Context, node string, data map[string]float64) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	q := url.Values{}
	q.Set("node", node)
	q.Set("apikey", c.apiKey)
	q.Set("fulljson", string(bytes))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+"/input/post?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("emoncms: %s", resp.Status)
	}
	return nil
}

func loopData(u events.LoopUpdate) map[string]float64 {
	data := map[string]float64{
		"T1": u.T1,
		"T2": u.T2,
		"U1": u.U1,
		"U2": u.U2,
	}
	if u.SP1 != nil {
		data["SP1"] = *u.SP1
	}
	if u.SP2 != nil {
		data["SP2"] = *u.SP2
	}
	return data
}

func (c *loggerService) tick(ctx context.Context) {
	ev, ok := c.bus.GetLast(events.TopicLoop)
	if !ok {
		return
	}
	u, ok := ev.(events.LoopUpdate)
	if !ok || (c.posted && u.Time == c.lastTime) {
		return
	}
	if err := c.emoncmsInputPost(ctx, c.node, loopData(u)); err != nil {
		c.log.Error("emoncmsInputPost: %v", err)
		return
	}
	c.lastTime, c.posted = u.Time, true
}

func (c *loggerService) Run(ctx context.Context) {
	c.log.Info("Running...")
	defer c.log.Info("Stopped.")

	tick := time.NewTicker(c.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.tick(ctx)
		}
	}
}
