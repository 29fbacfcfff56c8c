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

package modbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	wrapper "github.com/grid-x/modbus"

	"tclab/pkg/logger"
)

const maxBackoff = 30 * time.Second

type Client struct {
	mu      sync.Mutex
	handler *wrapper.TCPClientHandler
	client  wrapper.Client
	config  *Config
	log     *logger.Logger
	ctx     context.Context
}

// NewClient connects a Modbus TCP client. It retries with backoff up to
// ConnectAttempts times, or until ctx is done when that is 0.
func NewClient(ctx context.Context, config *Config) (*Client, error) {
	c := &Client{
		config: config,
		log:    logger.New("ModbusConn"),
		ctx:    ctx,
	}
	if err := c.connectWithRetry(config.Modbus.ConnectAttempts); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connectWithRetry(attempts int) error {
	backoff := time.Second
	for attempt := 1; ; attempt++ {
		err := c.connect()
		if err == nil {
			return nil
		}
		if attempts > 0 && attempt >= attempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		c.log.Error("Modbus connect failed: %v (retrying in %v)", err, backoff)

		t := time.NewTimer(backoff)
		select {
		case <-c.ctx.Done():
			t.Stop()
			return errors.Join(err, c.ctx.Err())
		case <-t.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// connect (re)connects the Modbus client once.
func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler != nil {
		_ = c.handler.Close()
	}

	url := fmt.Sprintf("%s:%d", c.config.Modbus.Host, c.config.Modbus.Port)
	handler := wrapper.NewTCPClientHandler(url)
	handler.SlaveID = c.config.Modbus.SlaveID
	handler.Timeout = time.Second * time.Duration(c.config.Modbus.Timeout)
	handler.ProtocolRecoveryTimeout = 250 * time.Millisecond
	handler.LinkRecoveryTimeout = 5 * time.Second

	c.log.Info("Connecting to %s...", url)
	if err := handler.Connect(c.ctx); err != nil {
		return fmt.Errorf("modbus connect failed: %w", err)
	}

	c.handler = handler
	c.client = wrapper.NewClient(handler)
	c.log.Info("Connected to %s", url)
	return nil
}

// retry runs op twice at most, reconnecting once between attempts when
// the failure looks like a broken link. The error is returned to the
// caller, which decides whether it is fatal.
func (c *Client) retry(op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	if !isConnError(err) {
		c.log.Debug("retry after err: %+v", err)
		return op()
	}

	c.log.Warn("connection error: %v, reconnecting", err)
	if cerr := c.connectWithRetry(3); cerr != nil {
		return errors.Join(err, cerr)
	}
	return op()
}

// ReadRegisters reads holding registers, reconnecting once if needed.
func (c *Client) ReadRegisters(ctx context.Context, addr, quantity uint16) ([]byte, error) {
	var data []byte
	err := c.retry(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		var rerr error
		data, rerr = c.client.ReadHoldingRegisters(ctx, addr, quantity)
		return rerr
	})
	return data, err
}

// Close closes the underlying handler.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		return c.handler.Close()
	}
	return nil
}

func isConnError(err error) bool {
	if err == nil {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "closed by the remote host") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection refused")
}
