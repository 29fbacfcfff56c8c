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

// Package tclabserial talks to the TCLab Arduino firmware over USB serial.
// The firmware answers each newline-terminated command with one line.
package tclabserial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"tclab/pkg/logger"
)

var log = logger.New("TCLabSerial")

var ErrTimeout = errors.New("tclab: no response")

const (
	DefaultBaud    = 115200
	DefaultTimeout = 2 * time.Second

	// the board resets when the port opens
	bootDelay = 2 * time.Second
)

// known USB ids of boards shipped with the kit
var knownBoards = []struct{ vid, pid string }{
	{"16D0", "0613"}, // Arduino Uno
	{"2341", "0043"}, // Arduino Uno
	{"2341", "8036"}, // Arduino Leonardo
	{"1A86", "7523"}, // CH340 clone
	{"10C4", "EA60"}, // CP210x clone
}

// Device is safe for concurrent use; commands are serialized.
type Device struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	timeout time.Duration
	pending []byte
}

// Find returns the first serial port whose USB id matches a TCLab board.
func Find() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		for _, b := range knownBoards {
			if strings.EqualFold(p.VID, b.vid) && strings.EqualFold(p.PID, b.pid) {
				log.Info("found board %s:%s on %s", p.VID, p.PID, p.Name)
				return p.Name, nil
			}
		}
	}
	return "", errors.New("no TCLab board found")
}

// Open connects to portName, or searches for the board when portName is
// empty or "auto".
func Open(portName string, baud int) (*Device, error) {
	if portName == "" || portName == "auto" {
		found, err := Find()
		if err != nil {
			return nil, err
		}
		portName = found
	}
	if baud <= 0 {
		baud = DefaultBaud
	}

	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	// Read returns (0, nil) after this much silence
	if err := port.SetReadTimeout(50 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", portName, err)
	}
	time.Sleep(bootDelay)
	if err := port.ResetInputBuffer(); err != nil {
		log.Warn("reset input buffer: %v", err)
	}

	d := newDevice(port, DefaultTimeout)
	v, err := d.Version()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("handshake on %s: %w", portName, err)
	}
	log.Info("connected to %s at %d baud, firmware %q", portName, baud, v)
	return d, nil
}

func newDevice(c io.ReadWriteCloser, timeout time.Duration) *Device {
	return &Device{port: c, timeout: timeout}
}

// Version asks the firmware to identify itself.
func (d *Device) Version() (string, error) {
	return d.send("VER")
}

func (d *Device) ReadTemperatures() (float64, float64, error) {
	t1, err := d.query("T1")
	if err != nil {
		return 0, 0, err
	}
	t2, err := d.query("T2")
	if err != nil {
		return 0, 0, err
	}
	return t1, t2, nil
}

func (d *Device) WriteHeaters(u1, u2 float64) error {
	if _, err := d.query(fmt.Sprintf("Q1 %.2f", u1)); err != nil {
		return err
	}
	if _, err := d.query(fmt.Sprintf("Q2 %.2f", u2)); err != nil {
		return err
	}
	return nil
}

// Close switches the heaters off and releases the port.
func (d *Device) Close() error {
	_, xerr := d.send("X")
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.port.Close(); err != nil {
		return err
	}
	if xerr != nil {
		log.Warn("shutdown command: %v", xerr)
	}
	return nil
}

func (d *Device) query(cmd string) (float64, error) {
	reply, err := d.send(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(reply, 64)
	if err != nil {
		return 0, fmt.Errorf("tclab %s: unexpected reply %q", cmd, reply)
	}
	return v, nil
}

func (d *Device) send(cmd string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := io.WriteString(d.port, cmd+"\n"); err != nil {
		return "", fmt.Errorf("tclab %s: %w", cmd, err)
	}
	line, err := d.readLine()
	if err != nil {
		return "", fmt.Errorf("tclab %s: %w", cmd, err)
	}
	log.Debug("%s -> %s", cmd, line)
	return line, nil
}

func (d *Device) readLine() (string, error) {
	deadline := time.Now().Add(d.timeout)
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(d.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(d.pending[:i]))
			d.pending = d.pending[i+1:]
			return line, nil
		}
		n, err := d.port.Read(buf)
		if n > 0 {
			d.pending = append(d.pending, buf[:n]...)
			continue
		}
		if err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
	}
}
