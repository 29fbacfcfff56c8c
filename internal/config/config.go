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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"tclab/internal/controller"
	"tclab/internal/process/realprocess"
	"tclab/internal/process/simulated"
	"tclab/internal/setpoint"
	"tclab/pkg/eventbus"
)

// Process backends.
const (
	ProcessSimulated = "simulated"
	ProcessSerial    = "serial"
	ProcessModbus    = "modbus"
)

var backends = []string{ProcessSimulated, ProcessSerial, ProcessModbus}

// ConfigurationError reports an invalid construction parameter. The run
// never starts when one is returned.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

type ControllerConfig struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

type SimulatedConfig struct {
	Dt         float64              `json:"dt"`
	Ambient    float64              `json:"ambient"`
	Channels   [2]simulated.Channel `json:"channels"`
	Coupling   [2]float64           `json:"coupling"`
	MaxCatchUp int                  `json:"max_catch_up"`
}

type SerialConfig struct {
	Port string `json:"port"` // "auto" searches by USB id
	Baud int    `json:"baud"`
}

type ModbusRigConfig struct {
	RegisterFile string `json:"register_file"`
}

type RealConfig struct {
	PollIntervalSeconds float64            `json:"poll_interval_seconds"`
	MaxInvalid          int                `json:"max_invalid"`
	Limits              realprocess.Limits `json:"limits"`
}

type DataLogConfig struct {
	Disabled        bool    `json:"disabled"`
	Dir             string  `json:"dir"`
	IntervalSeconds float64 `json:"interval_seconds"`
}

type DashboardConfig struct {
	Addr string `json:"addr"`
	// TimeWindow is the history kept for new clients, process seconds.
	TimeWindow float64 `json:"time_window"`
}

type DataLoggerConfig struct {
	EmonCMSAddr     string `json:"emoncms_addr"`
	EmonCMSApiKey   string `json:"emoncms_apikey"`
	Node            string `json:"node"`
	IntervalSeconds int    `json:"interval_seconds"`
}

type Config struct {
	Process        string  `json:"process"`
	RealtimeFactor float64 `json:"realtime_factor"`
	// MaxDuration in process seconds, 0 runs until interrupted.
	MaxDuration float64 `json:"max_duration"`
	// SamplingPeriod applies to both controllers unless their params set it.
	SamplingPeriod float64 `json:"sampling_period"`
	SetpointFile   string  `json:"setpoint_file"`

	Controllers [2]ControllerConfig `json:"controllers"`
	Simulated   SimulatedConfig     `json:"simulated"`
	Serial      SerialConfig        `json:"serial"`
	Modbus      ModbusRigConfig     `json:"modbus"`
	Real        RealConfig          `json:"real"`
	DataLog     DataLogConfig       `json:"datalog"`
	Dashboard   DashboardConfig     `json:"dashboard"`
	DataLogger  DataLoggerConfig    `json:"datalogger"`

	// not loaded from file, but added here to
	// pass to all services alongside config
	RootDir  string        `json:"-"`
	EventBus *eventbus.Bus `json:"-"`
}

// Default is the configuration used when no file exists. Decode starts
// from it, so a field written as 0 in the file keeps that value.
func Default() *Config {
	sim := simulated.DefaultParams()
	rp := realprocess.DefaultConfig()
	c := &Config{
		Process:        ProcessSimulated,
		RealtimeFactor: 1,
		SamplingPeriod: 1,
		Simulated: SimulatedConfig{
			Dt:         sim.Dt,
			Ambient:    sim.Ambient,
			Channels:   sim.Channels,
			Coupling:   sim.Coupling,
			MaxCatchUp: sim.MaxCatchUp,
		},
		Real: RealConfig{
			PollIntervalSeconds: rp.PollInterval.Seconds(),
			MaxInvalid:          rp.MaxInvalid,
			Limits:              rp.Limits,
		},
		DataLog:    DataLogConfig{IntervalSeconds: 1},
		Dashboard:  DashboardConfig{Addr: ":8080", TimeWindow: 3000},
		DataLogger: DataLoggerConfig{IntervalSeconds: 10},
	}
	c.fillEmpty()
	return c
}

// LoadFile decodes path and validates the result.
func LoadFile(path string) (*Config, error) {
	c, err := Decode(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Decode reads path over the defaults without validating, so that
// command line overrides can be applied first.
func Decode(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	c := Default()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return nil, &ConfigurationError{Field: filepath.Base(path), Reason: err.Error(), Err: err}
	}
	c.fillEmpty()
	return c, nil
}

// fillEmpty restores defaults that have no meaningful empty value. A short
// JSON array zeroes the remaining elements, which lands here too.
func (c *Config) fillEmpty() {
	sim := simulated.DefaultParams()

	if c.Process == "" {
		c.Process = ProcessSimulated
	}
	for i := range c.Controllers {
		if c.Controllers[i].Type == "" {
			c.Controllers[i].Type = controller.KindP
		}
	}
	for i := range c.Simulated.Channels {
		if c.Simulated.Channels[i] == (simulated.Channel{}) {
			c.Simulated.Channels[i] = sim.Channels[i]
		}
	}
	if c.Serial.Port == "" {
		c.Serial.Port = "auto"
	}
	if c.Modbus.RegisterFile == "" {
		c.Modbus.RegisterFile = "var/config/tclab.modbus.yml"
	}
	if c.DataLog.Dir == "" {
		c.DataLog.Dir = "var/logs"
	}
	if c.DataLogger.Node == "" {
		c.DataLogger.Node = "tclab"
	}
}

// Validate checks everything that can be checked before the run starts.
func (c *Config) Validate() error {
	if !slices.Contains(backends, c.Process) {
		return &ConfigurationError{Field: "process", Reason: fmt.Sprintf("unknown backend %q (valid: %v)", c.Process, backends)}
	}
	if !(c.RealtimeFactor > 0) || math.IsInf(c.RealtimeFactor, 0) {
		return &ConfigurationError{Field: "realtime_factor", Reason: fmt.Sprintf("must be > 0, got %g", c.RealtimeFactor)}
	}
	if c.Process != ProcessSimulated && c.RealtimeFactor != 1 {
		return &ConfigurationError{Field: "realtime_factor", Reason: "a real process runs in real time"}
	}
	if c.MaxDuration < 0 {
		return &ConfigurationError{Field: "max_duration", Reason: fmt.Sprintf("must be >= 0, got %g", c.MaxDuration)}
	}
	if !(c.SamplingPeriod > 0) {
		return &ConfigurationError{Field: "sampling_period", Reason: fmt.Sprintf("must be > 0, got %g", c.SamplingPeriod)}
	}
	if _, err := c.NewControllers(); err != nil {
		return err
	}
	if err := c.SimulatedParams().Validate(); err != nil {
		return &ConfigurationError{Field: "simulated", Reason: err.Error(), Err: err}
	}
	if !(c.Real.PollIntervalSeconds > 0) {
		return &ConfigurationError{Field: "real.poll_interval_seconds", Reason: "must be > 0"}
	}
	if c.DataLog.IntervalSeconds < 0 {
		return &ConfigurationError{Field: "datalog.interval_seconds", Reason: "must be >= 0"}
	}
	if c.Dashboard.TimeWindow < 0 {
		return &ConfigurationError{Field: "dashboard.time_window", Reason: "must be >= 0"}
	}
	if c.DataLogger.EmonCMSAddr != "" && c.DataLogger.IntervalSeconds <= 0 {
		return &ConfigurationError{Field: "datalogger.interval_seconds", Reason: "must be > 0"}
	}
	return nil
}

// NewControllers builds the two controllers described by the config.
func (c *Config) NewControllers() ([2]controller.Controller, error) {
	var out [2]controller.Controller
	for i, cc := range c.Controllers {
		params := map[string]any{controller.ParamSamplingPeriod: c.SamplingPeriod}
		for k, v := range cc.Params {
			params[k] = v
		}
		ctrl, err := controller.New(cc.Type, params)
		if err != nil {
			return out, &ConfigurationError{Field: fmt.Sprintf("controllers[%d]", i), Reason: err.Error(), Err: err}
		}
		out[i] = ctrl
	}
	return out, nil
}

func (c *Config) SimulatedParams() simulated.Params {
	return simulated.Params{
		Dt:             c.Simulated.Dt,
		Ambient:        c.Simulated.Ambient,
		Channels:       c.Simulated.Channels,
		Coupling:       c.Simulated.Coupling,
		RealtimeFactor: c.RealtimeFactor,
		MaxCatchUp:     c.Simulated.MaxCatchUp,
		LogInterval:    c.DataLog.IntervalSeconds,
	}
}

func (c *Config) RealProcessConfig() realprocess.Config {
	return realprocess.Config{
		PollInterval: seconds(c.Real.PollIntervalSeconds),
		LogInterval:  seconds(c.DataLog.IntervalSeconds),
		Limits:       c.Real.Limits,
		MaxInvalid:   c.Real.MaxInvalid,
	}
}

// LoadProfile loads the setpoint file, or returns nil when none is set.
func (c *Config) LoadProfile() (*setpoint.Profile, error) {
	if c.SetpointFile == "" {
		return nil, nil
	}
	p, err := setpoint.Load(c.Path(c.SetpointFile))
	if err != nil {
		field := "setpoint_file"
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigurationError{Field: field, Reason: "file not found: " + c.SetpointFile, Err: err}
		}
		return nil, &ConfigurationError{Field: field, Reason: err.Error(), Err: err}
	}
	return p, nil
}

// Path resolves a config-relative path against RootDir.
func (c *Config) Path(p string) string {
	if filepath.IsAbs(p) || c.RootDir == "" {
		return p
	}
	return filepath.Join(c.RootDir, p)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
