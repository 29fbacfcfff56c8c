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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Modbus    ModbusConfig           `yaml:"modbus"`
	Registers map[string]RegisterDef `yaml:"registers"`
}

type ModbusConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	SlaveID byte   `yaml:"slave_id"`
	Timeout int    `yaml:"timeout"` // seconds
	// ConnectAttempts bounds the initial connection, 0 retries until the
	// context is cancelled.
	ConnectAttempts int `yaml:"connect_attempts"`
}

type RegisterDef struct {
	Address     uint16  `yaml:"address"`
	DataType    string  `yaml:"data_type"` // "uint16", "int16", "bool", "float32"
	Scale       float64 `yaml:"scale"`     // raw*scale+offset when set
	Offset      float64 `yaml:"offset"`
	Description string  `yaml:"description"`
	Writable    bool    `yaml:"writable"`
}

// LoadConfig reads a YAML register map.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read modbus config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse modbus config: %w", err)
	}
	if config.Modbus.Port == 0 {
		config.Modbus.Port = 502
	}
	if config.Modbus.Timeout == 0 {
		config.Modbus.Timeout = 2
	}
	for name, reg := range config.Registers {
		if _, err := registerCount(reg.DataType); err != nil {
			return nil, fmt.Errorf("register %q: %w", name, err)
		}
	}
	return &config, nil
}

// Require checks that every named register is configured, and writable
// when asked to be.
func (c *Config) Require(writable bool, names ...string) error {
	for _, name := range names {
		reg, ok := c.Registers[name]
		if !ok {
			return fmt.Errorf("register %q not configured", name)
		}
		if writable && !reg.Writable {
			return fmt.Errorf("register %q is not writable", name)
		}
	}
	return nil
}
