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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tclab/internal/config"
	"tclab/pkg/logger"
)

var (
	rootDir        string
	configFile     string
	fake           bool
	realtimeFactor float64
	maxDuration    float64
	httpAddr       string
	noLog          bool
)

func main() {
	// .env may set PROJECT_ROOT and DEBUG
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}

	rootDir = os.Getenv("PROJECT_ROOT")
	if rootDir == "" {
		rootDir = "."
	}

	err := newRootCmd().Execute()
	logger.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tclab",
		Short:         "temperature control lab: simulated or real two-heater rig",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", filepath.Join(rootDir, "var/config/tclab.json"), "config file (json)")
	flags.BoolVar(&fake, "fake", false, "use the simulated process regardless of the config")
	flags.Float64Var(&realtimeFactor, "realtime-factor", 0, "simulated seconds per wall second")
	flags.Float64Var(&maxDuration, "max-duration", 0, "stop after this many process seconds")
	flags.StringVar(&httpAddr, "http", "", "dashboard listen address, \"off\" disables it")
	flags.BoolVar(&noLog, "no-log", false, "do not write the csv data log")

	rootCmd.AddCommand(newRunCmd(), newStepTestCmd(), newProfileCmd())
	return rootCmd
}

// loadConfig reads the config file, falling back to defaults when the
// default file does not exist, then applies the command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Decode(configFile)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	cfg.RootDir = rootDir

	if fake {
		cfg.Process = config.ProcessSimulated
	}
	if cmd.Flags().Changed("realtime-factor") {
		cfg.RealtimeFactor = realtimeFactor
	}
	if cmd.Flags().Changed("max-duration") {
		cfg.MaxDuration = maxDuration
	}
	switch {
	case httpAddr == "off":
		cfg.Dashboard.Addr = ""
	case httpAddr != "":
		cfg.Dashboard.Addr = httpAddr
	}
	if noLog {
		cfg.DataLog.Disabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initLogging() error {
	return logger.Init(filepath.Join(rootDir, "var/logs/tclab.log"))
}
