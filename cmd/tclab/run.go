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
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var setpointFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "closed-loop experiment with the configured controllers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if setpointFile != "" {
				cfg.SetpointFile = setpointFile
			}
			ctrls, err := cfg.NewControllers()
			if err != nil {
				return err
			}
			if err := initLogging(); err != nil {
				return err
			}
			log.Info("run: process=%s controllers=%s/%s realtime_factor=%g max_duration=%gs",
				cfg.Process, ctrls[0].Kind(), ctrls[1].Kind(), cfg.RealtimeFactor, cfg.MaxDuration)
			return (&experiment{cfg: cfg, ctrls: ctrls}).run()
		},
	}
	cmd.Flags().StringVar(&setpointFile, "setpoint", "", "setpoint profile csv (t,T1,T2), overrides the config")
	return cmd
}
