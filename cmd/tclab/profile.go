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
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tclab/internal/setpoint"
)

func newProfileCmd() *cobra.Command {
	var at float64

	cmd := &cobra.Command{
		Use:   "profile <csv>",
		Short: "validate and print a setpoint profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := setpoint.Load(args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "t\tT1\tT2\t")
			for _, s := range p.Samples() {
				fmt.Fprintf(w, "%g\t%g\t%g\t\n", s.T, s.T1, s.T2)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d samples, period %gs\n", len(p.Samples()), p.Period())

			if cmd.Flags().Changed("at") {
				r1, r2 := p.Setpoints(at)
				fmt.Fprintf(cmd.OutOrStdout(), "at t=%gs: T1=%g T2=%g\n", at, r1, r2)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&at, "at", 0, "also print the setpoints in effect at this time")
	return cmd
}
