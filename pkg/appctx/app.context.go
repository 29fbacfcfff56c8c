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

package appctx

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tclab/pkg/logger"
)

// New returns a context that is canceled on the first SIGINT or SIGTERM,
// which starts an orderly shutdown. A second signal exits immediately with
// status 1. It also returns a cancel function you can call manually.
func New() (context.Context, context.CancelFunc) {
	return withSignals(context.Background(), func() { os.Exit(1) }, syscall.SIGINT, syscall.SIGTERM)
}

func withSignals(parent context.Context, force func(), sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	ch := make(chan os.Signal, 2)
	signal.Notify(ch, sigs...)

	go func() {
		log := logger.New("SigHandler")
		sig := <-ch
		log.Info("Received signal: %s, shutting down", sig)
		cancel()
		sig = <-ch
		log.Warn("Received signal: %s again, exiting now", sig)
		force()
	}()

	return ctx, cancel
}
