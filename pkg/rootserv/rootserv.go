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

package rootserv

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"tclab/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// RootServer holds a mux and the list of attached sub-handlers.
type RootServer struct {
	log        *logger.Logger
	addr       string
	mux        *http.ServeMux
	subservers map[string]string // path -> description
	mainPage   string            // optional subserver path that '/' redirects to
	setup      sync.Once
}

// New creates a new RootServer bound to an address.
func New(addr string) *RootServer {
	return &RootServer{
		addr:       addr,
		mux:        http.NewServeMux(),
		subservers: make(map[string]string),
		log:        logger.New("HTTPServer"),
	}
}

// Attach registers a new subserver under a path. The handler sees URLs
// with the path prefix stripped.
func (ms *RootServer) Attach(path, desc string, handler http.Handler) {
	ms.log.Info("Attach: %s", path)

	// Normalize path:
	//  - Ensure it starts with '/'
	//  - Ensure it ends with '/' for ServeMux matching semantics
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	strip := strings.TrimRight(path, "/")
	ms.subservers[strip] = desc // store pretty form
	ms.mux.Handle(path, http.StripPrefix(strip, handler))
}

// SetMainPage makes '/' redirect to an attached subserver.
func (ms *RootServer) SetMainPage(path string) {
	ms.mainPage = "/" + strings.Trim(path, "/") + "/"
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>TCLab</title></head><body>
<h1>Available Sub-Servers</h1><ul>
{{range .}}<li><a href="{{.Path}}/">{{.Path}}</a> - {{.Desc}}</li>
{{end}}</ul></body></html>
`))

// handleIndex generates the HTML index page listing all subservers.
func (ms *RootServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	type entry struct{ Path, Desc string }
	entries := make([]entry, 0, len(ms.subservers))
	for path, desc := range ms.subservers {
		entries = append(entries, entry{path, desc})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, entries); err != nil {
		ms.log.Error("index: %v", err)
	}
}

// Handler returns the complete mux. Attach must not be called afterwards.
func (ms *RootServer) Handler() http.Handler {
	ms.setup.Do(func() {
		// index page always available
		ms.mux.HandleFunc("/index", ms.handleIndex)

		// '/' goes to the main page if there is one, otherwise the index
		ms.mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
			target := "/index"
			if ms.mainPage != "" {
				target = ms.mainPage
			}
			http.Redirect(w, r, target, http.StatusTemporaryRedirect)
		})
	})
	return ms.mux
}

// Run starts serving and blocks until the context is canceled.
func (ms *RootServer) Run(ctx context.Context) {
	ms.log.Info("Running on %s", ms.addr)

	srv := &http.Server{
		Addr:              ms.addr,
		Handler:           ms.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			ms.log.Warn("shutdown: %v", err)
		}
		ms.log.Info("Stopped")
	case err := <-errCh:
		ms.log.Error("Stopped: %T %+v", err, err)
	}
}
