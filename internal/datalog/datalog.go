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

// Package datalog writes experiment rows to a CSV file.
package datalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"tclab/internal/process"
	"tclab/pkg/logger"
)

var log = logger.New("DataLog")

var Header = []string{"time", "T1", "T2", "U1", "U2"}

var ErrClosed = errors.New("data log closed")

// rows buffered before a flush
const flushEvery = 10

// CSV is a process.LogSink. Safe for concurrent use.
type CSV struct {
	mu      sync.Mutex
	out     io.WriteCloser
	w       *csv.Writer
	pending int
	rows    int
	closed  bool
	name    string
}

// FileName is the default log name for an experiment started at t.
func FileName(dir string, t time.Time) string {
	return filepath.Join(dir, "tclab_"+t.Format("20060102_150405")+".csv")
}

// Create opens path for writing, creating its directory, and writes the
// header.
func Create(path string) (*CSV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	l, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	l.name = path
	log.Info("logging to %s", path)
	return l, nil
}

// New writes the header to out. Close closes out.
func New(out io.WriteCloser) (*CSV, error) {
	l := &CSV{out: out, w: csv.NewWriter(out), name: "stream"}
	if err := l.w.Write(Header); err != nil {
		return nil, fmt.Errorf("write log header: %w", err)
	}
	return l, nil
}

func (l *CSV) Append(r process.Row) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	err := l.w.Write([]string{
		format(r.Time, 3),
		format(r.T1, 2),
		format(r.T2, 2),
		format(r.U1, 2),
		format(r.U2, 2),
	})
	if err != nil {
		return err
	}
	l.rows++
	l.pending++
	if l.pending >= flushEvery {
		l.pending = 0
		l.w.Flush()
		return l.w.Error()
	}
	return nil
}

// Close flushes pending rows and closes the file. Later calls are no-ops.
func (l *CSV) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.w.Flush()
	err := errors.Join(l.w.Error(), l.out.Close())
	log.Info("closed %s after %d rows", l.name, l.rows)
	return err
}

func format(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
