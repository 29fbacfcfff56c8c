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

package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

type Logger struct {
	prefix string
}

var (
	baseMu       sync.RWMutex
	baseLogger   = newBaseLogger(os.Stdout)
	logFile      *os.File
	debugEnabled bool
	debugMu      sync.RWMutex
)

func init() {
	if os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

// Init tees all loggers to stdout and an append-only log file.
// Until Init is called loggers only write to stdout.
func Init(logPath string) error {
	baseMu.Lock()
	defer baseMu.Unlock()

	if logFile != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	logFile = f
	baseLogger = newBaseLogger(io.MultiWriter(os.Stdout, logFile))

	// enable debug from env at startup if wanted
	if os.Getenv("DEBUG") != "" {
		EnableDebug(true)
	}
	return nil
}

// SetOutput replaces the destination of all loggers.
func SetOutput(w io.Writer) {
	baseMu.Lock()
	baseLogger = newBaseLogger(w)
	baseMu.Unlock()
}

// Close cleans up the log file (call on shutdown)
func Close() {
	baseMu.Lock()
	defer baseMu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
		baseLogger = newBaseLogger(os.Stdout)
	}
}

// EnableDebug dynamically turns debug logging on/off
func EnableDebug(on bool) {
	debugMu.Lock()
	debugEnabled = on
	debugMu.Unlock()
}

// IsDebug returns current debug state
func IsDebug() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugEnabled
}

func New(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

func (l *Logger) printf(level, fmtstr string, v ...any) {
	formatted := fmt.Sprintf(fmtstr, v...)
	baseMu.RLock()
	out := baseLogger
	baseMu.RUnlock()
	out.Printf("[%s] %s: %v", l.prefix, level, formatted)
}

func (l *Logger) printfCaller(level, fmtstr string, v ...any) string {
	formatted := fmt.Sprintf(fmtstr, v...)
	baseMu.RLock()
	out := baseLogger
	baseMu.RUnlock()
	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
		out.Printf("[%s] %s: (%s:%d) %s", l.prefix, level, file, line, formatted)
	} else {
		out.Printf("[%s] %s: %v", l.prefix, level, formatted)
	}
	return formatted
}

func (l *Logger) Info(fmtstr string, v ...any) {
	l.printf("INFO", fmtstr, v...)
}

func (l *Logger) Warn(fmtstr string, v ...any) {
	l.printf("WARN", fmtstr, v...)
}

func (l *Logger) Error(fmtstr string, v ...any) {
	l.printfCaller("ERROR", fmtstr, v...)
}

func (l *Logger) Fatal(fmtstr string, v ...any) {
	panic(l.printfCaller("FATAL", fmtstr, v...))
}

func (l *Logger) Debug(fmtstr string, v ...any) {
	if !IsDebug() {
		return
	}
	l.printf("DEBUG", fmtstr, v...)
}
