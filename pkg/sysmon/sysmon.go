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

// Package sysmon serves host and process statistics next to any stats the
// application registers, as HTML or JSON.
package sysmon

import (
	"encoding/json"
	"html/template"
	"net/http"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"tclab/pkg/logger"
)

// Provider returns a flat set of named values, read on every request.
type Provider func() map[string]any

type Service struct {
	log     *logger.Logger
	started time.Time

	mu        sync.Mutex
	diskPath  string
	names     []string
	providers map[string]Provider
}

type diskStats struct {
	Path  string `json:"path"`
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

func New() *Service {
	return &Service{
		log:       logger.New("System Monitor"),
		started:   time.Now(),
		diskPath:  "/",
		providers: make(map[string]Provider),
	}
}

// WatchDisk selects the filesystem reported in the disk section, usually
// the one the data logs are written to.
func (s *Service) WatchDisk(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diskPath = path
}

// Add registers a named section. Adding a name twice replaces it.
func (s *Service) Add(name string, p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[name]; !ok {
		s.names = append(s.names, name)
	}
	s.providers[name] = p
}

type row struct {
	Key   string
	Value any
}

type section struct {
	Name string
	Rows []row
}

func (s *Service) sections() (map[string]map[string]any, []section) {
	s.mu.Lock()
	names := append([]string(nil), s.names...)
	providers := make([]Provider, len(names))
	for i, n := range names {
		providers[i] = s.providers[n]
	}
	s.mu.Unlock()

	raw := make(map[string]map[string]any, len(names))
	out := make([]section, 0, len(names))
	for i, name := range names {
		values := providers[i]()
		raw[name] = values
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sec := section{Name: name}
		for _, k := range keys {
			sec.Rows = append(sec.Rows, row{Key: k, Value: values[k]})
		}
		out = append(out, sec)
	}
	return raw, out
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// System-wide CPU and memory
	cpuPercentList, _ := cpu.Percent(0, false)
	cpuPercent := 0.0
	if len(cpuPercentList) > 0 {
		cpuPercent = cpuPercentList[0]
	}

	var memTotal, memUsed, memFree uint64
	if vmem, err := mem.VirtualMemory(); err == nil {
		memTotal, memUsed, memFree = vmem.Total, vmem.Used, vmem.Available
	}
	s.mu.Lock()
	diskPath := s.diskPath
	s.mu.Unlock()
	dsk, err := readDisk(diskPath)
	if err != nil {
		s.log.Debug("disk usage of %s: %v", diskPath, err)
	}

	// Current process stats
	p, err := process.NewProcess(int32(os.Getpid()))
	var procMem uint64
	var procCPU float64
	if err == nil {
		if memInfo, err := p.MemoryInfo(); err == nil {
			procMem = memInfo.RSS // resident memory
		}
		if cpuPercent, err := p.CPUPercent(); err == nil {
			procCPU = cpuPercent
		}
	}

	raw, sections := s.sections()
	metrics := map[string]any{
		"go_version": runtime.Version(),
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
		"cpu": map[string]any{
			"system_percent":  cpuPercent,
			"process_percent": procCPU,
		},
		"memory": map[string]any{
			"system_total": memTotal,
			"system_used":  memUsed,
			"system_free":  memFree,
			"process_rss":  procMem,
		},
		"disk": dsk,
	}
	for name, values := range raw {
		metrics[name] = values
	}

	// JSON API
	if r.Header.Get("Accept") == "application/json" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(metrics)
		return
	}

	const gb, mb = 1024 * 1024 * 1024, 1024 * 1024
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = pageTemplate.Execute(w, map[string]any{
		"GoVersion":  runtime.Version(),
		"Uptime":     metrics["uptime"],
		"Goroutines": metrics["goroutines"],
		"CPUSystem":  cpuPercent,
		"CPUProcess": procCPU,
		"MemTotal":   float64(memTotal) / gb,
		"MemUsed":    float64(memUsed) / gb,
		"MemFree":    float64(memFree) / gb,
		"ProcRSS":    float64(procMem) / mb,
		"DiskPath":   dsk.Path,
		"DiskTotal":  float64(dsk.Total) / gb,
		"DiskUsed":   float64(dsk.Used) / gb,
		"DiskFree":   float64(dsk.Free) / gb,
		"Sections":   sections,
	})
	if err != nil {
		s.log.Error("render: %v", err)
	}
}

var pageTemplate = template.Must(template.New("sysmon").Parse(`
<!DOCTYPE html>
<html>
<head>
	<title>System Monitor</title>
	<style>
		body { font-family: sans-serif; margin: 2em; background: #f9f9f9; }
		h1 { color: #333; }
		table { border-collapse: collapse; width: 60%; margin-top: 1em; }
		th, td { border: 1px solid #ccc; padding: 0.6em 1em; text-align: left; }
		th { background: #eee; }
	</style>
</head>
<body>
	<h1>System Monitor</h1>
	<h2>Go</h2>
	<p>Version: {{.GoVersion}}, uptime {{.Uptime}}, {{.Goroutines}} goroutines</p>
	{{range .Sections}}
	<h2>{{.Name}}</h2>
	<table>
		{{range .Rows}}<tr><th>{{.Key}}</th><td>{{.Value}}</td></tr>{{end}}
	</table>
	{{end}}
	<h2>CPU</h2>
	<table>
		<tr><th>System %</th><th>Process %</th></tr>
		<tr><td>{{printf "%.2f" .CPUSystem}}%</td><td>{{printf "%.2f" .CPUProcess}}%</td></tr>
	</table>
	<h2>Memory</h2>
	<table>
		<tr><th>System Total</th><th>System Used</th><th>System Free</th><th>Process RSS</th></tr>
		<tr>
			<td>{{printf "%.2f" .MemTotal}} GB</td>
			<td>{{printf "%.2f" .MemUsed}} GB</td>
			<td>{{printf "%.2f" .MemFree}} GB</td>
			<td>{{printf "%.2f" .ProcRSS}} MB</td>
		</tr>
	</table>
	<h2>Disk ({{.DiskPath}})</h2>
	<table>
		<tr><th>Total</th><th>Used</th><th>Free</th></tr>
		<tr>
			<td>{{printf "%.2f" .DiskTotal}} GB</td>
			<td>{{printf "%.2f" .DiskUsed}} GB</td>
			<td>{{printf "%.2f" .DiskFree}} GB</td>
		</tr>
	</table>
</body>
</html>
`))
