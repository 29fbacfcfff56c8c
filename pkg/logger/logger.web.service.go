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
	"bufio"
	"html/template"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
)

const tailLines = 250

var pageTemplate = template.Must(template.New("page").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Logger</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 2em; background: #f9f9f9; color: #333; }
    .btn { display:inline-block; padding:0.5em 1em; margin:0.2em; font-size:0.9em;
           background:#007bff; color:white; border:none; border-radius:4px; cursor:pointer; text-decoration:none; }
    .btn-danger { background:#dc3545; }
    pre.log { background:#222; color:#eee; padding:1em; border-radius:6px; max-height:500px; overflow:auto; }
  </style>
</head>
<body>
  <h1>Logger</h1>
  <div>
    <b>Debug:</b> {{if .Debug}}<span style="color:green;">ON</span>{{else}}<span style="color:red;">OFF</span>{{end}}
    | <a href="?">all</a> <a href="?level=WARN">warnings</a> <a href="?level=ERROR">errors</a>
  </div>
  <form method="POST" action="/logger/toggle" style="display:inline;">
    <button class="btn" type="submit">Toggle Debug</button>
  </form>
  <form method="POST" action="/logger/clear" style="display:inline;">
    <button class="btn btn-danger" type="submit">Clear Log</button>
  </form>
  <h2>Last {{.N}} log lines {{if .Level}}({{.Level}}){{end}}</h2>
  <pre class="log">{{.Log}}</pre>
</body>
</html>
`))

// Service implements http.Handler for debug/log control
type Service struct{}

func WebService() *Service {
	return &Service{}
}

// ServeHTTP implements http.Handler
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/toggle":
		EnableDebug(!IsDebug())
		http.Redirect(w, r, "/logger", http.StatusSeeOther)

	case "/clear":
		if err := clearLog(); err != nil {
			http.Error(w, "failed to clear log: "+err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/logger", http.StatusSeeOther)

	default:
		level := strings.ToUpper(r.URL.Query().Get("level"))
		logs, _ := tail(tailLines, level)
		_ = pageTemplate.Execute(w, map[string]any{
			"Debug": IsDebug(),
			"Log":   logs,
			"Level": level,
			"N":     tailLines,
		})
	}
}

// clearLog truncates and reopens the log file, rebuilding baseLogger
func clearLog() error {
	baseMu.Lock()
	defer baseMu.Unlock()

	if logFile == nil {
		return nil
	}

	name := logFile.Name()
	logFile.Close()

	newf, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logFile = nil
		baseLogger = newBaseLogger(os.Stdout)
		return err
	}
	logFile = newf
	baseLogger = newBaseLogger(io.MultiWriter(os.Stdout, logFile))
	return nil
}

// tail reads the last n lines of the log file, optionally keeping only
// lines of one level
func tail(n int, level string) (string, error) {
	baseMu.RLock()
	if logFile == nil {
		baseMu.RUnlock()
		return "", nil
	}
	name := logFile.Name()
	baseMu.RUnlock()

	f, err := os.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	lines := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if level != "" && !strings.Contains(line, "] "+level+":") {
			continue
		}
		if len(lines) == n {
			lines = lines[1:]
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), sc.Err()
}

// helper to create baseLogger (keeps same flags)
func newBaseLogger(w io.Writer) *log.Logger {
	return log.New(w, "", log.LstdFlags|log.Lmicroseconds)
}
