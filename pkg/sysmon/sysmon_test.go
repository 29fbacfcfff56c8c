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

package sysmon

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServesProviders(t *testing.T) {
	s := New()
	ticks := 0
	s.Add("loop", func() map[string]any {
		ticks++
		return map[string]any{"state": "RUNNING", "ticks": ticks}
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var metrics map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Contains(t, metrics, "go_version")
	assert.Contains(t, metrics, "memory")
	loop, ok := metrics["loop"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "RUNNING", loop["state"])
	assert.Equal(t, 1.0, loop["ticks"])

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Contains(t, rec.Body.String(), "<h2>loop</h2>")
	assert.Contains(t, rec.Body.String(), "RUNNING")
}

func TestDiskSection(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.WatchDisk(dir)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var metrics struct {
		Disk diskStats `json:"disk"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, dir, metrics.Disk.Path)
	assert.Positive(t, metrics.Disk.Total)
	assert.LessOrEqual(t, metrics.Disk.Used, metrics.Disk.Total)
	assert.LessOrEqual(t, metrics.Disk.Free, metrics.Disk.Total)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Contains(t, rec.Body.String(), "<h2>Disk ("+dir+")</h2>")
}
