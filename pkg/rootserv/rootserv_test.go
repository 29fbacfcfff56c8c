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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachStripsPrefix(t *testing.T) {
	rs := New(":0")
	rs.Attach("dashboard", "Live dashboard", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "path="+r.URL.Path)
	}))
	rs.SetMainPage("/dashboard")

	srv := httptest.NewServer(rs.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, body := get("/dashboard/api/controllers")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "path=/api/controllers", body)

	// '/' follows the redirect to the main page
	_, body = get("/")
	assert.Equal(t, "path=/", body)

	_, body = get("/index")
	assert.Contains(t, body, `<a href="/dashboard/">/dashboard</a> - Live dashboard`)

	code, _ = get("/nothing")
	assert.Equal(t, http.StatusNotFound, code)
}
