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

package datalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tclab/internal/process"
)

func TestCreateWritesRowsInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "exp.csv")
	l, err := Create(path)
	require.NoError(t, err)

	require.NoError(t, l.Append(process.Row{Time: 0, T1: 23, T2: 23}))
	require.NoError(t, l.Append(process.Row{Time: 1.5, T1: 23.125, T2: 23.5, U1: 40, U2: 0}))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{
		"time,T1,T2,U1,U2",
		"0.000,23.00,23.00,0.00,0.00",
		"1.500,23.12,23.50,40.00,0.00",
	}, lines)
}

func TestAppendAfterClose(t *testing.T) {
	l, err := Create(filepath.Join(t.TempDir(), "exp.csv"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Append(process.Row{}), ErrClosed)
}

func TestFileName(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, filepath.Join("logs", "tclab_20250304_050607.csv"), FileName("logs", at))
}
