// Paper Tracker Link
// Copyright (c) 2026 The Paper Tracker Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Paper Tracker Link.
//
// Paper Tracker Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Paper Tracker Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Paper Tracker Link.  If not, see <http://www.gnu.org/licenses/>.

package command

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanLines(t *testing.T) {
	t.Parallel()

	input := "Connecting....\r\nWriting at 0x00010000... (3 %)\rWriting at 0x00014000... (7 %)\r\n\nDone"
	var lines []string
	ScanLines(strings.NewReader(input), func(line string) {
		lines = append(lines, line)
	})

	assert.Equal(t, []string{
		"Connecting....",
		"Writing at 0x00010000... (3 %)",
		"Writing at 0x00014000... (7 %)",
		"Done",
	}, lines)
}

func TestScanLinesNilCallback(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() {
		ScanLines(strings.NewReader("a\nb\n"), nil)
	})
}

func TestRealExecutor_Run(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses unix shell utilities")
	}
	t.Parallel()

	executor := &RealExecutor{}

	t.Run("executes_successful_command", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, executor.Run(context.Background(), "true"))
	})

	t.Run("returns_error_for_failed_command", func(t *testing.T) {
		t.Parallel()
		assert.Error(t, executor.Run(context.Background(), "false"))
	})

	t.Run("returns_error_for_nonexistent_command", func(t *testing.T) {
		t.Parallel()
		err := executor.Run(context.Background(), "nonexistent_command_that_should_not_exist_12345")
		require.Error(t, err)
	})
}

func TestRealExecutor_Stream(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses unix shell utilities")
	}
	t.Parallel()

	executor := &RealExecutor{}

	t.Run("streams_stdout_and_stderr", func(t *testing.T) {
		t.Parallel()

		var lines []string
		out, err := executor.Stream(
			context.Background(),
			StartOptions{},
			func(line string) { lines = append(lines, line) },
			"sh", "-c", "printf 'one\\n'; printf 'two\\n' >&2",
		)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"one", "two"}, lines)
		assert.Contains(t, out, "one")
		assert.Contains(t, out, "two")
	})

	t.Run("returns_output_on_failure", func(t *testing.T) {
		t.Parallel()

		out, err := executor.Stream(
			context.Background(),
			StartOptions{},
			nil,
			"sh", "-c", "echo fatal; exit 2",
		)
		require.Error(t, err)
		assert.Contains(t, out, "fatal")
	})

	t.Run("returns_error_for_nonexistent_command", func(t *testing.T) {
		t.Parallel()

		_, err := executor.Stream(
			context.Background(),
			StartOptions{},
			nil,
			"nonexistent_command_that_should_not_exist_12345",
		)
		require.Error(t, err)
	})
}
