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

// Package command provides an abstraction over exec.Command for testability.
package command

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// StartOptions configures command startup behavior.
type StartOptions struct {
	// HideWindow prevents a console window from appearing (Windows-only).
	// On non-Windows platforms, this field is ignored.
	HideWindow bool
}

// LineFunc receives one line of tool output with line endings removed.
type LineFunc func(line string)

// Executor runs external tools. Production code uses RealExecutor; tests
// substitute a mock so no real tool is executed.
type Executor interface {
	// Run executes a command and waits for it to complete.
	Run(ctx context.Context, name string, args ...string) error

	// Stream executes a command, calling onLine for every line it writes to
	// stdout or stderr, and returns everything it wrote. Both '\n' and '\r'
	// end a line so progress bars redrawn in place are seen as they update.
	Stream(
		ctx context.Context,
		opts StartOptions,
		onLine LineFunc,
		name string,
		args ...string,
	) (string, error)
}

// RealExecutor uses exec.CommandContext to run commands.
type RealExecutor struct{}

// Run executes a system command using exec.CommandContext.
//
//nolint:wrapcheck // Wrapping exec errors loses important context
func (*RealExecutor) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	applyOptions(cmd, StartOptions{HideWindow: true})
	return cmd.Run()
}

// Stream runs the command and feeds its merged output to onLine.
func (*RealExecutor) Stream(
	ctx context.Context,
	opts StartOptions,
	onLine LineFunc,
	name string,
	args ...string,
) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	applyOptions(cmd, opts)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	var (
		out bytes.Buffer
		wg  sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ScanLines(io.TeeReader(pr, &out), onLine)
	}()

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		wg.Wait()
		return "", fmt.Errorf("failed to start %s: %w", name, err)
	}

	err := cmd.Wait()
	_ = pw.Close()
	wg.Wait()

	if err != nil {
		return out.String(), fmt.Errorf("%s failed: %w", name, err)
	}
	return out.String(), nil
}

// ScanLines splits r on '\n' or '\r' and calls onLine for each non-empty
// line until r is exhausted.
func ScanLines(r io.Reader, onLine LineFunc) {
	scanner := bufio.NewScanner(r)
	scanner.Split(splitLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || onLine == nil {
			continue
		}
		onLine(line)
	}
	// drain so the writer side never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

func splitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
