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

// Package flashtool drives the external ESP32 flashing tool used to restart
// and reflash the tracker units. Only the tool's exit status and the
// percentage markers in its output are interpreted.
package flashtool

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/papertracker/trackerlink/pkg/helpers/command"
	"github.com/rs/zerolog/log"
)

const (
	Chip      = "ESP32-S3"
	FlashBaud = 921600

	BootloaderOffset     = "0x0000"
	PartitionTableOffset = "0x8000"
	FirmwareOffset       = "0x10000"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type Operation string

const (
	OpRestart Operation = "restart"
	OpFlash   Operation = "flash"
)

// Progress is one step of a long-running tool operation.
type Progress struct {
	Operation Operation `json:"operation"`
	Message   string    `json:"message"`
	Status    Status    `json:"status"`
	Percent   float64   `json:"progress"`
}

// Done reports whether this is the terminal event of an operation.
func (p Progress) Done() bool {
	return p.Status == StatusSuccess || p.Status == StatusError
}

// ProgressFunc receives progress events in order.
type ProgressFunc func(Progress)

// Images are the three binaries written by a flash.
type Images struct {
	Bootloader     string
	PartitionTable string
	Firmware       string
}

var ErrToolNotConfigured = errors.New("flashing tool path not configured")

// failureTailLines is how much of the tool output a failure event carries.
const failureTailLines = 5

var percentRe = regexp.MustCompile(`(\d{1,3})\s?%`)

// Tool invokes the flashing tool through a command.Executor.
type Tool struct {
	exec command.Executor
	path string
}

func New(exec command.Executor, toolPath string) *Tool {
	if exec == nil {
		exec = &command.RealExecutor{}
	}
	return &Tool{exec: exec, path: toolPath}
}

// Path returns the configured tool location.
func (t *Tool) Path() string {
	return t.path
}

func RestartArgs(port string) []string {
	return []string{
		"--chip", Chip,
		"--port", port,
		"--baud", strconv.Itoa(FlashBaud),
		"run",
	}
}

func FlashArgs(port string, images Images) []string {
	return []string{
		"--chip", Chip,
		"--port", port,
		"--baud", strconv.Itoa(FlashBaud),
		"--before", "default_reset",
		"--after", "hard_reset",
		"write_flash",
		BootloaderOffset, images.Bootloader,
		PartitionTableOffset, images.PartitionTable,
		FirmwareOffset, images.Firmware,
	}
}

// ParsePercent extracts the first percentage marker from a line of tool
// output.
func ParsePercent(line string) (int, bool) {
	m := percentRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil || pct > 100 {
		return 0, false
	}
	return pct, true
}

// Restart resets the unit on port into its application firmware. The
// caller must have released the port first.
func (t *Tool) Restart(ctx context.Context, port string, report ProgressFunc) error {
	tr := newTracker(OpRestart, report)
	tr.send(30, StatusRunning, "running restart command")

	return t.run(ctx, tr, RestartArgs(port), func(line string) {
		tr.send(50, StatusRunning, "device output: "+line)
	})
}

// Flash writes images to the unit on port. Percentage markers in the tool
// output are mapped onto the 20-95 range of the overall progress.
func (t *Tool) Flash(ctx context.Context, port string, images Images, report ProgressFunc) error {
	tr := newTracker(OpFlash, report)
	tr.send(20, StatusRunning, "running firmware flash command")

	return t.run(ctx, tr, FlashArgs(port, images), func(line string) {
		if pct, ok := ParsePercent(line); ok {
			tr.send(20+float64(pct)*0.75, StatusRunning, fmt.Sprintf("flash progress: %d%%", pct))
			return
		}
		tr.send(30, StatusRunning, "device output: "+line)
	})
}

func (t *Tool) run(ctx context.Context, tr *tracker, args []string, onLine command.LineFunc) error {
	if t.path == "" {
		tr.send(100, StatusError, ErrToolNotConfigured.Error())
		return ErrToolNotConfigured
	}

	log.Info().
		Str("tool", t.path).
		Str("args", strings.Join(args, " ")).
		Str("operation", string(tr.op)).
		Msg("starting flashing tool")

	out, err := t.exec.Stream(ctx, command.StartOptions{HideWindow: true}, onLine, t.path, args...)
	if err != nil {
		log.Error().Err(err).Str("output", out).Str("operation", string(tr.op)).Msg("flashing tool failed")
		msg := fmt.Sprintf("%s failed: %v", tr.op, err)
		if tail := outputTail(out, failureTailLines); tail != "" {
			msg += "\n" + tail
		}
		tr.send(100, StatusError, msg)
		return fmt.Errorf("%s: %w", tr.op, err)
	}

	log.Info().Str("operation", string(tr.op)).Msg("flashing tool finished")
	tr.send(100, StatusSuccess, fmt.Sprintf("%s completed", tr.op))
	return nil
}

// outputTail returns the last n non-blank lines of captured tool output.
func outputTail(out string, n int) string {
	lines := strings.FieldsFunc(out, func(r rune) bool { return r == '\n' || r == '\r' })
	tail := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(tail) < n; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			tail = append(tail, l)
		}
	}
	slices.Reverse(tail)
	return strings.Join(tail, "\n")
}

// tracker keeps reported progress from moving backwards while the tool
// is running.
type tracker struct {
	report ProgressFunc
	op     Operation
	last   float64
}

func newTracker(op Operation, report ProgressFunc) *tracker {
	return &tracker{op: op, report: report}
}

func (tr *tracker) send(pct float64, status Status, msg string) {
	if status == StatusRunning {
		pct = max(pct, tr.last)
	}
	tr.last = pct
	if tr.report == nil {
		return
	}
	tr.report(Progress{
		Operation: tr.op,
		Percent:   pct,
		Message:   msg,
		Status:    status,
	})
}
