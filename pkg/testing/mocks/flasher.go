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

package mocks

import (
	"context"

	"github.com/papertracker/trackerlink/pkg/flashtool"
	"github.com/papertracker/trackerlink/pkg/helpers/syncutil"
)

// MockFlasher stands in for the flashing tool. Every run reports a single
// terminal progress event and returns Err.
type MockFlasher struct {
	Err    error
	ports  []string
	images []flashtool.Images
	mu     syncutil.Mutex
}

func NewMockFlasher() *MockFlasher {
	return &MockFlasher{}
}

func (m *MockFlasher) Restart(_ context.Context, port string, report flashtool.ProgressFunc) error {
	return m.run(flashtool.OpRestart, port, flashtool.Images{}, report)
}

func (m *MockFlasher) Flash(
	_ context.Context,
	port string,
	images flashtool.Images,
	report flashtool.ProgressFunc,
) error {
	return m.run(flashtool.OpFlash, port, images, report)
}

func (m *MockFlasher) run(
	op flashtool.Operation,
	port string,
	images flashtool.Images,
	report flashtool.ProgressFunc,
) error {
	m.mu.Lock()
	m.ports = append(m.ports, port)
	m.images = append(m.images, images)
	err := m.Err
	m.mu.Unlock()

	p := flashtool.Progress{Operation: op, Percent: 100, Status: flashtool.StatusSuccess, Message: "done"}
	if err != nil {
		p.Status = flashtool.StatusError
		p.Message = err.Error()
	}
	report(p)
	return err
}

// Runs returns the ports and images of every run so far.
func (m *MockFlasher) Runs() ([]string, []flashtool.Images) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ports...), append([]flashtool.Images(nil), m.images...)
}
