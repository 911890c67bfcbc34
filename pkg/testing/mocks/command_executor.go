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
	"strings"

	"github.com/papertracker/trackerlink/pkg/helpers/command"
	"github.com/stretchr/testify/mock"
)

// MockCommandExecutor is a testify mock for command.Executor.
// It allows testing code that runs the flashing tool without executing it.
type MockCommandExecutor struct {
	mock.Mock
}

// Run mocks the execution of a system command.
// Use On() to set expectations and Return() to control the mock behavior.
//
// Example:
//
//	mockCmd := &MockCommandExecutor{}
//	mockCmd.On("Run", mock.Anything, "esptool", mock.Anything).Return(nil)
func (m *MockCommandExecutor) Run(ctx context.Context, name string, args ...string) error {
	called := m.Called(ctx, name, args)
	//nolint:wrapcheck // Mock returns are already wrapped by caller
	return called.Error(0)
}

// Stream mocks a streaming command. The first return value is the list of
// output lines replayed through onLine, the second the error.
//
// Example:
//
//	mockCmd.On("Stream", mock.Anything, "esptool", mock.Anything).
//		Return([]string{"Writing... (50 %)"}, nil)
func (m *MockCommandExecutor) Stream(
	ctx context.Context,
	_ command.StartOptions,
	onLine command.LineFunc,
	name string,
	args ...string,
) (string, error) {
	called := m.Called(ctx, name, args)
	lines, _ := called.Get(0).([]string)
	for _, line := range lines {
		if onLine != nil {
			onLine(line)
		}
	}
	//nolint:wrapcheck // Mock returns are already wrapped by caller
	return strings.Join(lines, "\n"), called.Error(1)
}
