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

package serial

import (
	"fmt"
	"time"

	bugserial "go.bug.st/serial"
)

// DefaultReadTimeout bounds each read so the manager loop can service
// requests between reads.
const DefaultReadTimeout = time.Second

// Port defines the interface for serial port operations (for mocking in tests).
type Port interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// PortFactory creates a serial port connection.
type PortFactory func(path string, mode *bugserial.Mode) (Port, error)

// DefaultPortFactory is the default factory that opens real serial ports.
func DefaultPortFactory(path string, mode *bugserial.Mode) (Port, error) {
	port, err := bugserial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

// Mode is the 8N1 line setting the tracker firmware uses.
func Mode(baud int) *bugserial.Mode {
	return &bugserial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugserial.NoParity,
		StopBits: bugserial.OneStopBit,
	}
}
