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
	"errors"
	"time"

	"github.com/papertracker/trackerlink/pkg/helpers/syncutil"
)

// MockSerialPort is an in-memory serial port. Tests push device output with
// Feed and inspect what the code under test wrote with Written.
type MockSerialPort struct {
	readErr    error
	writeErr   error
	closeErr   error
	timeoutErr error
	pending    [][]byte
	written    [][]byte
	mu         syncutil.RWMutex
	closed     bool
}

// NewMockSerialPort creates a new mock serial port for testing.
func NewMockSerialPort() *MockSerialPort {
	return &MockSerialPort{}
}

// Feed queues bytes to be returned by a later Read.
func (m *MockSerialPort) Feed(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, append([]byte(nil), data...))
}

// FailReads makes every following Read return err.
func (m *MockSerialPort) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// FailWrites makes every following Write return err.
func (m *MockSerialPort) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// FailSetReadTimeout makes SetReadTimeout return err.
func (m *MockSerialPort) FailSetReadTimeout(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeoutErr = err
}

// Read implements the Read method for serial ports. With nothing queued it
// behaves like a short read timeout.
func (m *MockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if m.readErr != nil {
		err := m.readErr
		m.mu.Unlock()
		return 0, err
	}
	if len(m.pending) == 0 {
		m.mu.Unlock()
		// Simulate blocking read with small delay
		time.Sleep(10 * time.Millisecond)
		return 0, nil
	}
	n := copy(p, m.pending[0])
	if n < len(m.pending[0]) {
		m.pending[0] = m.pending[0][n:]
	} else {
		m.pending = m.pending[1:]
	}
	m.mu.Unlock()
	return n, nil
}

// Write records p.
func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("port closed")
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.written = append(m.written, append([]byte(nil), p...))
	return len(p), nil
}

// Close implements the Close method for serial ports.
func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.closeErr
}

// SetReadTimeout implements the SetReadTimeout method for serial ports.
func (m *MockSerialPort) SetReadTimeout(_ time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeoutErr
}

// Written returns every write as a string, oldest first.
func (m *MockSerialPort) Written() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.written))
	for i, w := range m.written {
		out[i] = string(w)
	}
	return out
}

// IsClosed returns true if the port has been closed (thread-safe).
func (m *MockSerialPort) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
