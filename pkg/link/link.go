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

// Package link holds the connection state shared by the serial and stream
// managers and the events they publish when it changes.
package link

import (
	"fmt"
	"time"

	"github.com/papertracker/trackerlink/pkg/protocol"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Kind string

const (
	KindSerial Kind = "serial"
	KindStream Kind = "stream"
)

// Event reports a state change of one link. Endpoint is the port name for
// serial links and the URL for streams.
type Event struct {
	Time     time.Time           `json:"time"`
	Link     Kind                `json:"link"`
	Endpoint string              `json:"endpoint,omitempty"`
	Message  string              `json:"message,omitempty"`
	Role     protocol.DeviceRole `json:"role"`
	State    State               `json:"state"`
}

// Text is the short human readable form shown in status bars.
func (e Event) Text() string {
	subject := string(e.Link)
	if e.Role != protocol.RoleUnknown {
		subject = e.Role.String()
	}
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %s", subject, e.State, e.Message)
	}
	return fmt.Sprintf("%s %s", subject, e.State)
}
