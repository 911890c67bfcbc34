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

package stream

import (
	"github.com/papertracker/trackerlink/pkg/bus"
	"github.com/papertracker/trackerlink/pkg/link"
)

// DeviceStatus is the status report a device sends as JSON text.
type DeviceStatus struct {
	SourceIP   string  `json:"sourceIp,omitempty"`
	Battery    float32 `json:"battery"`
	Brightness int32   `json:"brightness"`
}

// Buses are the broadcast channels a stream publishes on.
type Buses struct {
	Frames   *bus.Bus[Frame]
	Status   *bus.Bus[DeviceStatus]
	Rotation *bus.Bus[float64]
	Events   *bus.Bus[link.Event]
}

// NewBuses creates the buses for one stream. A nil events bus gets a
// private one so streams can share the link event bus with the serial
// manager.
func NewBuses(name string, events *bus.Bus[link.Event]) *Buses {
	if events == nil {
		events = bus.New[link.Event](name + ".events")
	}
	return &Buses{
		Frames:   bus.New[Frame](name + ".frames"),
		Status:   bus.New[DeviceStatus](name + ".status"),
		Rotation: bus.New[float64](name + ".rotation"),
		Events:   events,
	}
}

// Close closes the stream's own buses. The events bus is left alone since
// it may be shared.
func (b *Buses) Close() {
	b.Frames.Close()
	b.Status.Close()
	b.Rotation.Close()
}
