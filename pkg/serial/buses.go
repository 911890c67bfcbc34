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
	"github.com/papertracker/trackerlink/pkg/bus"
	"github.com/papertracker/trackerlink/pkg/flashtool"
	"github.com/papertracker/trackerlink/pkg/link"
	"github.com/papertracker/trackerlink/pkg/protocol"
)

// packetKinds are the packet types published on their own bus.
var packetKinds = []protocol.Kind{
	protocol.KindWifiSetupPrompt,
	protocol.KindWifiCredentials,
	protocol.KindWifiConfirmed,
	protocol.KindWifiCredentialsRejected,
	protocol.KindDeviceStatus,
	protocol.KindLightControlAck,
}

// Buses are the outputs of a serial manager. They outlive any single
// manager instance so a replacement installed by the watchdog keeps every
// existing subscriber.
type Buses struct {
	// Packets carries every decoded packet in arrival order.
	Packets  *bus.Bus[protocol.Packet]
	byKind   map[protocol.Kind]*bus.Bus[protocol.Packet]
	Events   *bus.Bus[link.Event]
	Progress *bus.Bus[flashtool.Progress]
}

func NewBuses() *Buses {
	b := &Buses{
		Packets:  bus.New[protocol.Packet]("serial.packets"),
		byKind:   make(map[protocol.Kind]*bus.Bus[protocol.Packet], len(packetKinds)),
		Events:   bus.New[link.Event]("serial.events"),
		Progress: bus.New[flashtool.Progress]("serial.progress"),
	}
	for _, k := range packetKinds {
		b.byKind[k] = bus.New[protocol.Packet]("serial." + k.String())
	}
	return b
}

// Kind returns the bus carrying only packets of kind k, or nil for
// KindUnknown.
func (b *Buses) Kind(k protocol.Kind) *bus.Bus[protocol.Packet] {
	return b.byKind[k]
}

// LatestPacket returns the most recent packet of kind k.
func (b *Buses) LatestPacket(k protocol.Kind) (protocol.Packet, bool) {
	kb := b.byKind[k]
	if kb == nil {
		return nil, false
	}
	return kb.Latest()
}

// LatestDeviceStatus is the typed form of LatestPacket(KindDeviceStatus).
func (b *Buses) LatestDeviceStatus() (protocol.DeviceStatus, bool) {
	pkt, ok := b.LatestPacket(protocol.KindDeviceStatus)
	if !ok {
		return protocol.DeviceStatus{}, false
	}
	status, ok := pkt.(protocol.DeviceStatus)
	return status, ok
}

// Close closes every bus.
func (b *Buses) Close() {
	b.Packets.Close()
	for _, kb := range b.byKind {
		kb.Close()
	}
	b.Events.Close()
	b.Progress.Close()
}

func (b *Buses) publishPacket(pkt protocol.Packet) {
	b.Packets.Publish(pkt)
	if kb := b.byKind[pkt.Kind()]; kb != nil {
		kb.Publish(pkt)
	}
}
