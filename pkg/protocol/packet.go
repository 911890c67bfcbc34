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

// Package protocol implements the ASCII packet format spoken by the tracker
// firmware over its USB serial link.
//
// A packet is framed as 'A' <type digit> <body> 'B' <type digit>. Parsing is
// done by a small hand-written scanner over the fixed literal tokens of each
// packet type; no I/O happens in this package.
package protocol

import "fmt"

// Kind identifies a packet type by its wire digit.
type Kind int

const (
	KindUnknown                 Kind = 0
	KindWifiSetupPrompt         Kind = 1
	KindWifiCredentials         Kind = 2
	KindWifiConfirmed           Kind = 3
	KindWifiCredentialsRejected Kind = 4
	KindDeviceStatus            Kind = 5
	KindLightControlAck         Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindWifiSetupPrompt:
		return "wifi_setup_prompt"
	case KindWifiCredentials:
		return "wifi_credentials"
	case KindWifiConfirmed:
		return "wifi_confirmed"
	case KindWifiCredentialsRejected:
		return "wifi_credentials_rejected"
	case KindDeviceStatus:
		return "device_status"
	case KindLightControlAck:
		return "light_control_ack"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Packet is one decoded serial packet. The set of implementations is closed;
// callers switch over the concrete types.
type Packet interface {
	Kind() Kind
	isPacket()
}

// WifiSetupPrompt is sent by a device that has no WiFi configuration yet.
type WifiSetupPrompt struct{}

// WifiCredentials echoes the credentials the device is currently using.
type WifiCredentials struct {
	SSID     string
	Password string
}

// WifiConfirmed is sent once the device joined the configured network.
type WifiConfirmed struct{}

// WifiCredentialsRejected reports that the device could not join the network
// described by SSID and Password.
type WifiCredentialsRejected struct {
	SSID     string
	Password string
}

// BootingSSID is the placeholder SSID the firmware reports while it is still
// starting up.
const BootingSSID = "paper"

// DeviceBooting reports whether the rejection is really the firmware telling
// us it has not finished booting.
func (p WifiCredentialsRejected) DeviceBooting() bool {
	return p.SSID == BootingSSID
}

// DeviceStatus is the periodic status report. IP is the dotted form produced
// by DecodeIP; Version doubles as the role code of the unit.
type DeviceStatus struct {
	IP         string
	Brightness uint32
	Power      uint32
	Version    uint32
}

// Role derives the device role from the status report's version field.
func (p DeviceStatus) Role() DeviceRole {
	return RoleFromCode(p.Version)
}

// LightControlAck confirms a brightness change.
type LightControlAck struct {
	Brightness uint32
}

// Unknown is any window that does not match a known grammar.
type Unknown struct {
	Raw string
}

func (WifiSetupPrompt) Kind() Kind         { return KindWifiSetupPrompt }
func (WifiCredentials) Kind() Kind         { return KindWifiCredentials }
func (WifiConfirmed) Kind() Kind           { return KindWifiConfirmed }
func (WifiCredentialsRejected) Kind() Kind { return KindWifiCredentialsRejected }
func (DeviceStatus) Kind() Kind            { return KindDeviceStatus }
func (LightControlAck) Kind() Kind         { return KindLightControlAck }
func (Unknown) Kind() Kind                 { return KindUnknown }

func (WifiSetupPrompt) isPacket()         {}
func (WifiCredentials) isPacket()         {}
func (WifiConfirmed) isPacket()           {}
func (WifiCredentialsRejected) isPacket() {}
func (DeviceStatus) isPacket()            {}
func (LightControlAck) isPacket()         {}
func (Unknown) isPacket()                 {}
