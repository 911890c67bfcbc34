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

package config

import (
	"path/filepath"

	"github.com/papertracker/trackerlink/pkg/protocol"
)

const DefaultBaudRate = 115200

type Devices struct {
	MDNS             *bool   `toml:"mdns,omitempty"`
	FaceIP           string  `toml:"face_ip,omitempty"`
	LeftEyeIP        string  `toml:"left_eye_ip,omitempty"`
	RightEyeIP       string  `toml:"right_eye_ip,omitempty"`
	FaceRotation     float64 `toml:"face_rotation,omitempty"`
	LeftEyeRotation  float64 `toml:"left_eye_rotation,omitempty"`
	RightEyeRotation float64 `toml:"right_eye_rotation,omitempty"`
}

type Serial struct {
	AutoConnect *bool  `toml:"auto_connect,omitempty"`
	Port        string `toml:"port,omitempty"`
	BaudRate    int    `toml:"baud_rate,omitempty"`
}

type Tools struct {
	AssetsDir string `toml:"assets_dir,omitempty"`
	Esptool   string `toml:"esptool,omitempty"`
}

// DeviceIP returns the configured address seed for a role, empty if unset.
func (c *Instance) DeviceIP(role protocol.DeviceRole) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch role {
	case protocol.RoleFace:
		return c.vals.Devices.FaceIP
	case protocol.RoleLeftEye:
		return c.vals.Devices.LeftEyeIP
	case protocol.RoleRightEye:
		return c.vals.Devices.RightEyeIP
	case protocol.RoleUnknown:
		return ""
	default:
		return ""
	}
}

// Rotation returns the default rotation angle in degrees for a role.
func (c *Instance) Rotation(role protocol.DeviceRole) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch role {
	case protocol.RoleFace:
		return c.vals.Devices.FaceRotation
	case protocol.RoleLeftEye:
		return c.vals.Devices.LeftEyeRotation
	case protocol.RoleRightEye:
		return c.vals.Devices.RightEyeRotation
	case protocol.RoleUnknown:
		return 0
	default:
		return 0
	}
}

// MDNSEnabled reports whether .local hostnames should be resolved with a
// multicast DNS browse before dialing. Defaults to true.
func (c *Instance) MDNSEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Devices.MDNS == nil {
		return true
	}
	return *c.vals.Devices.MDNS
}

// SerialAutoConnect defaults to true.
func (c *Instance) SerialAutoConnect() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Serial.AutoConnect == nil {
		return true
	}
	return *c.vals.Serial.AutoConnect
}

// SerialPort is a fixed port name that bypasses USB discovery when set.
func (c *Instance) SerialPort() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Serial.Port
}

func (c *Instance) BaudRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Serial.BaudRate <= 0 {
		return DefaultBaudRate
	}
	return c.vals.Serial.BaudRate
}

// AssetsDir holds bootloader, partition table and firmware images.
func (c *Instance) AssetsDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Tools.AssetsDir != "" {
		return c.vals.Tools.AssetsDir
	}
	return filepath.Join(DataDir(), "assets")
}

// EsptoolPath returns the flashing tool location. Relative to AssetsDir
// unless configured as an absolute path.
func (c *Instance) EsptoolPath() string {
	assets := c.AssetsDir()
	c.mu.RLock()
	defer c.mu.RUnlock()
	tool := c.vals.Tools.Esptool
	if tool == "" {
		tool = defaultEsptool
	}
	if filepath.IsAbs(tool) {
		return tool
	}
	return filepath.Join(assets, tool)
}
