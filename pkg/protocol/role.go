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

package protocol

import (
	"fmt"
	"strings"
)

// DeviceRole identifies which physical unit a piece of data belongs to.
type DeviceRole int

const (
	RoleUnknown DeviceRole = iota
	RoleFace
	RoleLeftEye
	RoleRightEye
)

// Role codes as reported in the version field of a DeviceStatus packet.
const (
	RoleCodeFace     uint32 = 1
	RoleCodeLeftEye  uint32 = 2
	RoleCodeRightEye uint32 = 3
)

// Roles lists every concrete role in a stable order.
var Roles = []DeviceRole{RoleFace, RoleLeftEye, RoleRightEye}

// RoleFromCode maps a firmware role code to a DeviceRole.
func RoleFromCode(code uint32) DeviceRole {
	switch code {
	case RoleCodeFace:
		return RoleFace
	case RoleCodeLeftEye:
		return RoleLeftEye
	case RoleCodeRightEye:
		return RoleRightEye
	default:
		return RoleUnknown
	}
}

// Code returns the firmware role code, or 0 for RoleUnknown.
func (r DeviceRole) Code() uint32 {
	switch r {
	case RoleFace:
		return RoleCodeFace
	case RoleLeftEye:
		return RoleCodeLeftEye
	case RoleRightEye:
		return RoleCodeRightEye
	case RoleUnknown:
		return 0
	default:
		return 0
	}
}

func (r DeviceRole) String() string {
	switch r {
	case RoleFace:
		return "face"
	case RoleLeftEye:
		return "left_eye"
	case RoleRightEye:
		return "right_eye"
	case RoleUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// Hostname is the fixed multicast-DNS name each unit announces.
func (r DeviceRole) Hostname() string {
	if r == RoleUnknown {
		return ""
	}
	return fmt.Sprintf("paper%d.local", r.Code())
}

// ParseRole accepts the role names used by the UI ("face", "left_eye",
// "right_eye", dashed variants) and the numeric role codes.
func ParseRole(s string) (DeviceRole, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "face", "1":
		return RoleFace, nil
	case "left_eye", "left-eye", "lefteye", "left", "2":
		return RoleLeftEye, nil
	case "right_eye", "right-eye", "righteye", "right", "3":
		return RoleRightEye, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown device role: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r DeviceRole) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *DeviceRole) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}
