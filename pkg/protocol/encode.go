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
	"errors"
	"strconv"
	"strings"
)

// MaxBrightness is the highest level the light controller accepts.
const MaxBrightness = 100

// "A2" + "SSID" + "PWD" + "B2"
const credentialsOverhead = 11

var (
	ErrInvalidCredentials = errors.New("invalid wifi credentials")
	ErrInvalidBrightness  = errors.New("brightness out of range")
)

// EncodeWifiCredentials builds the "A2SSID<ssid>PWD<password>B2" command.
// The SSID may not contain the PWD token, and neither field may contain a
// 'B' followed by a type digit, since the device could not frame it. The
// whole packet must fit in MaxPacketLen.
func EncodeWifiCredentials(ssid, password string) ([]byte, error) {
	if ssid == "" {
		return nil, ErrInvalidCredentials
	}
	if strings.Contains(ssid, tokenPWD) || hasTerminator(ssid) || hasTerminator(password) {
		return nil, ErrInvalidCredentials
	}
	size := len(ssid) + len(password) + credentialsOverhead
	if size > MaxPacketLen {
		return nil, ErrInvalidCredentials
	}
	var sb strings.Builder
	sb.Grow(size)
	sb.WriteString("A2")
	sb.WriteString(tokenSSID)
	sb.WriteString(ssid)
	sb.WriteString(tokenPWD)
	sb.WriteString(password)
	sb.WriteString("B2")
	return []byte(sb.String()), nil
}

// EncodeBrightness builds the "A6<level>B6" light control command.
func EncodeBrightness(level int) ([]byte, error) {
	if level < 0 || level > MaxBrightness {
		return nil, ErrInvalidBrightness
	}
	return []byte("A6" + strconv.Itoa(level) + "B6"), nil
}

func hasTerminator(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == 'B' && isTypeDigit(s[i+1]) {
			return true
		}
	}
	return false
}
