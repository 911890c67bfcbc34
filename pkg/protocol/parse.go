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
	"strconv"
	"strings"
)

const (
	tokenSSID    = "SSID"
	tokenPWD     = "PWD"
	tokenPower   = "POWER"
	tokenVersion = "VERSION"

	maxFieldDigits = 3
	ipDigits       = 12
)

// Parse decodes a single framed packet. Anything that does not match the
// grammar of its type digit yields Unknown; Parse never fails.
func Parse(window string) Packet {
	n := len(window)
	if n < 3 || window[0] != 'A' || window[n-2] != 'B' {
		return Unknown{Raw: window}
	}

	var pkt Packet
	switch window[n-1] {
	case '1':
		if window == "A101B1" {
			pkt = WifiSetupPrompt{}
		}
	case '2':
		if ssid, pwd, ok := scanCredentials(window, '2'); ok {
			pkt = WifiCredentials{SSID: ssid, Password: pwd}
		}
	case '3':
		if window == "A303B3" {
			pkt = WifiConfirmed{}
		}
	case '4':
		if ssid, pwd, ok := scanCredentials(window, '4'); ok {
			pkt = WifiCredentialsRejected{SSID: ssid, Password: pwd}
		}
	case '5':
		if status, ok := scanDeviceStatus(window); ok {
			pkt = status
		}
	case '6':
		if b, ok := scanLightAck(window); ok {
			pkt = LightControlAck{Brightness: b}
		}
	}

	if pkt == nil {
		return Unknown{Raw: window}
	}
	return pkt
}

// body strips the "A<d>" prefix and "B<d>" suffix, checking both type digits.
func body(window string, digit byte) (string, bool) {
	n := len(window)
	if n < 4 || window[1] != digit || window[n-1] != digit {
		return "", false
	}
	return window[2 : n-2], true
}

// scanCredentials handles "A<d>SSID<ssid>PWD<password>B<d>". The SSID ends at
// the first PWD token.
func scanCredentials(window string, digit byte) (ssid, pwd string, ok bool) {
	b, ok := body(window, digit)
	if !ok {
		return "", "", false
	}
	rest, found := strings.CutPrefix(b, tokenSSID)
	if !found {
		return "", "", false
	}
	ssid, pwd, found = strings.Cut(rest, tokenPWD)
	if !found {
		return "", "", false
	}
	return ssid, pwd, true
}

// scanDeviceStatus handles
// "A5<brightness><ip>POWER<power>VERSION<version>B5". Brightness and IP share
// one digit run: brightness takes up to three leading digits while leaving at
// least one for the IP.
func scanDeviceStatus(window string) (DeviceStatus, bool) {
	b, ok := body(window, '5')
	if !ok {
		return DeviceStatus{}, false
	}

	run, rest := leadingDigits(b)
	if len(run) < 2 {
		return DeviceStatus{}, false
	}
	split := min(maxFieldDigits, len(run)-1)
	brightRun, ipRun := run[:split], run[split:]
	if len(ipRun) > ipDigits {
		return DeviceStatus{}, false
	}

	rest, found := strings.CutPrefix(rest, tokenPower)
	if !found {
		return DeviceStatus{}, false
	}
	powerRun, rest := leadingDigits(rest)
	if !validField(powerRun) {
		return DeviceStatus{}, false
	}

	rest, found = strings.CutPrefix(rest, tokenVersion)
	if !found {
		return DeviceStatus{}, false
	}
	versionRun, rest := leadingDigits(rest)
	if !validField(versionRun) || rest != "" {
		return DeviceStatus{}, false
	}

	return DeviceStatus{
		IP:         DecodeIP(ipRun),
		Brightness: atou(brightRun),
		Power:      atou(powerRun),
		Version:    atou(versionRun),
	}, true
}

func scanLightAck(window string) (uint32, bool) {
	b, ok := body(window, '6')
	if !ok {
		return 0, false
	}
	run, rest := leadingDigits(b)
	if !validField(run) || rest != "" {
		return 0, false
	}
	return atou(run), true
}

// DecodeIP turns the packed IP digit run of a status packet into dotted
// form. The run is left padded with zeros to twelve digits and split into
// four three-digit octets. An octet that does not fit in a byte decodes as 0.
// Octets keep their three-digit width, e.g. "1" decodes to "000.000.000.001".
func DecodeIP(raw string) string {
	if len(raw) < ipDigits {
		raw = strings.Repeat("0", ipDigits-len(raw)) + raw
	}
	parts := make([]string, 4)
	for i := range parts {
		group := raw[i*3 : i*3+3]
		v, err := strconv.ParseUint(group, 10, 8)
		if err != nil {
			v = 0
		}
		parts[i] = fmt.Sprintf("%03d", v)
	}
	return strings.Join(parts, ".")
}

func leadingDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func validField(run string) bool {
	return run != "" && len(run) <= maxFieldDigits
}

// atou is only called on runs of at most three digits.
func atou(run string) uint32 {
	v, err := strconv.ParseUint(run, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
