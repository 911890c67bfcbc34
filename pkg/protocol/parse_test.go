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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want   Packet
		name   string
		window string
	}{
		{name: "wifi setup prompt", window: "A101B1", want: WifiSetupPrompt{}},
		{name: "wifi confirmed", window: "A303B3", want: WifiConfirmed{}},
		{name: "light ack", window: "A6050B6", want: LightControlAck{Brightness: 50}},
		{name: "light ack single digit", window: "A67B6", want: LightControlAck{Brightness: 7}},
		{
			name:   "device status fixture",
			window: "A5123000000000001POWER099VERSION001B5",
			want: DeviceStatus{
				IP:         "000.000.000.001",
				Brightness: 123,
				Power:      99,
				Version:    1,
			},
		},
		{
			name:   "device status short digit run",
			window: "A5501POWER1VERSION2B5",
			want:   DeviceStatus{IP: "000.000.000.001", Brightness: 50, Power: 1, Version: 2},
		},
		{
			name:   "device status full address",
			window: "A5100192168001042POWER80VERSION3B5",
			want:   DeviceStatus{IP: "192.168.001.042", Brightness: 100, Power: 80, Version: 3},
		},
		{
			name:   "wifi credentials",
			window: "A2SSIDhome-netPWDhunter2B2",
			want:   WifiCredentials{SSID: "home-net", Password: "hunter2"},
		},
		{
			name:   "wifi credentials split at first PWD",
			window: "A2SSIDaPWDbPWDcB2",
			want:   WifiCredentials{SSID: "a", Password: "bPWDc"},
		},
		{
			name:   "wifi rejected while booting",
			window: "A4SSIDpaperPWDB4",
			want:   WifiCredentialsRejected{SSID: "paper", Password: ""},
		},
		{name: "too short", window: "AB", want: Unknown{Raw: "AB"}},
		{name: "no start marker", window: "X101B1", want: Unknown{Raw: "X101B1"}},
		{name: "wrong prompt body", window: "A102B1", want: Unknown{Raw: "A102B1"}},
		{name: "mismatched type digits", window: "A6050B2", want: Unknown{Raw: "A6050B2"}},
		{name: "type digit out of range", window: "A7B7", want: Unknown{Raw: "A7B7"}},
		{name: "light ack without digits", window: "A6B6", want: Unknown{Raw: "A6B6"}},
		{name: "light ack four digits", window: "A61234B6", want: Unknown{Raw: "A61234B6"}},
		{name: "credentials missing PWD", window: "A2SSIDnetB2", want: Unknown{Raw: "A2SSIDnetB2"}},
		{
			name:   "status with single digit run",
			window: "A55POWER1VERSION1B5",
			want:   Unknown{Raw: "A55POWER1VERSION1B5"},
		},
		{
			name:   "status with oversized address",
			window: "A51231234567890123POWER1VERSION1B5",
			want:   Unknown{Raw: "A51231234567890123POWER1VERSION1B5"},
		},
		{
			name:   "status missing version",
			window: "A5123000000000001POWER099B5",
			want:   Unknown{Raw: "A5123000000000001POWER099B5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Parse(tt.window))
		})
	}
}

func TestParseDeviceStatusRole(t *testing.T) {
	t.Parallel()

	pkt := Parse("A5100192168001042POWER80VERSION2B5")
	status, ok := pkt.(DeviceStatus)
	require.True(t, ok)
	assert.Equal(t, RoleLeftEye, status.Role())
	assert.Equal(t, KindDeviceStatus, status.Kind())
}

func TestWifiCredentialsRejectedDeviceBooting(t *testing.T) {
	t.Parallel()

	booting, ok := Parse("A4SSIDpaperPWDB4").(WifiCredentialsRejected)
	require.True(t, ok)
	assert.True(t, booting.DeviceBooting())

	rejected, ok := Parse("A4SSIDhomePWDwrongB4").(WifiCredentialsRejected)
	require.True(t, ok)
	assert.False(t, rejected.DeviceBooting())
}

func TestDecodeIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{raw: "1", want: "000.000.000.001"},
		{raw: "", want: "000.000.000.000"},
		{raw: "192168001010", want: "192.168.001.010"},
		{raw: "10000000001", want: "010.000.000.001"},
		{raw: "999255000001", want: "000.255.000.001"},
		{raw: "256256256256", want: "000.000.000.000"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DecodeIP(tt.raw))
		})
	}
}

func TestEncodeWifiCredentials(t *testing.T) {
	t.Parallel()

	got, err := EncodeWifiCredentials("net", "pw")
	require.NoError(t, err)
	assert.Equal(t, "A2SSIDnetPWDpwB2", string(got))

	back, ok := Parse(string(got)).(WifiCredentials)
	require.True(t, ok)
	assert.Equal(t, "net", back.SSID)
	assert.Equal(t, "pw", back.Password)
}

func TestEncodeWifiCredentialsRejectsUnframeable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ssid     string
		password string
	}{
		{name: "empty ssid", ssid: "", password: "pw"},
		{name: "ssid with PWD token", ssid: "myPWDnet", password: "pw"},
		{name: "password with terminator", ssid: "net", password: "abcB2def"},
		{name: "ssid with terminator", ssid: "B5net", password: "pw"},
		{name: "too long", ssid: "net", password: string(make([]byte, MaxPacketLen))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := EncodeWifiCredentials(tt.ssid, tt.password)
			require.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestEncodeBrightness(t *testing.T) {
	t.Parallel()

	got, err := EncodeBrightness(50)
	require.NoError(t, err)
	assert.Equal(t, "A650B6", string(got))
	assert.Equal(t, LightControlAck{Brightness: 50}, Parse(string(got)))

	_, err = EncodeBrightness(-1)
	require.ErrorIs(t, err, ErrInvalidBrightness)
	_, err = EncodeBrightness(MaxBrightness + 1)
	require.ErrorIs(t, err, ErrInvalidBrightness)
}

func TestRoleFromCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RoleFace, RoleFromCode(1))
	assert.Equal(t, RoleLeftEye, RoleFromCode(2))
	assert.Equal(t, RoleRightEye, RoleFromCode(3))
	assert.Equal(t, RoleUnknown, RoleFromCode(0))
	assert.Equal(t, RoleUnknown, RoleFromCode(42))

	assert.Equal(t, "paper1.local", RoleFace.Hostname())
	assert.Equal(t, "paper3.local", RoleRightEye.Hostname())
	assert.Empty(t, RoleUnknown.Hostname())
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"face", "FACE", "1"} {
		r, err := ParseRole(in)
		require.NoError(t, err)
		assert.Equal(t, RoleFace, r)
	}
	r, err := ParseRole("left-eye")
	require.NoError(t, err)
	assert.Equal(t, RoleLeftEye, r)
	r, err = ParseRole("right_eye")
	require.NoError(t, err)
	assert.Equal(t, RoleRightEye, r)

	_, err = ParseRole("nose")
	require.Error(t, err)

	var role DeviceRole
	require.NoError(t, role.UnmarshalText([]byte("left_eye")))
	assert.Equal(t, RoleLeftEye, role)
	text, err := role.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "left_eye", string(text))
}
