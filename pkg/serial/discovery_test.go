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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func mixedPorts() []*enumerator.PortDetails {
	return []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/rfcomm0", IsUSB: false, VID: "303A", PID: "1001"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10C4", PID: "EA60"},
		{Name: "/dev/ttyACM1", IsUSB: true, VID: "303a", PID: "1001", Product: "USB JTAG/serial debug unit"},
		{Name: "/dev/ttyACM2", IsUSB: true, VID: "303A", PID: "0002"},
	}
}

func listerOf(ports []*enumerator.PortDetails, err error) PortLister {
	return func() ([]*enumerator.PortDetails, error) {
		return ports, err
	}
}

func TestFindPortMatchesTrackerIDs(t *testing.T) {
	t.Parallel()

	name, err := FindPort(listerOf(mixedPorts(), nil))
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", name)
}

func TestFindPortNoMatch(t *testing.T) {
	t.Parallel()

	ports := mixedPorts()
	ports = append(ports[:3], ports[4:]...)

	_, err := FindPort(listerOf(ports, nil))
	require.ErrorIs(t, err, ErrNoDevice)

	_, err = FindPort(listerOf(nil, nil))
	require.ErrorIs(t, err, ErrNoDevice)
}

func TestFindPortListerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("enumeration failed")
	_, err := FindPort(listerOf(nil, boom))
	require.ErrorIs(t, err, boom)
}

func TestPortPresent(t *testing.T) {
	t.Parallel()

	ok, err := PortPresent(listerOf(mixedPorts(), nil), "/dev/ttyACM1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = PortPresent(listerOf(mixedPorts(), nil), "/dev/ttyUSB0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMode(t *testing.T) {
	t.Parallel()

	m := Mode(115200)
	assert.Equal(t, 115200, m.BaudRate)
	assert.Equal(t, 8, m.DataBits)
}
