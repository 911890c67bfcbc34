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

package helpers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/papertracker/trackerlink/pkg/config"
	"github.com/papertracker/trackerlink/pkg/registry"
	"github.com/papertracker/trackerlink/pkg/serial"
	"github.com/papertracker/trackerlink/pkg/testing/mocks"
	"github.com/stretchr/testify/require"
	bugserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// TestPortName is the port the rig's fake USB enumeration reports.
const TestPortName = "/dev/ttyACM0"

// LocalOnlyDialer refuses .local hostnames so tests never wait on
// multicast name resolution, and dials everything else for real.
type LocalOnlyDialer struct{}

func (LocalOnlyDialer) DialContext(
	ctx context.Context,
	u string,
	h http.Header,
) (*websocket.Conn, *http.Response, error) {
	if strings.Contains(u, ".local:") {
		return nil, nil, errors.New("mdns hostnames are not dialed in tests")
	}
	//nolint:wrapcheck // passthrough to the real dialer
	return websocket.DefaultDialer.DialContext(ctx, u, h)
}

// Rig is a started registry wired to in-memory hardware.
type Rig struct {
	Registry *registry.Registry
	Config   *config.Instance
	Flasher  *mocks.MockFlasher
	port     atomic.Pointer[mocks.MockSerialPort]
}

// Port returns the mock port handed out by the most recent open.
func (r *Rig) Port() *mocks.MockSerialPort {
	return r.port.Load()
}

// NewRig starts a registry with mDNS disabled, a fake tracker on
// TestPortName and a recording flasher. mutate may adjust the config.
func NewRig(t *testing.T, mutate func(*config.Values)) *Rig {
	t.Helper()

	off := false
	vals := config.BaseDefaults
	vals.Devices.MDNS = &off
	vals.Tools.AssetsDir = "/assets"
	if mutate != nil {
		mutate(&vals)
	}
	cfg, err := config.NewConfig(t.TempDir(), vals)
	require.NoError(t, err)

	rig := &Rig{Config: cfg, Flasher: mocks.NewMockFlasher()}
	rig.port.Store(mocks.NewMockSerialPort())

	ctx, cancel := context.WithCancel(context.Background())
	rig.Registry = registry.New(ctx, cfg, registry.Options{
		Dialer: LocalOnlyDialer{},
		Tool:   rig.Flasher,
		Ports: func() ([]*enumerator.PortDetails, error) {
			return []*enumerator.PortDetails{{
				Name: TestPortName, IsUSB: true, VID: serial.VendorID, PID: serial.ProductID,
			}}, nil
		},
		Factory: func(string, *bugserial.Mode) (serial.Port, error) {
			p := mocks.NewMockSerialPort()
			rig.port.Store(p)
			return p, nil
		},
	})
	require.NoError(t, rig.Registry.Start(ctx))

	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		require.NoError(t, rig.Registry.Close(closeCtx))
		cancel()
	})
	return rig
}
