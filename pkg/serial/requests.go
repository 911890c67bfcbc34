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
	"context"

	"github.com/papertracker/trackerlink/pkg/flashtool"
	"github.com/papertracker/trackerlink/pkg/protocol"
)

// submit enqueues a request for the manager loop.
func submit[T any](ctx context.Context, m *Manager, ch chan<- T, req T) error {
	select {
	case ch <- req:
		m.signal()
		return nil
	case <-m.done:
		return ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await waits for the manager's answer to a submitted request.
func await[T any](ctx context.Context, m *Manager, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-m.done:
		// the loop may have answered just before exiting
		select {
		case v := <-reply:
			return v, nil
		default:
		}
		return zero, ErrManagerStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func call(ctx context.Context, m *Manager, send func(reply chan error) error) error {
	reply := make(chan error, 1)
	if err := send(reply); err != nil {
		return err
	}
	res, err := await(ctx, m, reply)
	if err != nil {
		return err
	}
	return res
}

// Open opens port, or the first discovered tracker port when port is
// empty, and re-enables automatic reconnection.
func (m *Manager) Open(ctx context.Context, port string) error {
	return call(ctx, m, func(reply chan error) error {
		return submit(ctx, m, m.openCh, openReq{port: port, reply: reply})
	})
}

// Close releases the port and suspends automatic reconnection until the
// next Open.
func (m *Manager) Close(ctx context.Context) error {
	return call(ctx, m, func(reply chan error) error {
		return submit(ctx, m, m.closeCh, reply)
	})
}

// SendWifiConfig writes the WiFi credentials command.
func (m *Manager) SendWifiConfig(ctx context.Context, ssid, password string) error {
	return call(ctx, m, func(reply chan error) error {
		return submit(ctx, m, m.wifiCh, wifiReq{ssid: ssid, password: password, reply: reply})
	})
}

// SetBrightness writes the light control command.
func (m *Manager) SetBrightness(ctx context.Context, level int) error {
	return call(ctx, m, func(reply chan error) error {
		return submit(ctx, m, m.brightnessCh, brightnessReq{level: level, reply: reply})
	})
}

// Restart releases the port and runs the tool's restart. The returned
// error reports whether the request was accepted; the channel delivers the
// outcome of the tool run. Progress is published on Buses().Progress.
func (m *Manager) Restart(ctx context.Context) (<-chan error, error) {
	return m.runTool(ctx, flashtool.OpRestart, flashtool.Images{})
}

// Flash releases the port and writes images to the device.
func (m *Manager) Flash(ctx context.Context, images flashtool.Images) (<-chan error, error) {
	return m.runTool(ctx, flashtool.OpFlash, images)
}

func (m *Manager) runTool(
	ctx context.Context,
	op flashtool.Operation,
	images flashtool.Images,
) (<-chan error, error) {
	req := toolReq{
		op:       op,
		images:   images,
		accepted: make(chan error, 1),
		result:   make(chan error, 1),
	}
	if err := submit(ctx, m, m.toolCh, req); err != nil {
		return nil, err
	}
	accepted, err := await(ctx, m, req.accepted)
	if err != nil {
		return nil, err
	}
	if accepted != nil {
		return nil, accepted
	}
	return req.result, nil
}

// LatestPacket returns the most recent packet of the given kind.
func (m *Manager) LatestPacket(kind protocol.Kind) (protocol.Packet, bool) {
	return m.buses.LatestPacket(kind)
}
