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

package stream

import (
	"context"
)

func submit[T any](ctx context.Context, m *Manager, ch chan<- T, req T) error {
	select {
	case ch <- req:
		return nil
	case <-m.done:
		return ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, m *Manager, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-m.done:
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

// Frame returns the most recent frame.
func (m *Manager) Frame(ctx context.Context) (Frame, error) {
	req := frameReq{reply: make(chan frameResp, 1)}
	if err := submit(ctx, m, m.frameCh, req); err != nil {
		return Frame{}, err
	}
	resp, err := await(ctx, m, req.reply)
	if err != nil {
		return Frame{}, err
	}
	if !resp.ok {
		return Frame{}, ErrNoFrame
	}
	return resp.frame, nil
}

// FrameBase64 returns the most recent frame as a base64 JPEG. Encoding
// happens on the caller's goroutine.
func (m *Manager) FrameBase64(ctx context.Context) (string, error) {
	f, err := m.Frame(ctx)
	if err != nil {
		return "", err
	}
	return EncodeBase64(f.Image)
}

// SetRotation sets the angle applied to frames received from now on.
func (m *Manager) SetRotation(ctx context.Context, degrees float64) error {
	req := rotationReq{degrees: degrees, reply: make(chan struct{})}
	if err := submit(ctx, m, m.rotationCh, req); err != nil {
		return err
	}
	_, err := await(ctx, m, req.reply)
	return err
}

// DeviceStatus returns the last status report received from the device.
func (m *Manager) DeviceStatus(ctx context.Context) (DeviceStatus, error) {
	reply := make(chan DeviceStatus, 1)
	if err := submit(ctx, m, m.deviceCh, reply); err != nil {
		return DeviceStatus{}, err
	}
	return await(ctx, m, reply)
}

// UpdateAddress replaces the address learned from the device. A
// disconnected stream tries the new address straight away.
func (m *Manager) UpdateAddress(ctx context.Context, addr string) error {
	req := addressReq{addr: addr, reply: make(chan error, 1)}
	if err := submit(ctx, m, m.addressCh, req); err != nil {
		return err
	}
	res, err := await(ctx, m, req.reply)
	if err != nil {
		return err
	}
	return res
}

// Reconnect drops the current socket and tries every candidate again from
// the first. It returns the outcome of that attempt.
func (m *Manager) Reconnect(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := submit(ctx, m, m.reconnectCh, reply); err != nil {
		return err
	}
	res, err := await(ctx, m, reply)
	if err != nil {
		return err
	}
	return res
}
