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

// Package control is the request surface offered to a user interface. Each
// method validates its input, picks the right link manager from the
// registry and forwards the request.
package control

import (
	"context"
	"fmt"

	"github.com/papertracker/trackerlink/pkg/api/validation"
	"github.com/papertracker/trackerlink/pkg/bus"
	"github.com/papertracker/trackerlink/pkg/config"
	"github.com/papertracker/trackerlink/pkg/flashtool"
	"github.com/papertracker/trackerlink/pkg/protocol"
	"github.com/papertracker/trackerlink/pkg/registry"
	"github.com/papertracker/trackerlink/pkg/serial"
	"github.com/papertracker/trackerlink/pkg/stream"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type OpenSerialParams struct {
	Port string `json:"port" validate:"max=256"`
}

type WifiParams struct {
	SSID     string `json:"ssid" validate:"required,max=32,wifitext"`
	Password string `json:"password" validate:"max=64,wifitext"`
}

type BrightnessParams struct {
	Level int `json:"level" validate:"gte=0,lte=100"`
}

type FlashParams struct {
	Role       string `json:"role" validate:"required,role"`
	Variant    string `json:"variant" validate:"variant"`
	CustomPath string `json:"customPath,omitempty" validate:"max=4096"`
}

type RoleParams struct {
	Role string `json:"role" validate:"required,role"`
}

type RotationParams struct {
	Role  string  `json:"role" validate:"required,role"`
	Angle float64 `json:"angle" validate:"gte=-360,lte=360"`
}

// LinkStatus is the serial link summary shown by the UI. LastErrorIP is
// the address the device last reported.
type LinkStatus struct {
	Role        string `json:"role"`
	LastErrorIP string `json:"lastErrorIp"`
	Connected   bool   `json:"connected"`
}

// Snapshot is the state of every link at one moment.
type Snapshot struct {
	Streams map[string]stream.Status `json:"streams"`
	Serial  serial.Status            `json:"serial"`
}

// Facade implements the UI operations on top of a registry.
type Facade struct {
	reg      *registry.Registry
	cfg      *config.Instance
	fs       afero.Fs
	validate *validation.Validator
}

// New returns a facade. A nil fs uses the OS filesystem.
func New(reg *registry.Registry, cfg *config.Instance, fs afero.Fs) *Facade {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Facade{
		reg:      reg,
		cfg:      cfg,
		fs:       fs,
		validate: validation.DefaultValidator,
	}
}

func (f *Facade) serial() (*serial.Manager, error) {
	m, err := f.reg.Serial()
	if err != nil {
		return nil, fmt.Errorf("serial link unavailable: %w", err)
	}
	return m, nil
}

func (f *Facade) stream(role string) (*stream.Manager, error) {
	r, err := protocol.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", registry.ErrInvalidRole, role)
	}
	m, err := f.reg.Stream(r)
	if err != nil {
		return nil, fmt.Errorf("%s stream unavailable: %w", r, err)
	}
	return m, nil
}

// OpenSerial opens port, or the first tracker found when port is empty,
// and resumes automatic reconnection.
func (f *Facade) OpenSerial(ctx context.Context, p OpenSerialParams) error {
	if err := f.validate.Validate(&p); err != nil {
		return err
	}
	m, err := f.serial()
	if err != nil {
		return err
	}
	return m.Open(ctx, p.Port)
}

// CloseSerial releases the port and suspends automatic reconnection.
func (f *Facade) CloseSerial(ctx context.Context) error {
	m, err := f.serial()
	if err != nil {
		return err
	}
	return m.Close(ctx)
}

func (f *Facade) SendWifiConfig(ctx context.Context, p WifiParams) error {
	if err := f.validate.Validate(&p); err != nil {
		return err
	}
	m, err := f.serial()
	if err != nil {
		return err
	}
	log.Info().Str("ssid", p.SSID).Msg("sending wifi configuration")
	return m.SendWifiConfig(ctx, p.SSID, p.Password)
}

func (f *Facade) SetBrightness(ctx context.Context, p BrightnessParams) error {
	if err := f.validate.Validate(&p); err != nil {
		return err
	}
	m, err := f.serial()
	if err != nil {
		return err
	}
	return m.SetBrightness(ctx, p.Level)
}

// RestartDevice starts a tool restart. Progress is published on
// Progress(); the channel delivers the outcome.
func (f *Facade) RestartDevice(ctx context.Context) (<-chan error, error) {
	m, err := f.serial()
	if err != nil {
		return nil, err
	}
	return m.Restart(ctx)
}

// FlashFirmware writes the firmware for the requested role. Progress is
// published on Progress(); the channel delivers the outcome.
func (f *Facade) FlashFirmware(ctx context.Context, p FlashParams) (<-chan error, error) {
	if err := f.validate.Validate(&p); err != nil {
		return nil, err
	}
	role, err := protocol.ParseRole(p.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", registry.ErrInvalidRole, p.Role)
	}
	images, err := ResolveImages(f.fs, f.cfg.AssetsDir(), role, p.Variant, p.CustomPath)
	if err != nil {
		return nil, err
	}
	m, err := f.serial()
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("role", role.String()).
		Str("firmware", images.Firmware).
		Msg("flashing firmware")
	return m.Flash(ctx, images)
}

// Progress carries restart and flash progress events.
func (f *Facade) Progress() *bus.Bus[flashtool.Progress] {
	return f.reg.SerialBuses().Progress
}

func (f *Facade) GetLinkStatus() LinkStatus {
	m, err := f.serial()
	if err != nil {
		return LinkStatus{Role: protocol.RoleUnknown.String()}
	}
	s := m.Status()
	return LinkStatus{
		Connected:   s.Connected(),
		Role:        s.Role.String(),
		LastErrorIP: s.IP,
	}
}

// Snapshot returns the status of the serial link and every stream.
func (f *Facade) Snapshot() Snapshot {
	snap := Snapshot{Streams: make(map[string]stream.Status, len(protocol.Roles))}
	if m, err := f.serial(); err == nil {
		snap.Serial = m.Status()
	}
	for _, role := range protocol.Roles {
		if m, err := f.reg.Stream(role); err == nil {
			snap.Streams[role.String()] = m.Status()
		}
	}
	return snap
}

func (f *Facade) GetFrame(ctx context.Context, p RoleParams) (stream.Frame, error) {
	if err := f.validate.Validate(&p); err != nil {
		return stream.Frame{}, err
	}
	m, err := f.stream(p.Role)
	if err != nil {
		return stream.Frame{}, err
	}
	return m.Frame(ctx)
}

func (f *Facade) GetFrameBase64(ctx context.Context, p RoleParams) (string, error) {
	if err := f.validate.Validate(&p); err != nil {
		return "", err
	}
	m, err := f.stream(p.Role)
	if err != nil {
		return "", err
	}
	return m.FrameBase64(ctx)
}

func (f *Facade) SetRotation(ctx context.Context, p RotationParams) error {
	if err := f.validate.Validate(&p); err != nil {
		return err
	}
	m, err := f.stream(p.Role)
	if err != nil {
		return err
	}
	return m.SetRotation(ctx, p.Angle)
}

func (f *Facade) GetDeviceStatus(ctx context.Context, p RoleParams) (stream.DeviceStatus, error) {
	if err := f.validate.Validate(&p); err != nil {
		return stream.DeviceStatus{}, err
	}
	m, err := f.stream(p.Role)
	if err != nil {
		return stream.DeviceStatus{}, err
	}
	return m.DeviceStatus(ctx)
}
