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

// Package registry is the explicit device context handed to everything
// that talks to the trackers: the supervised serial manager, one
// supervised stream manager per role, and the buses they publish on.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/papertracker/trackerlink/pkg/bus"
	"github.com/papertracker/trackerlink/pkg/config"
	"github.com/papertracker/trackerlink/pkg/link"
	"github.com/papertracker/trackerlink/pkg/protocol"
	"github.com/papertracker/trackerlink/pkg/serial"
	"github.com/papertracker/trackerlink/pkg/stream"
	"github.com/papertracker/trackerlink/pkg/supervisor"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidRole = errors.New("invalid device role")
	ErrNotRunning  = errors.New("link manager not running")
)

// Options carries the collaborators used to build managers. Nil fields
// select production defaults.
type Options struct {
	Clock    clockwork.Clock
	Ports    serial.PortLister
	Factory  serial.PortFactory
	Tool     serial.Flasher
	Dialer   stream.Dialer
	Resolver stream.Resolver
}

// Registry owns the supervised link managers. Buses outlive the managers
// so a replacement keeps every subscriber.
type Registry struct {
	cfg         *config.Instance
	opts        Options
	serial      *supervisor.Cell[*serial.Manager]
	streams     map[protocol.DeviceRole]*supervisor.Cell[*stream.Manager]
	serialBuses *serial.Buses
	streamBuses map[protocol.DeviceRole]*stream.Buses
}

// New builds the registry. Managers run under ctx once Start is called.
func New(ctx context.Context, cfg *config.Instance, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	r := &Registry{
		cfg:         cfg,
		opts:        opts,
		serial:      supervisor.NewCell[*serial.Manager](ctx, "serial"),
		serialBuses: serial.NewBuses(),
		streams:     make(map[protocol.DeviceRole]*supervisor.Cell[*stream.Manager], len(protocol.Roles)),
		streamBuses: make(map[protocol.DeviceRole]*stream.Buses, len(protocol.Roles)),
	}
	for _, role := range protocol.Roles {
		r.streams[role] = supervisor.NewCell[*stream.Manager](ctx, "stream."+role.String())
		r.streamBuses[role] = stream.NewBuses("stream."+role.String(), r.serialBuses.Events)
	}
	return r
}

// NewSerialManager builds a serial manager on the shared buses.
func (r *Registry) NewSerialManager() *serial.Manager {
	return serial.NewManager(serial.Options{
		Ports:       r.opts.Ports,
		Factory:     r.opts.Factory,
		Tool:        r.opts.Tool,
		Clock:       r.opts.Clock,
		Buses:       r.serialBuses,
		BaudRate:    r.cfg.BaudRate(),
		AutoConnect: r.cfg.SerialAutoConnect(),
	})
}

// NewStreamManager builds the stream manager for role, seeded with the
// configured address and rotation and the last address the device
// reported over serial.
func (r *Registry) NewStreamManager(role protocol.DeviceRole) *stream.Manager {
	var resolver stream.Resolver
	if r.cfg.MDNSEnabled() {
		resolver = r.opts.Resolver
	}
	var learned string
	if status, ok := r.serialBuses.LatestDeviceStatus(); ok && status.Role() == role {
		learned = status.IP
	}
	return stream.NewManager(stream.Options{
		Dialer:   r.opts.Dialer,
		Resolver: resolver,
		Clock:    r.opts.Clock,
		Buses:    r.streamBuses[role],
		Address:  r.cfg.DeviceIP(role),
		Dynamic:  learned,
		Role:     role,
		Rotation: r.cfg.Rotation(role),
	})
}

// Start installs and runs the first instance of every manager.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.serial.Replace(ctx, r.NewSerialManager()); err != nil {
		return fmt.Errorf("failed to start serial manager: %w", err)
	}
	for _, role := range protocol.Roles {
		if err := r.streams[role].Replace(ctx, r.NewStreamManager(role)); err != nil {
			return fmt.Errorf("failed to start %s stream: %w", role, err)
		}
	}
	return nil
}

// Close stops every manager, waits for them and closes the buses.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	if err := r.serial.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("serial: %w", err))
	}
	for role, cell := range r.streams {
		if err := cell.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s stream: %w", role, err))
		}
	}
	for _, b := range r.streamBuses {
		b.Close()
	}
	r.serialBuses.Close()
	return errors.Join(errs...)
}

func (r *Registry) SerialCell() *supervisor.Cell[*serial.Manager] {
	return r.serial
}

// StreamCell returns the cell for role.
func (r *Registry) StreamCell(role protocol.DeviceRole) (*supervisor.Cell[*stream.Manager], error) {
	c, ok := r.streams[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	return c, nil
}

// Serial returns the running serial manager.
func (r *Registry) Serial() (*serial.Manager, error) {
	m, ok := r.serial.Get()
	if !ok {
		return nil, ErrNotRunning
	}
	return m, nil
}

// Stream returns the running stream manager for role.
func (r *Registry) Stream(role protocol.DeviceRole) (*stream.Manager, error) {
	c, err := r.StreamCell(role)
	if err != nil {
		return nil, err
	}
	m, ok := c.Get()
	if !ok {
		return nil, ErrNotRunning
	}
	return m, nil
}

func (r *Registry) SerialBuses() *serial.Buses {
	return r.serialBuses
}

// StreamBuses returns the buses of role's stream, nil for an unknown role.
func (r *Registry) StreamBuses(role protocol.DeviceRole) *stream.Buses {
	return r.streamBuses[role]
}

// Events is the link event bus shared by every manager.
func (r *Registry) Events() *bus.Bus[link.Event] {
	return r.serialBuses.Events
}

// RunBridge forwards the addresses devices report over serial to the
// stream of the matching role until ctx is cancelled.
func (r *Registry) RunBridge(ctx context.Context) error {
	reader := r.serialBuses.Kind(protocol.KindDeviceStatus).Subscribe()
	defer reader.Close()

	log.Debug().Msg("serial to stream address bridge started")
	for {
		pkt, err := reader.Recv(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		status, ok := pkt.(protocol.DeviceStatus)
		if !ok {
			continue
		}
		r.forwardAddress(ctx, status)
	}
}

func (r *Registry) forwardAddress(ctx context.Context, status protocol.DeviceStatus) {
	role := status.Role()
	if role == protocol.RoleUnknown || status.IP == "" {
		return
	}
	m, err := r.Stream(role)
	if err != nil {
		return
	}
	err = m.UpdateAddress(ctx, status.IP)
	switch {
	case err == nil:
	case errors.Is(err, stream.ErrUnspecifiedAddress):
		log.Debug().Str("role", role.String()).Msg("device has no address yet")
	default:
		log.Warn().Err(err).Str("role", role.String()).Str("ip", status.IP).Msg("failed to forward device address")
	}
}
