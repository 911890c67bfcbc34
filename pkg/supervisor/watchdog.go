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

package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/papertracker/trackerlink/pkg/link"
	"github.com/papertracker/trackerlink/pkg/serial"
	"github.com/papertracker/trackerlink/pkg/stream"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// SerialInterval is the serial check period while the link is healthy.
	SerialInterval = 2 * time.Second
	// SerialRetryInterval is used after a check found the link down.
	SerialRetryInterval = 5 * time.Second
	// StreamInterval is the stream check period.
	StreamInterval = 3 * time.Second
	// requestTimeout bounds a single open or reconnect issued by a watchdog.
	requestTimeout = 10 * time.Second
)

// SerialWatchdog keeps the serial link up. It reopens the port when the
// manager is disconnected, replaces the manager when the port vanishes
// from enumeration or the manager has died, and leaves the link alone
// while a tool owns the port or the user closed it.
type SerialWatchdog struct {
	clock      clockwork.Clock
	cell       *Cell[*serial.Manager]
	newManager func() *serial.Manager
	ports      serial.PortLister
	port       string
	missLog    rate.Sometimes
}

type SerialWatchdogOptions struct {
	Clock clockwork.Clock
	Cell  *Cell[*serial.Manager]
	// NewManager builds a replacement sharing the buses of the old one.
	NewManager func() *serial.Manager
	Ports      serial.PortLister
	// Port skips discovery when set.
	Port string
}

func NewSerialWatchdog(opts SerialWatchdogOptions) *SerialWatchdog {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Ports == nil {
		opts.Ports = serial.DefaultPortLister
	}
	return &SerialWatchdog{
		clock:      opts.Clock,
		cell:       opts.Cell,
		newManager: opts.NewManager,
		ports:      opts.Ports,
		port:       opts.Port,
		missLog:    rate.Sometimes{First: 3, Interval: time.Minute},
	}
}

// Run checks the link until ctx is cancelled.
func (w *SerialWatchdog) Run(ctx context.Context) error {
	log.Info().Msg("serial watchdog started")
	delay := SerialInterval
	for {
		timer := w.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("serial watchdog stopped")
			return nil
		case <-timer.Chan():
		}

		if w.checkOnce(ctx) {
			delay = SerialInterval
		} else {
			delay = SerialRetryInterval
		}
	}
}

// checkOnce runs one check and reports whether the link is healthy or
// deliberately idle.
func (w *SerialWatchdog) checkOnce(ctx context.Context) bool {
	m, ok := w.cell.Get()
	if !ok || w.cell.Exited() {
		log.Warn().Msg("serial manager not running, starting a new one")
		if !w.replace(ctx) {
			return false
		}
		m, _ = w.cell.Get()
	}

	st := m.Status()
	if st.ToolRunning || !st.AutoConnect {
		return true
	}

	if st.State == link.Connected {
		present, err := serial.PortPresent(w.ports, st.Port)
		if err != nil {
			log.Debug().Err(err).Msg("serial enumeration failed, keeping link")
			return true
		}
		if present {
			return true
		}
		log.Warn().Str("port", st.Port).Msg("serial port disappeared, replacing manager")
		w.replace(ctx)
		return false
	}

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := m.Open(rctx, w.port); err != nil {
		w.missLog.Do(func() {
			if errors.Is(err, serial.ErrNoDevice) {
				log.Info().Msg("waiting for tracker to be plugged in")
			} else {
				log.Warn().Err(err).Msg("serial reconnect failed")
			}
		})
		return false
	}
	log.Info().Str("port", m.Status().Port).Msg("serial link restored")
	return true
}

func (w *SerialWatchdog) replace(ctx context.Context) bool {
	if w.newManager == nil {
		return false
	}
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := w.cell.Replace(rctx, w.newManager()); err != nil {
		log.Error().Err(err).Msg("failed to replace serial manager")
		return false
	}
	return true
}

// StreamWatchdog asks a stream manager to reconnect while it is down and
// restarts the manager if it died. Stalled sockets are caught by the
// manager's own heartbeat.
type StreamWatchdog struct {
	clock      clockwork.Clock
	cell       *Cell[*stream.Manager]
	newManager func() *stream.Manager
	missLog    rate.Sometimes
}

type StreamWatchdogOptions struct {
	Clock      clockwork.Clock
	Cell       *Cell[*stream.Manager]
	NewManager func() *stream.Manager
}

func NewStreamWatchdog(opts StreamWatchdogOptions) *StreamWatchdog {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &StreamWatchdog{
		clock:      opts.Clock,
		cell:       opts.Cell,
		newManager: opts.NewManager,
		missLog:    rate.Sometimes{First: 3, Interval: time.Minute},
	}
}

// Run checks the stream every StreamInterval until ctx is cancelled.
func (w *StreamWatchdog) Run(ctx context.Context) error {
	ticker := w.clock.NewTicker(StreamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			w.checkOnce(ctx)
		}
	}
}

func (w *StreamWatchdog) checkOnce(ctx context.Context) {
	m, ok := w.cell.Get()
	if !ok || w.cell.Exited() {
		if w.newManager == nil {
			return
		}
		log.Warn().Msg("stream manager not running, starting a new one")
		rctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if err := w.cell.Replace(rctx, w.newManager()); err != nil {
			log.Error().Err(err).Msg("failed to replace stream manager")
		}
		return
	}

	st := m.Status()
	if st.State != link.Disconnected {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := m.Reconnect(rctx); err != nil {
		w.missLog.Do(func() {
			log.Info().Err(err).Str("role", st.Role.String()).Msg("stream still unreachable")
		})
		return
	}
	log.Info().Str("role", st.Role.String()).Str("url", m.Status().URL).Msg("stream link restored")
}
