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

// Package notifications turns bus traffic into API notifications.
package notifications

import (
	"context"
	"errors"

	"github.com/papertracker/trackerlink/pkg/api/models"
	"github.com/papertracker/trackerlink/pkg/bus"
	"github.com/papertracker/trackerlink/pkg/flashtool"
	"github.com/papertracker/trackerlink/pkg/link"
	"github.com/papertracker/trackerlink/pkg/protocol"
	"github.com/papertracker/trackerlink/pkg/registry"
	"github.com/papertracker/trackerlink/pkg/stream"
	"golang.org/x/sync/errgroup"
)

// LinkEventParams is the payload of a links.event notification.
type LinkEventParams struct {
	link.Event
	Text string `json:"text"`
}

func LinkEvent(ctx context.Context, ns chan<- models.Notification, ev link.Event) {
	send(ctx, ns, models.Notification{
		Method: models.NotificationLinkEvent,
		Params: LinkEventParams{Event: ev, Text: ev.Text()},
	})
}

func Progress(ctx context.Context, ns chan<- models.Notification, p flashtool.Progress) {
	send(ctx, ns, models.Notification{
		Method: models.NotificationProgress,
		Params: p,
	})
}

func DeviceStatus(
	ctx context.Context,
	ns chan<- models.Notification,
	role protocol.DeviceRole,
	ds stream.DeviceStatus,
) {
	send(ctx, ns, models.Notification{
		Method: models.NotificationDeviceStatus,
		Params: models.DeviceStatusResponse{
			Role:       role.String(),
			SourceIP:   ds.SourceIP,
			Battery:    ds.Battery,
			Brightness: ds.Brightness,
		},
	})
}

func send(ctx context.Context, ns chan<- models.Notification, n models.Notification) {
	select {
	case ns <- n:
	case <-ctx.Done():
	}
}

// Forward relays link events, tool progress and device reports from reg
// into ns until ctx is cancelled or the buses close.
func Forward(ctx context.Context, reg *registry.Registry, ns chan<- models.Notification) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pump(ctx, reg.Events(), func(ev link.Event) { LinkEvent(ctx, ns, ev) })
	})
	g.Go(func() error {
		return pump(ctx, reg.SerialBuses().Progress, func(p flashtool.Progress) { Progress(ctx, ns, p) })
	})
	for _, role := range protocol.Roles {
		g.Go(func() error {
			return pump(ctx, reg.StreamBuses(role).Status, func(ds stream.DeviceStatus) {
				DeviceStatus(ctx, ns, role, ds)
			})
		})
	}
	return g.Wait()
}

func pump[T any](ctx context.Context, b *bus.Bus[T], fn func(T)) error {
	r := b.Subscribe()
	defer r.Close()
	for {
		v, err := r.Recv(ctx)
		switch {
		case err == nil:
			fn(v)
		case errors.Is(err, bus.ErrClosed), ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}
