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

// Package discovery finds tracker units on the local network over
// multicast DNS and announces the local API the same way.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

// DeviceServiceType is what the tracker firmware announces its web server as.
const DeviceServiceType = "_http._tcp"

var ErrNotFound = errors.New("host not found over mdns")

// Browser lists service entries of a type until ctx is done. It is the
// part of zeroconf.Resolver the lookup needs.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Resolver turns a unit's .local hostname into host:port addresses by
// browsing for its HTTP service.
type Resolver struct {
	newBrowser func() (Browser, error)
}

// NewResolver returns a resolver using the system's multicast interfaces.
func NewResolver() *Resolver {
	return &Resolver{
		newBrowser: func() (Browser, error) {
			return zeroconf.NewResolver(nil)
		},
	}
}

// NewResolverWithBrowser is used by tests to inject canned entries.
func NewResolverWithBrowser(b Browser) *Resolver {
	return &Resolver{
		newBrowser: func() (Browser, error) {
			return b, nil
		},
	}
}

// Resolve browses until an entry for hostname appears or ctx is done. It
// returns every IPv4 address of the first matching entry.
func (r *Resolver) Resolve(ctx context.Context, hostname string) ([]string, error) {
	want := normalizeHost(hostname)
	if want == "" {
		return nil, errors.New("empty hostname")
	}

	browser, err := r.newBrowser()
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := browser.Browse(ctx, DeviceServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("failed to browse for %s: %w", hostname, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hostname)
		case entry, ok := <-entries:
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, hostname)
			}
			if entry == nil || normalizeHost(entry.HostName) != want {
				continue
			}
			addrs := entryAddresses(entry)
			if len(addrs) == 0 {
				continue
			}
			log.Debug().Str("host", hostname).Strs("addrs", addrs).Msg("resolved over mdns")
			return addrs, nil
		}
	}
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}

func entryAddresses(e *zeroconf.ServiceEntry) []string {
	port := e.Port
	if port <= 0 {
		port = 80
	}
	out := make([]string, 0, len(e.AddrIPv4))
	for _, ip := range e.AddrIPv4 {
		if ip == nil || ip.IsUnspecified() {
			continue
		}
		out = append(out, net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	}
	return out
}
