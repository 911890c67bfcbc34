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
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

const (
	// DefaultPort is used when a candidate address names no port.
	DefaultPort = "80"
	// DefaultSecurePort is used for wss addresses without a port.
	DefaultSecurePort = "443"
	// Path is the device's WebSocket endpoint.
	Path = "/ws"
)

var (
	ErrEmptyAddress       = errors.New("empty stream address")
	ErrUnspecifiedAddress = errors.New("unspecified stream address")
)

// NormalizeURL turns a configured or learned device address into a
// WebSocket URL. Bare hosts and http(s) URLs get the ws(s) scheme, the
// default port and the /ws path when they are missing. ws and wss URLs are
// used as given.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmptyAddress
	}

	literal := false
	switch {
	case strings.HasPrefix(s, "ws://"), strings.HasPrefix(s, "wss://"):
		literal = true
	case strings.HasPrefix(s, "http://"):
		s = "ws://" + strings.TrimPrefix(s, "http://")
	case strings.HasPrefix(s, "https://"):
		s = "wss://" + strings.TrimPrefix(s, "https://")
	default:
		s = "ws://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid stream address %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid stream address %q: missing host", raw)
	}
	if literal {
		return u.String(), nil
	}

	host := canonicalHost(u.Hostname())
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		return "", ErrUnspecifiedAddress
	}
	port := u.Port()
	if port == "" {
		port = DefaultPort
		if u.Scheme == "wss" {
			port = DefaultSecurePort
		}
	}
	u.Host = net.JoinHostPort(host, port)
	if u.Path == "" || u.Path == "/" {
		u.Path = Path
	}
	return u.String(), nil
}

// canonicalHost strips the zero padding the serial protocol puts on IPv4
// octets ("192.168.001.042"), which the resolver would otherwise treat as
// a hostname.
func canonicalHost(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return host
	}
	for i, p := range parts {
		if p == "" || len(p) > 3 {
			return host
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return host
		}
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Candidates is the ordered list of URLs a stream tries. Addresses found
// by an mDNS lookup come first, then the address most recently learned
// from the device, then the fixed entries in the order they were added. A
// URL never appears twice.
//
// Candidates is owned by a single Manager goroutine and is not safe for
// concurrent use.
type Candidates struct {
	dynamic  string
	fixed    []string
	resolved []string
}

// NewCandidates builds a list from fixed addresses, skipping any that do
// not normalize.
func NewCandidates(fixed ...string) *Candidates {
	c := &Candidates{}
	for _, addr := range fixed {
		_ = c.Add(addr)
	}
	return c
}

// Add appends a fixed address. Adding a URL already present is a no-op.
func (c *Candidates) Add(addr string) error {
	u, err := NormalizeURL(addr)
	if err != nil {
		return err
	}
	if !slices.Contains(c.fixed, u) {
		c.fixed = append(c.fixed, u)
	}
	return nil
}

// SetDynamic replaces the learned address. It reports whether the list
// changed.
func (c *Candidates) SetDynamic(addr string) (bool, error) {
	u, err := NormalizeURL(addr)
	if err != nil {
		return false, err
	}
	if u == c.dynamic {
		return false, nil
	}
	c.dynamic = u
	return true, nil
}

// Dynamic returns the learned address, if any.
func (c *Candidates) Dynamic() string {
	return c.dynamic
}

// SetResolved replaces the addresses found by mDNS.
func (c *Candidates) SetResolved(addrs []string) {
	c.resolved = c.resolved[:0]
	for _, addr := range addrs {
		u, err := NormalizeURL(addr)
		if err != nil {
			continue
		}
		if !slices.Contains(c.resolved, u) {
			c.resolved = append(c.resolved, u)
		}
	}
}

// List returns the URLs in connection order.
func (c *Candidates) List() []string {
	out := make([]string, 0, len(c.resolved)+1+len(c.fixed))
	add := func(u string) {
		if u != "" && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	for _, u := range c.resolved {
		add(u)
	}
	add(c.dynamic)
	for _, u := range c.fixed {
		add(u)
	}
	return out
}

// Len returns the number of distinct URLs.
func (c *Candidates) Len() int {
	return len(c.List())
}
