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

package config

import "time"

const (
	DefaultAPIPort = 7599
	// APIRequestTimeout bounds a single API method call.
	APIRequestTimeout = 30 * time.Second
)

// DefaultAllowedOrigins lets a locally served UI reach the API.
var DefaultAllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*", "tauri://*"}

type API struct {
	Enabled        *bool    `toml:"enabled,omitempty"`
	Advertise      *bool    `toml:"advertise,omitempty"`
	Listen         string   `toml:"listen,omitempty"`
	InstanceName   string   `toml:"instance_name,omitempty"`
	AllowedOrigins []string `toml:"allowed_origins,omitempty"`
	Port           int      `toml:"port,omitempty"`
}

type MQTT struct {
	Broker   string   `toml:"broker,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
	Username string   `toml:"username,omitempty"`
	Password string   `toml:"password,omitempty"`
	Filter   []string `toml:"filter,omitempty"`
}

// APIEnabled defaults to true.
func (c *Instance) APIEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.API.Enabled == nil {
		return true
	}
	return *c.vals.API.Enabled
}

func (c *Instance) APIPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.API.Port <= 0 {
		return DefaultAPIPort
	}
	return c.vals.API.Port
}

// APIListen is the bind address, loopback unless configured.
func (c *Instance) APIListen() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.API.Listen == "" {
		return "127.0.0.1"
	}
	return c.vals.API.Listen
}

// APIAdvertise reports whether the API is announced over mDNS. Off by
// default because the API only listens on loopback unless configured.
func (c *Instance) APIAdvertise() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.API.Advertise == nil {
		return false
	}
	return *c.vals.API.Advertise
}

// APIInstanceName overrides the advertised mDNS instance name.
func (c *Instance) APIInstanceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.API.InstanceName
}

func (c *Instance) AllowedOrigins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.vals.API.AllowedOrigins) == 0 {
		return append([]string(nil), DefaultAllowedOrigins...)
	}
	return append([]string(nil), c.vals.API.AllowedOrigins...)
}

// MQTT returns the publisher settings; an empty Broker disables it.
func (c *Instance) MQTT() MQTT {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.vals.MQTT
	m.Filter = append([]string(nil), m.Filter...)
	return m
}
