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

import (
	"testing"
	"time"

	"github.com/papertracker/trackerlink/pkg/protocol"
	"github.com/stretchr/testify/assert"
)

// TestEsptoolPathNoRecursiveLock guards against EsptoolPath taking the read
// lock while AssetsDir holds it. With -tags=deadlock, go-deadlock panics on
// recursive locks.
func TestEsptoolPathNoRecursiveLock(t *testing.T) {
	t.Parallel()

	cfg := &Instance{}

	done := make(chan struct{})
	go func() {
		_ = cfg.EsptoolPath()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("EsptoolPath() deadlocked")
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	cfg := &Instance{}

	done := make(chan struct{})
	for range 10 {
		go func() {
			for range 100 {
				_ = cfg.APIPort()
				_ = cfg.APIListen()
				_ = cfg.DeviceIP(protocol.RoleFace)
				_ = cfg.MQTT()
			}
			done <- struct{}{}
		}()
	}

	for range 10 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent access deadlocked")
		}
	}
}

func TestAPIDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Instance{}
	assert.Equal(t, DefaultAPIPort, cfg.APIPort())
	assert.Equal(t, "127.0.0.1", cfg.APIListen())
	assert.True(t, cfg.APIEnabled())
	assert.False(t, cfg.APIAdvertise())
	assert.Equal(t, DefaultAllowedOrigins, cfg.AllowedOrigins())
}

func TestAPICustomListen(t *testing.T) {
	t.Parallel()

	cfg := &Instance{}
	cfg.vals.API.Listen = "0.0.0.0"
	cfg.vals.API.Port = 9000
	assert.Equal(t, "0.0.0.0", cfg.APIListen())
	assert.Equal(t, 9000, cfg.APIPort())
}
