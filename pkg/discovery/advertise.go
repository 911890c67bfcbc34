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

package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/papertracker/trackerlink/pkg/config"
	"github.com/papertracker/trackerlink/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// ServiceType is the DNS-SD service type the local API is announced as.
const ServiceType = "_trackerlink._tcp"

// retryInterval is how often to retry registration while the network is down.
const retryInterval = 30 * time.Second

// maxRetryDuration bounds the background registration retries.
const maxRetryDuration = 5 * time.Minute

// virtualInterfacePrefixes are container and tunnel interfaces that never
// reach a tracker unit.
var virtualInterfacePrefixes = []string{
	"docker", "br-", "veth", "virbr", "lxc", "lxd",
	"cni", "flannel", "cali", "tunl", "wg",
}

func preferredInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}
	return filterInterfaces(all), nil
}

// filterInterfaces keeps interfaces that are up, multicast capable and
// neither loopback nor virtual.
func filterInterfaces(ifaces []net.Interface) []net.Interface {
	var preferred []net.Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if isVirtualInterface(iface.Name) {
			continue
		}
		preferred = append(preferred, iface)
	}
	return preferred
}

func isVirtualInterface(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Advertiser announces the local API over mDNS so UI clients on the LAN can
// find the host the trackers are plugged into.
type Advertiser struct {
	server       *zeroconf.Server
	cfg          *config.Instance
	cancelFunc   context.CancelFunc
	instanceName string
	stopped      bool
	mu           syncutil.Mutex
}

func NewAdvertiser(cfg *config.Instance) *Advertiser {
	return &Advertiser{cfg: cfg}
}

// Start registers the service. When the network is not ready yet it keeps
// retrying in the background; only configuration problems are returned.
func (a *Advertiser) Start() error {
	if !a.cfg.APIAdvertise() {
		log.Debug().Msg("api advertising disabled by configuration")
		return nil
	}

	a.instanceName = a.resolveInstanceName()
	if a.tryRegister() {
		return nil
	}

	log.Info().
		Dur("retryInterval", retryInterval).
		Dur("maxDuration", maxRetryDuration).
		Msg("mDNS registration failed, retrying in background")

	ctx, cancel := context.WithTimeout(context.Background(), maxRetryDuration)
	a.mu.Lock()
	a.cancelFunc = cancel
	a.mu.Unlock()

	go a.retryLoop(ctx)
	return nil
}

func (a *Advertiser) tryRegister() bool {
	port := a.cfg.APIPort()
	txt := []string{
		"id=" + a.cfg.DeviceID(),
		"version=" + config.AppVersion,
	}

	ifaces, err := preferredInterfaces()
	if err != nil {
		log.Debug().Err(err).Msg("failed to get network interfaces")
		return false
	}
	if len(ifaces) == 0 {
		log.Debug().Msg("no suitable network interfaces found for mDNS")
		return false
	}

	server, err := zeroconf.Register(a.instanceName, ServiceType, "local.", port, txt, ifaces)
	if err != nil {
		log.Debug().Err(err).Msg("mDNS registration attempt failed")
		return false
	}

	a.mu.Lock()
	// Stop may have run while registering.
	if a.stopped {
		a.mu.Unlock()
		server.Shutdown()
		return false
	}
	a.server = server
	a.mu.Unlock()

	log.Info().
		Str("instance", a.instanceName).
		Int("port", port).
		Str("type", ServiceType).
		Msg("mDNS advertising started")
	return true
}

func (a *Advertiser) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if a.tryRegister() {
				log.Info().Msg("mDNS registration succeeded after retry")
				return
			}
		case <-ctx.Done():
			log.Warn().Msg("mDNS registration retry timed out")
			return
		}
	}
}

// Stop withdraws the announcement. Safe to call more than once.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	if a.cancelFunc != nil {
		a.cancelFunc()
		a.cancelFunc = nil
	}
	if a.server != nil {
		log.Debug().Msg("stopping mDNS advertising")
		a.server.Shutdown()
		a.server = nil
	}
}

// InstanceName returns the announced name, empty before Start.
func (a *Advertiser) InstanceName() string {
	return a.instanceName
}

// resolveInstanceName prefers the configured name, then the hostname.
func (a *Advertiser) resolveInstanceName() string {
	if name := a.cfg.APIInstanceName(); name != "" {
		return name
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		log.Warn().Err(err).Msg("failed to get hostname, using fallback")
		if id := a.cfg.DeviceID(); len(id) >= 8 {
			return config.AppName + "-" + id[:8]
		}
		return config.AppName
	}
	return hostname
}
