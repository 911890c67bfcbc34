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

// Package service assembles the link engine: the device registry, its
// watchdogs, the serial-to-stream bridge, the local API, mDNS advertising
// and the optional MQTT publisher.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/papertracker/trackerlink/pkg/api"
	"github.com/papertracker/trackerlink/pkg/api/models"
	"github.com/papertracker/trackerlink/pkg/api/notifications"
	"github.com/papertracker/trackerlink/pkg/config"
	"github.com/papertracker/trackerlink/pkg/control"
	"github.com/papertracker/trackerlink/pkg/discovery"
	"github.com/papertracker/trackerlink/pkg/flashtool"
	"github.com/papertracker/trackerlink/pkg/helpers/command"
	"github.com/papertracker/trackerlink/pkg/protocol"
	"github.com/papertracker/trackerlink/pkg/publishers"
	"github.com/papertracker/trackerlink/pkg/registry"
	"github.com/papertracker/trackerlink/pkg/stream"
	"github.com/papertracker/trackerlink/pkg/supervisor"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 10 * time.Second
	publisherBacklog = 100
)

// Options lets callers swap the hardware and network edges. Zero values
// select the real implementations.
type Options struct {
	// Listener replaces the configured API listen address.
	Listener net.Listener
	// Publisher replaces the MQTT publisher built from config.
	Publisher *publishers.MQTTPublisher
	Registry  registry.Options
}

// Start builds and runs every component. stop cancels them and waits for
// shutdown; done closes once everything has exited.
func Start(
	cfg *config.Instance,
	opts Options,
) (stop func() error, done <-chan struct{}, err error) {
	log.Info().Msgf("version: %s", config.AppVersion)

	if opts.Registry.Tool == nil {
		opts.Registry.Tool = flashtool.New(&command.RealExecutor{}, cfg.EsptoolPath())
	}
	if opts.Registry.Resolver == nil {
		opts.Registry.Resolver = discovery.NewResolver()
	}

	ctx, cancel := context.WithCancel(context.Background())
	reg := registry.New(ctx, cfg, opts.Registry)

	log.Info().Msg("starting link managers")
	if err := reg.Start(ctx); err != nil {
		cancel()
		closeRegistry(reg)
		return nil, nil, fmt.Errorf("failed to start registry: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	log.Info().Msg("starting watchdogs")
	g.Go(func() error {
		return supervisor.NewSerialWatchdog(supervisor.SerialWatchdogOptions{
			Clock:      opts.Registry.Clock,
			Cell:       reg.SerialCell(),
			NewManager: reg.NewSerialManager,
			Ports:      opts.Registry.Ports,
			Port:       cfg.SerialPort(),
		}).Run(gctx)
	})
	for _, role := range protocol.Roles {
		cell, cellErr := reg.StreamCell(role)
		if cellErr != nil {
			cancel()
			_ = g.Wait()
			closeRegistry(reg)
			return nil, nil, fmt.Errorf("failed to get %s stream: %w", role, cellErr)
		}
		g.Go(func() error {
			return supervisor.NewStreamWatchdog(supervisor.StreamWatchdogOptions{
				Clock:      opts.Registry.Clock,
				Cell:       cell,
				NewManager: func() *stream.Manager { return reg.NewStreamManager(role) },
			}).Run(gctx)
		})
	}

	log.Info().Msg("starting serial to stream bridge")
	g.Go(func() error {
		return reg.RunBridge(gctx)
	})

	if cfg.APIEnabled() {
		log.Info().Msg("starting API service")
		srv := api.NewServer(cfg, reg, control.New(reg, cfg, nil))
		g.Go(func() error {
			if opts.Listener != nil {
				return srv.ServeListener(gctx, opts.Listener)
			}
			return srv.Serve(gctx)
		})

		log.Info().Msg("starting mDNS advertising")
		advertiser := discovery.NewAdvertiser(cfg)
		if advErr := advertiser.Start(); advErr != nil {
			log.Error().Err(advErr).Msg("mDNS advertising failed to start (continuing without it)")
		}
		g.Go(func() error {
			<-gctx.Done()
			advertiser.Stop()
			return nil
		})
	}

	startPublisher(gctx, g, cfg, reg, opts.Publisher)

	doneCh := make(chan struct{})
	go func() {
		if waitErr := g.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
			log.Error().Err(waitErr).Msg("service component failed")
		}
		log.Info().Msg("service context cancelled, running cleanup")
		closeRegistry(reg)
		log.Info().Msg("service cleanup completed")
		close(doneCh)
	}()

	stop = func() error {
		cancel()
		<-doneCh
		return nil
	}
	return stop, doneCh, nil
}

// startPublisher feeds the MQTT publisher from its own notification
// forwarder so a slow broker never holds up API clients.
func startPublisher(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Instance,
	reg *registry.Registry,
	pub *publishers.MQTTPublisher,
) {
	if pub == nil {
		mqttCfg := cfg.MQTT()
		if mqttCfg.Broker == "" {
			log.Debug().Msg("mqtt publisher not configured")
			return
		}
		pub = publishers.NewMQTTPublisher(mqttCfg)
	}

	log.Info().Msg("starting mqtt publisher")
	ns := make(chan models.Notification, publisherBacklog)
	g.Go(func() error {
		return notifications.Forward(ctx, reg, ns)
	})
	g.Go(func() error {
		if err := pub.Run(ctx, ns); err != nil {
			// the link engine keeps running without the publisher
			log.Error().Err(err).Msg("mqtt publisher stopped")
			drain(ctx, ns)
		}
		return nil
	})
}

// drain consumes notifications until ctx is done so Forward never blocks
// on a publisher that has given up.
func drain(ctx context.Context, ns <-chan models.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ns:
		}
	}
}

func closeRegistry(reg *registry.Registry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := reg.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("error closing link managers")
	}
}
