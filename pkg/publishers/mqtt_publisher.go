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

// Package publishers mirrors API notifications to external systems.
package publishers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/papertracker/trackerlink/pkg/api/models"
	"github.com/papertracker/trackerlink/pkg/config"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTopic      = "trackerlink"
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250
)

var ErrNoBroker = errors.New("no mqtt broker configured")

// MQTTPublisher publishes notifications to an MQTT broker, one subtopic
// per notification method. Device status messages are retained so a new
// subscriber sees the last report straight away.
type MQTTPublisher struct {
	client    mqtt.Client
	newClient func(*mqtt.ClientOptions) mqtt.Client
	cfg       config.MQTT
}

// NewMQTTPublisher creates a publisher. With an empty Filter every
// notification is published.
func NewMQTTPublisher(cfg config.MQTT) *MQTTPublisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	return &MQTTPublisher{cfg: cfg, newClient: mqtt.NewClient}
}

func (p *MQTTPublisher) options() *mqtt.ClientOptions {
	broker := p.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(config.AppName + "-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", broker).Msg("mqtt publisher connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt publisher connection lost")
	}
	return opts
}

// Run connects and publishes notifications from ns until ctx is cancelled
// or ns is closed.
func (p *MQTTPublisher) Run(ctx context.Context, ns <-chan models.Notification) error {
	if p.cfg.Broker == "" {
		return ErrNoBroker
	}
	p.client = p.newClient(p.options())
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) && token.Error() == nil {
		// paho keeps retrying in the background
		log.Warn().Str("broker", p.cfg.Broker).Msg("mqtt broker not reachable yet")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	defer func() {
		log.Debug().Msg("mqtt publisher disconnecting")
		p.client.Disconnect(disconnectQuiesce)
	}()

	log.Info().Str("broker", p.cfg.Broker).Str("topic", p.cfg.Topic).Msg("mqtt publisher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-ns:
			if !ok {
				return nil
			}
			p.publish(n)
		}
	}
}

func (p *MQTTPublisher) publish(n models.Notification) {
	if !p.matchesFilter(n.Method) {
		return
	}
	payload, err := json.Marshal(n.Params)
	if err != nil {
		log.Error().Err(err).Str("method", n.Method).Msg("mqtt publisher failed to marshal notification")
		return
	}
	retained := n.Method == models.NotificationDeviceStatus
	token := p.client.Publish(p.Topic(n.Method), 0, retained, payload)
	token.WaitTimeout(publishTimeout)
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("method", n.Method).Msg("mqtt publisher failed to publish")
		return
	}
	log.Debug().Str("method", n.Method).Msg("mqtt publisher published notification")
}

// Topic maps a notification method to its topic, e.g. links.event to
// <base>/links/event.
func (p *MQTTPublisher) Topic(method string) string {
	return p.cfg.Topic + "/" + strings.ReplaceAll(method, ".", "/")
}

func (p *MQTTPublisher) matchesFilter(method string) bool {
	return len(p.cfg.Filter) == 0 || slices.Contains(p.cfg.Filter, method)
}
