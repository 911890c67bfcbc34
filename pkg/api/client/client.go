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

// Package client talks to a running link engine over its local API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/papertracker/trackerlink/pkg/api/models"
	"github.com/papertracker/trackerlink/pkg/config"
	"github.com/rs/zerolog/log"
)

var (
	ErrRequestTimeout   = errors.New("request timed out")
	ErrInvalidParams    = errors.New("invalid params")
	ErrRequestCancelled = errors.New("request cancelled")
)

// APIPath is the WebSocket endpoint of the API.
const APIPath = "/api"

// Client sends requests to the API at Addr (host:port).
type Client struct {
	Addr    string
	Timeout time.Duration
}

// NewLocal returns a client for the API configured in cfg.
func NewLocal(cfg *config.Instance) *Client {
	host := cfg.APIListen()
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = "127.0.0.1"
	}
	return &Client{
		Addr:    net.JoinHostPort(host, strconv.Itoa(cfg.APIPort())),
		Timeout: config.APIRequestTimeout,
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: c.Addr, Path: APIPath}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.String(), err)
	}
	return conn, nil
}

// wait reads messages until accept returns true, the timeout passes or
// ctx is cancelled. A zero timeout uses the client default; a negative one
// waits forever.
func (c *Client) wait(
	ctx context.Context,
	conn *websocket.Conn,
	timeout time.Duration,
	accept func([]byte) bool,
) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Msg("api client read ended")
				return
			}
			if accept(msg) {
				return
			}
		}
	}()

	if timeout == 0 {
		timeout = c.Timeout
	}
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var err error
	select {
	case <-done:
		return nil
	case <-timer:
		err = ErrRequestTimeout
	case <-ctx.Done():
		err = ErrRequestCancelled
	}
	_ = conn.Close()
	<-done
	return err
}

// Call runs method with params (a JSON document or empty) and returns the
// JSON encoded result.
func (c *Client) Call(ctx context.Context, method, params string) (string, error) {
	id := uuid.New()
	req := models.RequestObject{JSONRPC: "2.0", ID: &id, Method: method}
	if params != "" {
		if !json.Valid([]byte(params)) {
			return "", ErrInvalidParams
		}
		req.Params = json.RawMessage(params)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(req); err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	var resp *models.ResponseObject
	err = c.wait(ctx, conn, 0, func(msg []byte) bool {
		var m models.ResponseObject
		if json.Unmarshal(msg, &m) != nil || m.JSONRPC != "2.0" || m.ID != id {
			return false
		}
		resp = &m
		return true
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", ErrRequestTimeout
	}
	if resp.Error != nil {
		return "", errors.New(resp.Error.Message)
	}

	b, err := json.Marshal(resp.Result)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(b), nil
}

// WaitNotification blocks until a notification named method arrives and
// returns its params.
func (c *Client) WaitNotification(ctx context.Context, timeout time.Duration, method string) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()

	var params json.RawMessage
	found := false
	err = c.wait(ctx, conn, timeout, func(msg []byte) bool {
		var m models.RequestObject
		if json.Unmarshal(msg, &m) != nil || m.JSONRPC != "2.0" || m.ID != nil || m.Method != method {
			return false
		}
		params = m.Params
		found = true
		return true
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrRequestTimeout
	}
	return string(params), nil
}
