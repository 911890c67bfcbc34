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

// Package stream manages the WebSocket link to one tracker unit. A Manager
// tries an ordered list of candidate addresses, decodes the JPEG frames
// and JSON status the device sends, and reconnects when the socket stalls.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/papertracker/trackerlink/pkg/link"
	"github.com/papertracker/trackerlink/pkg/protocol"
	"github.com/rs/zerolog/log"
)

const (
	// HeartbeatTimeout is the silence after which a check counts as missed.
	HeartbeatTimeout = 2000 * time.Millisecond
	// MaxMissedHeartbeats is how many missed checks are tolerated.
	MaxMissedHeartbeats = 3
	// HeartbeatInterval is how often liveness is checked.
	HeartbeatInterval = 500 * time.Millisecond
	// DialTimeout bounds a single handshake attempt.
	DialTimeout = 3 * time.Second
	// ResolveTimeout bounds an mDNS lookup.
	ResolveTimeout = 5 * time.Second
	requestBuffer  = 8
)

var (
	ErrNoFrame        = errors.New("no frame received yet")
	ErrNoCandidates   = errors.New("no stream addresses to try")
	ErrManagerStopped = errors.New("stream manager stopped")
	ErrAlreadyRunning = errors.New("stream manager already running")
)

// Dialer opens WebSocket connections. *websocket.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, h http.Header) (*websocket.Conn, *http.Response, error)
}

// Resolver looks up the addresses behind an mDNS hostname.
type Resolver interface {
	Resolve(ctx context.Context, hostname string) ([]string, error)
}

// Status is a point-in-time view of a stream link.
type Status struct {
	URL              string              `json:"url,omitempty"`
	LastError        string              `json:"lastError,omitempty"`
	Candidates       []string            `json:"candidates"`
	Role             protocol.DeviceRole `json:"role"`
	State            link.State          `json:"state"`
	Rotation         float64             `json:"rotation"`
	MissedHeartbeats int                 `json:"missedHeartbeats"`
}

// Connected is shorthand for State == link.Connected.
func (s Status) Connected() bool {
	return s.State == link.Connected
}

// Options configures a Manager. Zero values select production defaults.
type Options struct {
	Dialer   Dialer
	Resolver Resolver
	Clock    clockwork.Clock
	Buses    *Buses
	// Address is tried before the role's hostname, usually the IP stored in
	// the configuration.
	Address string
	// Dynamic seeds the address last learned from the device.
	Dynamic  string
	Role     protocol.DeviceRole
	Rotation float64
	// NoHostname skips seeding the role's mDNS hostname.
	NoHostname bool
}

type inbound struct {
	err  error
	data []byte
	gen  uint64
	typ  int
}

type frameReq struct {
	reply chan frameResp
}

type frameResp struct {
	frame Frame
	ok    bool
}

type rotationReq struct {
	reply   chan struct{}
	degrees float64
}

type addressReq struct {
	reply chan error
	addr  string
}

// Manager owns one WebSocket connection. The socket is only touched by the
// goroutine running Run and the reader goroutine it starts for each
// connection.
type Manager struct {
	clock    clockwork.Clock
	dialer   Dialer
	resolver Resolver
	buses    *Buses
	conn     *websocket.Conn
	status   atomic.Pointer[Status]

	frameCh     chan frameReq
	deviceCh    chan chan DeviceStatus
	rotationCh  chan rotationReq
	addressCh   chan addressReq
	reconnectCh chan chan error
	incoming    chan inbound
	resolvedCh  chan []string
	stop        chan struct{}
	done        chan struct{}
	connQuit    chan struct{}

	candidates *Candidates
	frames     FrameBuffer
	device     DeviceStatus
	hb         heartbeat
	url        string
	lastError  string
	hostname   string
	wg         sync.WaitGroup
	gen        uint64
	rotation   float64
	stopOnce   sync.Once
	started    atomic.Bool
	role       protocol.DeviceRole
	state      link.State
	resolving  bool
}

func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DialTimeout,
		}
	}
	if opts.Buses == nil {
		opts.Buses = NewBuses("stream."+opts.Role.String(), nil)
	}

	m := &Manager{
		clock:       opts.Clock,
		dialer:      opts.Dialer,
		resolver:    opts.Resolver,
		buses:       opts.Buses,
		role:        opts.Role,
		rotation:    opts.Rotation,
		candidates:  NewCandidates(),
		frameCh:     make(chan frameReq, requestBuffer),
		deviceCh:    make(chan chan DeviceStatus, requestBuffer),
		rotationCh:  make(chan rotationReq, requestBuffer),
		addressCh:   make(chan addressReq, requestBuffer),
		reconnectCh: make(chan chan error, requestBuffer),
		incoming:    make(chan inbound),
		resolvedCh:  make(chan []string, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if opts.Dynamic != "" {
		if _, err := m.candidates.SetDynamic(opts.Dynamic); err != nil {
			log.Debug().Err(err).Str("role", opts.Role.String()).Msg("ignoring learned stream address")
		}
	}
	if opts.Address != "" {
		if err := m.candidates.Add(opts.Address); err != nil {
			log.Warn().Err(err).Str("role", opts.Role.String()).Msg("ignoring configured stream address")
		}
	}
	if !opts.NoHostname {
		if host := opts.Role.Hostname(); host != "" {
			m.hostname = host
			_ = m.candidates.Add(host)
		}
	}
	m.publishStatus()
	return m
}

// Role returns the device role this stream belongs to.
func (m *Manager) Role() protocol.DeviceRole {
	return m.role
}

// Buses returns the buses this manager publishes on.
func (m *Manager) Buses() *Buses {
	return m.buses
}

// Done is closed once Run has returned and the socket is closed.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Status returns the latest state published by the manager goroutine.
func (m *Manager) Status() Status {
	return *m.status.Load()
}

// Stop asks the manager loop to exit. It does not wait; use Done.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

// Run connects to the first reachable candidate and serves requests until
// ctx is cancelled or Stop is called. The socket is closed before Done is
// closed on every exit path, including a panic.
func (m *Manager) Run(ctx context.Context) (err error) {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-m.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := m.clock.NewTicker(HeartbeatInterval)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stream manager panic: %v", r)
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("role", m.role.String()).
				Msg("recovered from stream manager panic")
		}
		ticker.Stop()
		m.disconnect(link.Disconnected, "manager exiting")
		cancel()
		m.wg.Wait()
		m.publishStatus()
		close(m.done)
	}()

	log.Info().Str("role", m.role.String()).Strs("candidates", m.candidates.List()).Msg("stream manager started")
	if m.candidates.Len() > 0 {
		_ = m.connect(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("role", m.role.String()).Msg("stream manager stopping")
			return nil
		case msg := <-m.incoming:
			m.handleInbound(msg)
		case <-ticker.Chan():
			m.checkHeartbeat(ctx)
		case req := <-m.frameCh:
			f, ok := m.frames.Latest()
			req.reply <- frameResp{frame: f, ok: ok}
		case reply := <-m.deviceCh:
			reply <- m.device
		case req := <-m.rotationCh:
			m.setRotation(req.degrees)
			close(req.reply)
		case req := <-m.addressCh:
			req.reply <- m.handleAddress(ctx, req.addr)
		case reply := <-m.reconnectCh:
			reply <- m.reconnect(ctx, "reconnect requested")
		case addrs := <-m.resolvedCh:
			m.resolving = false
			m.candidates.SetResolved(addrs)
			m.publishStatus()
		}
	}
}

// connect tries every candidate in order and keeps the first that
// completes a handshake.
func (m *Manager) connect(ctx context.Context) error {
	urls := m.candidates.List()
	if len(urls) == 0 {
		m.setState(link.Disconnected, "no addresses to try")
		return ErrNoCandidates
	}

	m.setState(link.Connecting, "trying "+urls[0])
	var lastErr error
	for _, u := range urls {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
		conn, _, err := m.dialer.DialContext(dialCtx, u, nil)
		cancel()
		if err != nil {
			log.Debug().Err(err).Str("role", m.role.String()).Str("url", u).Msg("stream candidate failed")
			lastErr = fmt.Errorf("failed to connect to %s: %w", u, err)
			continue
		}
		m.attach(conn, u)
		return nil
	}

	m.lastError = lastErr.Error()
	log.Warn().Err(lastErr).Str("role", m.role.String()).Msg("no stream candidate reachable")
	m.setState(link.Disconnected, "no candidate reachable")
	return lastErr
}

func (m *Manager) attach(conn *websocket.Conn, u string) {
	m.gen++
	m.conn = conn
	m.url = u
	m.lastError = ""
	m.connQuit = make(chan struct{})
	m.hb.reset(m.clock.Now())

	m.wg.Add(1)
	go m.readLoop(conn, m.gen, m.connQuit)

	log.Info().Str("role", m.role.String()).Str("url", u).Msg("stream connected")
	m.setState(link.Connected, "connected to "+u)
}

// readLoop forwards messages from conn to the manager goroutine until the
// connection fails or quit is closed.
func (m *Manager) readLoop(conn *websocket.Conn, gen uint64, quit <-chan struct{}) {
	defer m.wg.Done()
	for {
		typ, data, err := conn.ReadMessage()
		select {
		case m.incoming <- inbound{gen: gen, typ: typ, data: data, err: err}:
		case <-quit:
			return
		}
		if err != nil {
			return
		}
	}
}

// disconnect closes the socket, if any, and moves to state.
func (m *Manager) disconnect(state link.State, reason string) {
	if m.conn != nil {
		_ = m.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			m.clock.Now().Add(time.Second),
		)
		if err := m.conn.Close(); err != nil {
			log.Debug().Err(err).Str("role", m.role.String()).Msg("error closing stream socket")
		}
		close(m.connQuit)
		m.conn = nil
		log.Info().Str("role", m.role.String()).Str("url", m.url).Str("reason", reason).Msg("stream disconnected")
	}
	m.setState(state, reason)
}

// reconnect drops the current socket, refreshes the mDNS addresses and
// tries the candidates again from the first.
func (m *Manager) reconnect(ctx context.Context, reason string) error {
	m.disconnect(link.Connecting, reason)
	m.startResolve(ctx)
	return m.connect(ctx)
}

func (m *Manager) startResolve(ctx context.Context) {
	if m.resolver == nil || m.hostname == "" || m.resolving {
		return
	}
	m.resolving = true
	host := m.hostname
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		rctx, cancel := context.WithTimeout(ctx, ResolveTimeout)
		defer cancel()
		addrs, err := m.resolver.Resolve(rctx, host)
		if err != nil {
			log.Debug().Err(err).Str("host", host).Msg("mdns lookup failed")
		}
		select {
		case m.resolvedCh <- addrs:
		case <-ctx.Done():
		}
	}()
}

func (m *Manager) handleInbound(msg inbound) {
	if msg.gen != m.gen || m.conn == nil {
		return
	}
	if msg.err != nil {
		m.lastError = msg.err.Error()
		if websocket.IsCloseError(msg.err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		) {
			m.disconnect(link.Disconnected, "closed by device")
			return
		}
		log.Warn().Err(msg.err).Str("role", m.role.String()).Msg("stream read failed")
		m.disconnect(link.Disconnected, "read error")
		return
	}

	now := m.clock.Now()
	m.hb.reset(now)

	switch msg.typ {
	case websocket.BinaryMessage:
		m.handleImage(msg.data, now)
	case websocket.TextMessage:
		m.handleText(msg.data)
	}
}

func (m *Manager) handleImage(data []byte, now time.Time) {
	img, err := DecodeFrame(data)
	if errors.Is(err, ErrImageTooSmall) {
		log.Debug().Int("bytes", len(data)).Str("role", m.role.String()).Msg("ignoring short binary message")
		return
	} else if err != nil {
		log.Warn().Err(err).Str("role", m.role.String()).Msg("dropping undecodable frame")
		return
	}
	f := Frame{Image: Rotate(img, m.rotation), CapturedAt: now}
	m.frames.Put(f)
	m.buses.Frames.Publish(f)
}

func (m *Manager) handleText(data []byte) {
	var report struct {
		Battery    *float32 `json:"battery"`
		Brightness *int32   `json:"brightness"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		log.Warn().Err(err).Str("role", m.role.String()).Str("text", string(data)).Msg("failed to parse status message")
		return
	}
	if report.Battery != nil {
		m.device.Battery = *report.Battery
	}
	if report.Brightness != nil {
		m.device.Brightness = *report.Brightness
	}
	if u, err := url.Parse(m.url); err == nil {
		m.device.SourceIP = u.Hostname()
	}
	m.buses.Status.Publish(m.device)
}

// checkHeartbeat forces a reconnect after too many silent checks.
func (m *Manager) checkHeartbeat(ctx context.Context) {
	if m.state != link.Connected {
		return
	}
	stalled := m.hb.check(m.clock.Now())
	if !stalled {
		if m.hb.missed > 0 {
			m.publishStatus()
		}
		return
	}
	log.Warn().
		Str("role", m.role.String()).
		Str("url", m.url).
		Int("missed", m.hb.missed).
		Msg("stream heartbeat timeout, reconnecting")
	_ = m.reconnect(ctx, "heartbeat timeout")
}

func (m *Manager) setRotation(degrees float64) {
	m.rotation = degrees
	m.buses.Rotation.Publish(degrees)
	m.publishStatus()
	log.Info().Str("role", m.role.String()).Float64("degrees", degrees).Msg("stream rotation set")
}

func (m *Manager) handleAddress(ctx context.Context, addr string) error {
	changed, err := m.candidates.SetDynamic(addr)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	log.Info().Str("role", m.role.String()).Str("url", m.candidates.Dynamic()).Msg("learned stream address")
	m.publishStatus()
	if m.state == link.Disconnected {
		_ = m.connect(ctx)
	}
	return nil
}

func (m *Manager) setState(s link.State, reason string) {
	if m.state == s {
		m.publishStatus()
		return
	}
	m.state = s
	m.buses.Events.Publish(link.Event{
		Time:     m.clock.Now(),
		Link:     link.KindStream,
		Endpoint: m.url,
		Role:     m.role,
		State:    s,
		Message:  reason,
	})
	m.publishStatus()
}

func (m *Manager) publishStatus() {
	s := Status{
		Role:             m.role,
		State:            m.state,
		URL:              m.url,
		LastError:        m.lastError,
		Candidates:       m.candidates.List(),
		Rotation:         m.rotation,
		MissedHeartbeats: m.hb.missed,
	}
	m.status.Store(&s)
}
