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

// Package serial manages the USB serial control link to a tracker unit:
// discovery, the link state machine, the packet read loop and the control
// commands sent to the device.
package serial

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/papertracker/trackerlink/pkg/flashtool"
	"github.com/papertracker/trackerlink/pkg/link"
	"github.com/papertracker/trackerlink/pkg/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected   = errors.New("device not connected")
	ErrManagerStopped = errors.New("serial manager stopped")
	ErrToolBusy       = errors.New("a restart or flash is already running")
	ErrNoTool         = errors.New("no flashing tool configured")
	ErrAlreadyRunning = errors.New("serial manager already running")
)

const (
	readBufferSize = 1024
	requestBuffer  = 8
)

// Flasher is the external tool used to restart and reflash the device.
type Flasher interface {
	Restart(ctx context.Context, port string, report flashtool.ProgressFunc) error
	Flash(ctx context.Context, port string, images flashtool.Images, report flashtool.ProgressFunc) error
}

// Status is a point-in-time view of the serial link.
type Status struct {
	Port            string              `json:"port,omitempty"`
	IP              string              `json:"ip,omitempty"`
	LastError       string              `json:"lastError,omitempty"`
	State           link.State          `json:"state"`
	Role            protocol.DeviceRole `json:"role"`
	FirmwareVersion uint32              `json:"firmwareVersion"`
	AutoConnect     bool                `json:"autoConnect"`
	ToolRunning     bool                `json:"toolRunning"`
}

// Connected is shorthand for State == link.Connected.
func (s Status) Connected() bool {
	return s.State == link.Connected
}

// Options configures a Manager. Zero values select production defaults.
type Options struct {
	Ports       PortLister
	Factory     PortFactory
	Tool        Flasher
	Clock       clockwork.Clock
	Buses       *Buses
	BaudRate    int
	ReadTimeout time.Duration
	AutoConnect bool
}

type openReq struct {
	reply chan error
	port  string
}

type wifiReq struct {
	reply    chan error
	ssid     string
	password string
}

type brightnessReq struct {
	reply chan error
	level int
}

type toolReq struct {
	accepted chan error
	result   chan error
	images   flashtool.Images
	op       flashtool.Operation
}

type toolResult struct {
	err    error
	result chan error
	port   string
	op     flashtool.Operation
}

// Manager owns one serial port. All port I/O happens on the goroutine
// running Run; other goroutines talk to it through request channels and
// observe it through the buses and Status.
type Manager struct {
	clock   clockwork.Clock
	tool    Flasher
	port    Port
	buses   *Buses
	ports   PortLister
	factory PortFactory
	status  atomic.Pointer[Status]

	openCh       chan openReq
	closeCh      chan chan error
	wifiCh       chan wifiReq
	brightnessCh chan brightnessReq
	toolCh       chan toolReq
	toolDone     chan toolResult
	wake         chan struct{}
	stop         chan struct{}
	done         chan struct{}

	portName    string
	lastError   string
	ip          string
	framer      protocol.Framer
	wg          sync.WaitGroup
	readTimeout time.Duration
	stopOnce    sync.Once
	baud        int
	started     atomic.Bool
	version     uint32
	role        protocol.DeviceRole
	state       link.State
	autoConnect bool
	toolRunning bool
}

func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Ports == nil {
		opts.Ports = DefaultPortLister
	}
	if opts.Factory == nil {
		opts.Factory = DefaultPortFactory
	}
	if opts.Buses == nil {
		opts.Buses = NewBuses()
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	m := &Manager{
		clock:        opts.Clock,
		tool:         opts.Tool,
		buses:        opts.Buses,
		ports:        opts.Ports,
		factory:      opts.Factory,
		baud:         opts.BaudRate,
		readTimeout:  opts.ReadTimeout,
		autoConnect:  opts.AutoConnect,
		openCh:       make(chan openReq, requestBuffer),
		closeCh:      make(chan chan error, requestBuffer),
		wifiCh:       make(chan wifiReq, requestBuffer),
		brightnessCh: make(chan brightnessReq, requestBuffer),
		toolCh:       make(chan toolReq, requestBuffer),
		toolDone:     make(chan toolResult, 1),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	m.publishStatus()
	return m
}

// Buses returns the buses this manager publishes on.
func (m *Manager) Buses() *Buses {
	return m.buses
}

// Done is closed once Run has returned and the port is released.
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

// Run is the manager loop. It returns when ctx is cancelled, Stop is
// called or the loop panics; in every case the port is closed before Done
// is closed.
func (m *Manager) Run(ctx context.Context) (err error) {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	toolCtx, cancelTools := context.WithCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("serial manager panic: %v", r)
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered from serial manager panic")
		}
		m.closePort("manager exiting")
		cancelTools()
		m.wg.Wait()
		select {
		case res := <-m.toolDone:
			m.toolRunning = false
			res.result <- res.err
		default:
		}
		m.publishStatus()
		close(m.done)
	}()

	log.Info().Bool("auto_connect", m.autoConnect).Msg("serial manager started")

	buf := make([]byte, readBufferSize)
	for {
		if m.drain(ctx, toolCtx) {
			log.Info().Msg("serial manager stopping")
			return nil
		}

		if m.port != nil {
			m.readOnce(buf)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-m.stop:
			return nil
		case <-m.wake:
		case res := <-m.toolDone:
			m.handleToolDone(res)
		}
	}
}

// drain services every pending request without blocking. It returns true
// when the loop should exit.
func (m *Manager) drain(ctx, toolCtx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case <-m.stop:
			return true
		case req := <-m.brightnessCh:
			req.reply <- m.handleBrightness(req.level)
		case req := <-m.wifiCh:
			req.reply <- m.handleWifi(req.ssid, req.password)
		case req := <-m.openCh:
			req.reply <- m.handleOpen(req.port)
		case reply := <-m.closeCh:
			m.autoConnect = false
			m.closePort("closed by request")
			m.publishStatus()
			reply <- nil
		case req := <-m.toolCh:
			m.handleTool(toolCtx, req)
		case res := <-m.toolDone:
			m.handleToolDone(res)
		default:
			return false
		}
	}
}

func (m *Manager) readOnce(buf []byte) {
	n, err := m.port.Read(buf)
	if err != nil {
		log.Error().Err(err).Str("port", m.portName).Msg("failed to read from serial port")
		m.lastError = err.Error()
		m.closePort("read error")
		return
	}
	if n == 0 {
		return
	}
	for _, pkt := range m.framer.Feed(buf[:n]) {
		m.dispatch(pkt)
	}
}

// dispatch handles one decoded packet and publishes it.
func (m *Manager) dispatch(pkt protocol.Packet) {
	switch p := pkt.(type) {
	case protocol.WifiSetupPrompt:
		log.Info().Msg("device requests wifi setup")
	case protocol.WifiCredentials:
		log.Info().Str("ssid", p.SSID).Msg("device reported wifi credentials")
	case protocol.WifiConfirmed:
		log.Info().Msg("device joined wifi network")
	case protocol.WifiCredentialsRejected:
		if p.DeviceBooting() {
			log.Info().Msg("device is still booting")
		} else {
			log.Warn().Str("ssid", p.SSID).Msg("device rejected wifi credentials")
		}
	case protocol.DeviceStatus:
		m.handleDeviceStatus(p)
	case protocol.LightControlAck:
		log.Debug().Uint32("brightness", p.Brightness).Msg("brightness acknowledged")
	case protocol.Unknown:
		log.Debug().Str("raw", p.Raw).Msg("ignoring unknown packet")
		return
	default:
		log.Warn().Str("kind", pkt.Kind().String()).Msg("unhandled packet type")
		return
	}
	m.buses.publishPacket(pkt)
}

func (m *Manager) handleDeviceStatus(p protocol.DeviceStatus) {
	role := p.Role()
	changed := role != m.role || p.Version != m.version || p.IP != m.ip
	m.version = p.Version
	m.ip = p.IP
	if role != m.role {
		m.role = role
		m.publishEvent("device reported as " + role.String())
	}
	if changed {
		log.Info().
			Str("ip", p.IP).
			Str("role", role.String()).
			Uint32("version", p.Version).
			Uint32("power", p.Power).
			Msg("device status")
		m.publishStatus()
	}
}

func (m *Manager) handleOpen(name string) error {
	defer m.publishStatus()

	if m.toolRunning {
		return ErrToolBusy
	}
	m.autoConnect = true

	if name == "" {
		found, err := FindPort(m.ports)
		if err != nil {
			m.lastError = err.Error()
			return err
		}
		name = found
	}

	if m.port != nil {
		if m.portName == name {
			return nil
		}
		m.closePort("switching port")
	}

	return m.openPort(name)
}

func (m *Manager) openPort(name string) error {
	port, err := m.factory(name, Mode(m.baud))
	if err != nil {
		m.lastError = err.Error()
		log.Warn().Err(err).Str("port", name).Msg("failed to open serial port")
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	if err := port.SetReadTimeout(m.readTimeout); err != nil {
		_ = port.Close()
		m.lastError = err.Error()
		return fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}

	m.port = port
	m.portName = name
	m.lastError = ""
	m.framer.Reset()
	m.setState(link.Connected, "port opened")
	log.Info().Str("port", name).Msg("serial port opened")
	return nil
}

// closePort releases the OS handle and demotes the link. Safe to call
// when already closed.
func (m *Manager) closePort(reason string) {
	if m.port == nil {
		return
	}
	if err := m.port.Close(); err != nil {
		log.Warn().Err(err).Str("port", m.portName).Msg("failed to close serial port")
	}
	m.port = nil
	m.framer.Reset()
	log.Info().Str("port", m.portName).Str("reason", reason).Msg("serial port closed")
	m.setState(link.Disconnected, reason)
}

func (m *Manager) handleWifi(ssid, password string) error {
	data, err := protocol.EncodeWifiCredentials(ssid, password)
	if err != nil {
		return err
	}
	return m.write(data)
}

func (m *Manager) handleBrightness(level int) error {
	data, err := protocol.EncodeBrightness(level)
	if err != nil {
		return err
	}
	return m.write(data)
}

func (m *Manager) write(data []byte) error {
	if m.port == nil {
		return ErrNotConnected
	}
	if _, err := m.port.Write(data); err != nil {
		log.Error().Err(err).Str("port", m.portName).Msg("failed to write to serial port")
		m.lastError = err.Error()
		m.closePort("write error")
		return fmt.Errorf("failed to write to serial port: %w", err)
	}
	log.Debug().Int("bytes", len(data)).Msg("wrote serial command")
	return nil
}

func (m *Manager) handleTool(ctx context.Context, req toolReq) {
	if m.tool == nil {
		req.accepted <- ErrNoTool
		return
	}
	if m.toolRunning {
		req.accepted <- ErrToolBusy
		return
	}

	name := m.portName
	if m.port == nil {
		found, err := FindPort(m.ports)
		if err != nil {
			req.accepted <- err
			return
		}
		name = found
	}

	m.progress(req.op, 5, "preparing "+string(req.op))
	m.closePort("released for " + string(req.op))
	m.progress(req.op, 10, "released serial port")

	m.toolRunning = true
	m.portName = name
	m.publishStatus()
	req.accepted <- nil

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		report := m.buses.Progress.Publish
		var err error
		switch req.op {
		case flashtool.OpRestart:
			err = m.tool.Restart(ctx, name, report)
		case flashtool.OpFlash:
			err = m.tool.Flash(ctx, name, req.images, report)
		}
		m.toolDone <- toolResult{op: req.op, port: name, err: err, result: req.result}
	}()
}

// handleToolDone resumes the link after the tool released the port. A
// failed reopen is left to the watchdog.
func (m *Manager) handleToolDone(res toolResult) {
	m.toolRunning = false
	if res.err != nil {
		m.lastError = res.err.Error()
	}
	res.result <- res.err

	if m.autoConnect {
		if err := m.openPort(res.port); err != nil {
			log.Info().Err(err).Str("port", res.port).Msg("port not back yet after tool run")
		}
	}
	m.publishStatus()
}

func (m *Manager) progress(op flashtool.Operation, pct float64, msg string) {
	m.buses.Progress.Publish(flashtool.Progress{
		Operation: op,
		Percent:   pct,
		Message:   msg,
		Status:    flashtool.StatusRunning,
	})
}

func (m *Manager) setState(s link.State, reason string) {
	if m.state == s {
		return
	}
	m.state = s
	m.publishEvent(reason)
	m.publishStatus()
}

func (m *Manager) publishEvent(msg string) {
	m.buses.Events.Publish(link.Event{
		Time:     m.clock.Now(),
		Link:     link.KindSerial,
		Endpoint: m.portName,
		Role:     m.role,
		State:    m.state,
		Message:  msg,
	})
}

func (m *Manager) publishStatus() {
	s := Status{
		State:           m.state,
		Port:            m.portName,
		IP:              m.ip,
		Role:            m.role,
		FirmwareVersion: m.version,
		AutoConnect:     m.autoConnect,
		ToolRunning:     m.toolRunning,
		LastError:       m.lastError,
	}
	m.status.Store(&s)
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
