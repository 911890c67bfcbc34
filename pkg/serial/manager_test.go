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

package serial

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/papertracker/trackerlink/pkg/flashtool"
	"github.com/papertracker/trackerlink/pkg/link"
	"github.com/papertracker/trackerlink/pkg/protocol"
	"github.com/papertracker/trackerlink/pkg/testing/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bugserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testPort = "/dev/ttyACM0"

type fakeFlasher struct {
	release  chan struct{}
	err      error
	restarts atomic.Int32
	flashes  atomic.Int32
	mu       sync.Mutex
	ports    []string
	images   []flashtool.Images
}

func (f *fakeFlasher) Restart(ctx context.Context, port string, report flashtool.ProgressFunc) error {
	f.restarts.Add(1)
	f.record(port, flashtool.Images{})
	return f.finish(ctx, flashtool.OpRestart, report)
}

func (f *fakeFlasher) Flash(
	ctx context.Context,
	port string,
	images flashtool.Images,
	report flashtool.ProgressFunc,
) error {
	f.flashes.Add(1)
	f.record(port, images)
	return f.finish(ctx, flashtool.OpFlash, report)
}

func (f *fakeFlasher) record(port string, images flashtool.Images) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports = append(f.ports, port)
	f.images = append(f.images, images)
}

func (f *fakeFlasher) finish(ctx context.Context, op flashtool.Operation, report flashtool.ProgressFunc) error {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	status := flashtool.StatusSuccess
	if f.err != nil {
		status = flashtool.StatusError
	}
	report(flashtool.Progress{Operation: op, Percent: 100, Status: status})
	return f.err
}

type harness struct {
	mgr    *Manager
	runErr chan error
	cur    *mocks.MockSerialPort
	mu     sync.Mutex
	opens  atomic.Int32
}

// port returns the mock handed out by the most recent open.
func (h *harness) port() *mocks.MockSerialPort {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{runErr: make(chan error, 1)}
	if opts.Factory == nil {
		opts.Factory = func(string, *bugserial.Mode) (Port, error) {
			h.opens.Add(1)
			p := mocks.NewMockSerialPort()
			h.mu.Lock()
			h.cur = p
			h.mu.Unlock()
			return p, nil
		}
	}
	if opts.Ports == nil {
		opts.Ports = listerOf(mixedPorts(), nil)
	}
	opts.ReadTimeout = 10 * time.Millisecond
	h.mgr = NewManager(opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		h.runErr <- h.mgr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.mgr.Done()
		h.mgr.Buses().Close()
	})
	return h
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestOpenConnects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	events := h.mgr.Buses().Events.Subscribe()
	defer events.Close()

	require.NoError(t, h.mgr.Open(testCtx(t), testPort))

	st := h.mgr.Status()
	assert.Equal(t, link.Connected, st.State)
	assert.True(t, st.Connected())
	assert.Equal(t, testPort, st.Port)
	assert.True(t, st.AutoConnect)

	ev, err := events.Recv(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, link.KindSerial, ev.Link)
	assert.Equal(t, link.Connected, ev.State)
	assert.Equal(t, testPort, ev.Endpoint)

	// opening the same port again is a no-op
	require.NoError(t, h.mgr.Open(testCtx(t), testPort))
	assert.Equal(t, int32(1), h.opens.Load())
}

func TestOpenDiscoversPort(t *testing.T) {
	t.Parallel()

	var opened string
	var mu sync.Mutex
	port := mocks.NewMockSerialPort()
	h := newHarness(t, Options{
		Factory: func(path string, _ *bugserial.Mode) (Port, error) {
			mu.Lock()
			opened = path
			mu.Unlock()
			return port, nil
		},
	})

	require.NoError(t, h.mgr.Open(testCtx(t), ""))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/dev/ttyACM1", opened)
}

func TestOpenWithoutDevice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{
		Ports: listerOf([]*enumerator.PortDetails{{Name: "/dev/ttyS0"}}, nil),
	})

	err := h.mgr.Open(testCtx(t), "")
	require.ErrorIs(t, err, ErrNoDevice)
	assert.Equal(t, link.Disconnected, h.mgr.Status().State)
	assert.NotEmpty(t, h.mgr.Status().LastError)
}

func TestOpenFactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("permission denied")
	h := newHarness(t, Options{
		Factory: func(string, *bugserial.Mode) (Port, error) {
			return nil, boom
		},
	})

	err := h.mgr.Open(testCtx(t), testPort)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, link.Disconnected, h.mgr.Status().State)
}

func TestPacketsArePublishedByKind(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	statuses := h.mgr.Buses().Kind(protocol.KindDeviceStatus).Subscribe()
	defer statuses.Close()
	confirms := h.mgr.Buses().Kind(protocol.KindWifiConfirmed).Subscribe()
	defer confirms.Close()

	require.NoError(t, h.mgr.Open(testCtx(t), testPort))
	h.port().Feed([]byte("junkA5100192168001"))
	h.port().Feed([]byte("042POWER80VERSION2B5A303B3A9garbageB1"))

	pkt, err := statuses.Recv(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, protocol.DeviceStatus{
		IP:         "192.168.001.042",
		Brightness: 100,
		Power:      80,
		Version:    2,
	}, pkt)

	pkt, err = confirms.Recv(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, protocol.WifiConfirmed{}, pkt)

	assert.Eventually(t, func() bool {
		st := h.mgr.Status()
		return st.Role == protocol.RoleLeftEye && st.FirmwareVersion == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "192.168.001.042", h.mgr.Status().IP)

	latest, ok := h.mgr.LatestPacket(protocol.KindDeviceStatus)
	require.True(t, ok)
	assert.Equal(t, uint32(2), latest.(protocol.DeviceStatus).Version)

	_, ok = h.mgr.LatestPacket(protocol.KindUnknown)
	assert.False(t, ok)
}

func TestCommandsAreWritten(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	require.NoError(t, h.mgr.Open(testCtx(t), testPort))

	require.NoError(t, h.mgr.SendWifiConfig(testCtx(t), "net", "pw"))
	require.NoError(t, h.mgr.SetBrightness(testCtx(t), 50))

	assert.Equal(t, []string{"A2SSIDnetPWDpwB2", "A650B6"}, h.port().Written())

	err := h.mgr.SetBrightness(testCtx(t), 400)
	require.ErrorIs(t, err, protocol.ErrInvalidBrightness)
}

func TestCommandsWithoutConnection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})

	err := h.mgr.SetBrightness(testCtx(t), 10)
	require.ErrorIs(t, err, ErrNotConnected)
	err = h.mgr.SendWifiConfig(testCtx(t), "net", "pw")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestWriteErrorDemotes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	require.NoError(t, h.mgr.Open(testCtx(t), testPort))

	h.port().FailWrites(errors.New("unplugged"))
	err := h.mgr.SetBrightness(testCtx(t), 10)
	require.Error(t, err)
	assert.Equal(t, link.Disconnected, h.mgr.Status().State)
	assert.True(t, h.port().IsClosed())
}

func TestReadErrorDemotesWithoutRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{AutoConnect: true})
	require.NoError(t, h.mgr.Open(testCtx(t), testPort))

	h.port().FailReads(errors.New("device disconnected"))

	assert.Eventually(t, func() bool {
		return h.mgr.Status().State == link.Disconnected
	}, time.Second, 5*time.Millisecond)
	assert.True(t, h.port().IsClosed())

	// recovery belongs to the watchdog; the manager never reopens on its own
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), h.opens.Load())
	assert.True(t, h.mgr.Status().AutoConnect)
	assert.Contains(t, h.mgr.Status().LastError, "device disconnected")
}

func TestCloseSuspendsAutoConnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{AutoConnect: true})
	require.NoError(t, h.mgr.Open(testCtx(t), testPort))

	require.NoError(t, h.mgr.Close(testCtx(t)))
	st := h.mgr.Status()
	assert.Equal(t, link.Disconnected, st.State)
	assert.False(t, st.AutoConnect)
	assert.True(t, h.port().IsClosed())

	// closing twice is harmless
	require.NoError(t, h.mgr.Close(testCtx(t)))
}

func TestRestartReleasesAndReopensPort(t *testing.T) {
	t.Parallel()

	tool := &fakeFlasher{}
	h := newHarness(t, Options{Tool: tool})
	progress := h.mgr.Buses().Progress.Subscribe()
	defer progress.Close()

	require.NoError(t, h.mgr.Open(testCtx(t), testPort))

	result, err := h.mgr.Restart(testCtx(t))
	require.NoError(t, err)

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("restart never finished")
	}

	assert.Equal(t, int32(1), tool.restarts.Load())
	tool.mu.Lock()
	assert.Equal(t, []string{testPort}, tool.ports)
	tool.mu.Unlock()

	assert.Eventually(t, func() bool {
		st := h.mgr.Status()
		return st.State == link.Connected && !st.ToolRunning
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), h.opens.Load())

	last, ok := h.mgr.Buses().Progress.Latest()
	require.True(t, ok)
	assert.Equal(t, flashtool.StatusSuccess, last.Status)
}

func TestFlashPassesImages(t *testing.T) {
	t.Parallel()

	tool := &fakeFlasher{err: errors.New("exit status 2")}
	h := newHarness(t, Options{Tool: tool})
	require.NoError(t, h.mgr.Open(testCtx(t), testPort))

	images := flashtool.Images{
		Bootloader:     "bootloader.bin",
		PartitionTable: "partition-table.bin",
		Firmware:       "face_tracker.bin",
	}
	result, err := h.mgr.Flash(testCtx(t), images)
	require.NoError(t, err)

	select {
	case err := <-result:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exit status 2")
	case <-time.After(2 * time.Second):
		t.Fatal("flash never finished")
	}

	tool.mu.Lock()
	assert.Equal(t, []flashtool.Images{images}, tool.images)
	tool.mu.Unlock()

	assert.Eventually(t, func() bool {
		return !h.mgr.Status().ToolRunning
	}, time.Second, 5*time.Millisecond)
}

func TestToolBusyRejectsRequests(t *testing.T) {
	t.Parallel()

	tool := &fakeFlasher{release: make(chan struct{})}
	h := newHarness(t, Options{Tool: tool})
	require.NoError(t, h.mgr.Open(testCtx(t), testPort))

	result, err := h.mgr.Restart(testCtx(t))
	require.NoError(t, err)
	assert.True(t, h.mgr.Status().ToolRunning)
	assert.Equal(t, link.Disconnected, h.mgr.Status().State)

	_, err = h.mgr.Flash(testCtx(t), flashtool.Images{})
	require.ErrorIs(t, err, ErrToolBusy)
	err = h.mgr.Open(testCtx(t), testPort)
	require.ErrorIs(t, err, ErrToolBusy)

	close(tool.release)
	require.NoError(t, <-result)
}

func TestRejectedOpenKeepsAutoConnectOff(t *testing.T) {
	t.Parallel()

	tool := &fakeFlasher{release: make(chan struct{})}
	h := newHarness(t, Options{Tool: tool})
	require.False(t, h.mgr.Status().AutoConnect)

	result, err := h.mgr.Restart(testCtx(t))
	require.NoError(t, err)

	require.ErrorIs(t, h.mgr.Open(testCtx(t), testPort), ErrToolBusy)
	assert.False(t, h.mgr.Status().AutoConnect)

	close(tool.release)
	require.NoError(t, <-result)
	assert.False(t, h.mgr.Status().AutoConnect)
}

func TestRestartWithoutTool(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	_, err := h.mgr.Restart(testCtx(t))
	require.ErrorIs(t, err, ErrNoTool)
}

func TestStopReleasesPort(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	require.NoError(t, h.mgr.Open(testCtx(t), testPort))

	h.mgr.Stop()
	h.mgr.Stop()

	select {
	case <-h.mgr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
	}
	require.NoError(t, <-h.runErr)
	assert.True(t, h.port().IsClosed())
	assert.Equal(t, link.Disconnected, h.mgr.Status().State)

	err := h.mgr.SetBrightness(testCtx(t), 10)
	require.ErrorIs(t, err, ErrManagerStopped)
	require.ErrorIs(t, h.mgr.Run(context.Background()), ErrAlreadyRunning)
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{
		Factory: func(string, *bugserial.Mode) (Port, error) {
			panic("driver exploded")
		},
	})

	err := h.mgr.Open(testCtx(t), testPort)
	require.ErrorIs(t, err, ErrManagerStopped)

	select {
	case <-h.mgr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not exit after panic")
	}
	runErr := <-h.runErr
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "driver exploded")
}
