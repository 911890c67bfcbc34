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

package control

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/papertracker/trackerlink/pkg/api/validation"
	"github.com/papertracker/trackerlink/pkg/config"
	"github.com/papertracker/trackerlink/pkg/flashtool"
	"github.com/papertracker/trackerlink/pkg/link"
	"github.com/papertracker/trackerlink/pkg/registry"
	"github.com/papertracker/trackerlink/pkg/serial"
	"github.com/papertracker/trackerlink/pkg/stream"
	"github.com/papertracker/trackerlink/pkg/testing/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newFacade(t *testing.T, mutate func(*config.Values)) (*Facade, *helpers.Rig) {
	t.Helper()
	rig := helpers.NewRig(t, mutate)
	fs := assetsFs(t, "/assets", BootloaderFile, PartitionTableFile, "face_tracker.bin", "beta_right_eye.bin")
	return New(rig.Registry, rig.Config, fs), rig
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func openSerial(t *testing.T, f *Facade) {
	t.Helper()
	require.NoError(t, f.OpenSerial(testCtx(t), OpenSerialParams{}))
	require.Eventually(t, func() bool {
		return f.GetLinkStatus().Connected
	}, 5*time.Second, 5*time.Millisecond)
}

func TestCommandsWithoutDevice(t *testing.T) {
	t.Parallel()

	f, _ := newFacade(t, nil)

	err := f.SendWifiConfig(testCtx(t), WifiParams{SSID: "net", Password: "pw"})
	require.ErrorIs(t, err, serial.ErrNotConnected)
	require.ErrorIs(t, f.SetBrightness(testCtx(t), BrightnessParams{Level: 50}), serial.ErrNotConnected)

	st := f.GetLinkStatus()
	assert.False(t, st.Connected)
	assert.Equal(t, "unknown", st.Role)
	assert.Empty(t, st.LastErrorIP)
}

func TestSerialCommands(t *testing.T) {
	t.Parallel()

	f, rig := newFacade(t, nil)
	openSerial(t, f)

	require.NoError(t, f.SendWifiConfig(testCtx(t), WifiParams{SSID: "net", Password: "pw"}))
	require.NoError(t, f.SetBrightness(testCtx(t), BrightnessParams{Level: 50}))
	assert.Equal(t, []string{"A2SSIDnetPWDpwB2", "A650B6"}, rig.Port().Written())

	rig.Port().Feed([]byte("A5100192168001042POWER80VERSION2B5"))
	require.Eventually(t, func() bool {
		return f.GetLinkStatus().Role == "left_eye"
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "192.168.001.042", f.GetLinkStatus().LastErrorIP)

	require.NoError(t, f.CloseSerial(testCtx(t)))
	assert.False(t, f.GetLinkStatus().Connected)
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()

	f, _ := newFacade(t, nil)
	ctx := testCtx(t)

	var verr *validation.Error
	require.ErrorAs(t, f.SendWifiConfig(ctx, WifiParams{}), &verr)
	require.ErrorAs(t, f.SendWifiConfig(ctx, WifiParams{SSID: "netB5"}), &verr)
	require.ErrorAs(t, f.SetBrightness(ctx, BrightnessParams{Level: 101}), &verr)
	require.ErrorAs(t, f.SetRotation(ctx, RotationParams{Role: "face", Angle: 400}), &verr)

	_, err := f.GetFrame(ctx, RoleParams{Role: "tail"})
	require.ErrorAs(t, err, &verr)
	_, err = f.FlashFirmware(ctx, FlashParams{Role: "face", Variant: "nightly"})
	require.ErrorAs(t, err, &verr)
}

func TestStreamRequests(t *testing.T) {
	t.Parallel()

	f, _ := newFacade(t, nil)
	ctx := testCtx(t)

	_, err := f.GetFrame(ctx, RoleParams{Role: "face"})
	require.ErrorIs(t, err, stream.ErrNoFrame)
	_, err = f.GetFrameBase64(ctx, RoleParams{Role: "2"})
	require.ErrorIs(t, err, stream.ErrNoFrame)

	ds, err := f.GetDeviceStatus(ctx, RoleParams{Role: "right_eye"})
	require.NoError(t, err)
	assert.Equal(t, stream.DeviceStatus{}, ds)

	require.NoError(t, f.SetRotation(ctx, RotationParams{Role: "left-eye", Angle: 90}))
	snap := f.Snapshot()
	assert.InDelta(t, 90.0, snap.Streams["left_eye"].Rotation, 0)
	assert.InDelta(t, 0.0, snap.Streams["face"].Rotation, 0)
	assert.Equal(t, link.Disconnected, snap.Streams["face"].State)
}

func TestFlashFirmware(t *testing.T) {
	t.Parallel()

	f, rig := newFacade(t, nil)
	openSerial(t, f)

	done, err := f.FlashFirmware(testCtx(t), FlashParams{Role: "right_eye", Variant: "beta"})
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("flash never finished")
	}

	ports, images := rig.Flasher.Runs()
	require.Len(t, images, 1)
	assert.Equal(t, []string{helpers.TestPortName}, ports)
	assert.Equal(t, flashtool.Images{
		Bootloader:     filepath.Join("/assets", BootloaderFile),
		PartitionTable: filepath.Join("/assets", PartitionTableFile),
		Firmware:       filepath.Join("/assets", "beta_right_eye.bin"),
	}, images[0])

	last, ok := f.Progress().Latest()
	require.True(t, ok)
	assert.Equal(t, flashtool.StatusSuccess, last.Status)

	_, err = f.FlashFirmware(testCtx(t), FlashParams{Role: "left_eye"})
	require.ErrorIs(t, err, ErrFirmwareMissing)
}

func TestRestartDevice(t *testing.T) {
	t.Parallel()

	f, rig := newFacade(t, nil)
	openSerial(t, f)

	done, err := f.RestartDevice(testCtx(t))
	require.NoError(t, err)
	require.NoError(t, <-done)

	ports, _ := rig.Flasher.Runs()
	assert.Equal(t, []string{helpers.TestPortName}, ports)
	require.Eventually(t, func() bool {
		return f.GetLinkStatus().Connected
	}, 5*time.Second, 5*time.Millisecond)
}

func TestUnknownRoleIsRejected(t *testing.T) {
	t.Parallel()

	f, _ := newFacade(t, nil)
	_, err := f.stream("tail")
	require.ErrorIs(t, err, registry.ErrInvalidRole)
}
