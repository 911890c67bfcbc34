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
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/papertracker/trackerlink/pkg/api/validation"
	"github.com/papertracker/trackerlink/pkg/flashtool"
	"github.com/papertracker/trackerlink/pkg/protocol"
	"github.com/spf13/afero"
)

const (
	BootloaderFile     = "bootloader.bin"
	PartitionTableFile = "partition-table.bin"
	betaPrefix         = "beta_"
)

var ErrFirmwareMissing = errors.New("firmware image not found")

// FirmwareFile returns the image name shipped for role and variant.
func FirmwareFile(role protocol.DeviceRole, variant string) string {
	var name string
	switch role {
	case protocol.RoleLeftEye:
		name = "left_eye.bin"
	case protocol.RoleRightEye:
		name = "right_eye.bin"
	case protocol.RoleFace, protocol.RoleUnknown:
		name = "face_tracker.bin"
	default:
		name = "face_tracker.bin"
	}
	if strings.EqualFold(variant, validation.VariantBeta) {
		return betaPrefix + name
	}
	return name
}

// ResolveImages locates the three images for a flash in assetsDir. A
// non-empty customPath replaces the role's firmware image.
func ResolveImages(
	fs afero.Fs,
	assetsDir string,
	role protocol.DeviceRole,
	variant string,
	customPath string,
) (flashtool.Images, error) {
	images := flashtool.Images{
		Bootloader:     filepath.Join(assetsDir, BootloaderFile),
		PartitionTable: filepath.Join(assetsDir, PartitionTableFile),
		Firmware:       customPath,
	}
	if images.Firmware == "" {
		images.Firmware = filepath.Join(assetsDir, FirmwareFile(role, variant))
	}

	for _, p := range []string{images.Bootloader, images.PartitionTable, images.Firmware} {
		info, err := fs.Stat(p)
		if err != nil {
			return flashtool.Images{}, fmt.Errorf("%w: %s", ErrFirmwareMissing, p)
		}
		if info.IsDir() {
			return flashtool.Images{}, fmt.Errorf("%w: %s is a directory", ErrFirmwareMissing, p)
		}
	}
	return images, nil
}
