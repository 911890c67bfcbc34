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

package methods

import (
	"fmt"

	"github.com/papertracker/trackerlink/pkg/api/models"
	"github.com/papertracker/trackerlink/pkg/api/models/requests"
	"github.com/papertracker/trackerlink/pkg/api/validation"
	"github.com/papertracker/trackerlink/pkg/control"
	"github.com/papertracker/trackerlink/pkg/protocol"
	"github.com/papertracker/trackerlink/pkg/stream"
)

// roleName canonicalises an already validated role.
func roleName(role string) string {
	r, err := protocol.ParseRole(role)
	if err != nil {
		return role
	}
	return r.String()
}

func HandleStreamFrame(env requests.RequestEnv) (any, error) { //nolint:gocritic // single-use parameter in API handler
	var p control.RoleParams
	if err := validation.ValidateAndUnmarshal(env.Params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	f, err := env.Facade.GetFrame(env.Context, p)
	if err != nil {
		return nil, err
	}
	enc, err := stream.EncodeBase64(f.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return models.FrameResponse{
		Role:       roleName(p.Role),
		CapturedAt: f.CapturedAt,
		JPEG:       enc,
	}, nil
}

func HandleStreamRotation(env requests.RequestEnv) (any, error) { //nolint:gocritic // single-use parameter in API handler
	var p control.RotationParams
	if err := validation.ValidateAndUnmarshal(env.Params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if err := env.Facade.SetRotation(env.Context, p); err != nil {
		return nil, err
	}
	return NoContent{}, nil
}

func HandleStreamStatus(env requests.RequestEnv) (any, error) { //nolint:gocritic // single-use parameter in API handler
	var p control.RoleParams
	if err := validation.ValidateAndUnmarshal(env.Params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	ds, err := env.Facade.GetDeviceStatus(env.Context, p)
	if err != nil {
		return nil, err
	}
	return DeviceStatusResponse(roleName(p.Role), ds), nil
}

// DeviceStatusResponse converts a stream report for the API.
func DeviceStatusResponse(role string, ds stream.DeviceStatus) models.DeviceStatusResponse {
	return models.DeviceStatusResponse{
		Role:       role,
		SourceIP:   ds.SourceIP,
		Battery:    ds.Battery,
		Brightness: ds.Brightness,
	}
}
