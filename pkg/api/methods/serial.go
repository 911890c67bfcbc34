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
	"github.com/papertracker/trackerlink/pkg/flashtool"
	"github.com/rs/zerolog/log"
)

// NoContent is the result of a method with nothing to report.
type NoContent struct{}

// optionalParams unmarshals params when present. Methods whose params are
// all optional accept a missing params field.
func optionalParams[T any](env *requests.RequestEnv, dest *T) error {
	if len(env.Params) == 0 {
		return nil
	}
	return validation.ValidateAndUnmarshal(env.Params, dest)
}

func HandleSerialOpen(env requests.RequestEnv) (any, error) { //nolint:gocritic // single-use parameter in API handler
	var p control.OpenSerialParams
	if err := optionalParams(&env, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if err := env.Facade.OpenSerial(env.Context, p); err != nil {
		return nil, err
	}
	return NoContent{}, nil
}

func HandleSerialClose(env requests.RequestEnv) (any, error) { //nolint:gocritic // single-use parameter in API handler
	if err := env.Facade.CloseSerial(env.Context); err != nil {
		return nil, err
	}
	return NoContent{}, nil
}

func HandleSerialWifi(env requests.RequestEnv) (any, error) { //nolint:gocritic // single-use parameter in API handler
	var p control.WifiParams
	if err := validation.ValidateAndUnmarshal(env.Params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if err := env.Facade.SendWifiConfig(env.Context, p); err != nil {
		return nil, err
	}
	return NoContent{}, nil
}

func HandleSerialBrightness(env requests.RequestEnv) (any, error) { //nolint:gocritic // single-use parameter in API handler
	var p control.BrightnessParams
	if err := validation.ValidateAndUnmarshal(env.Params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if err := env.Facade.SetBrightness(env.Context, p); err != nil {
		return nil, err
	}
	return NoContent{}, nil
}

// HandleDeviceRestart starts a restart and returns once it was accepted.
// The outcome arrives as a terminal device.progress notification.
func HandleDeviceRestart(env requests.RequestEnv) (any, error) { //nolint:gocritic // single-use parameter in API handler
	if _, err := env.Facade.RestartDevice(env.Context); err != nil {
		return nil, err
	}
	log.Info().Msg("device restart started")
	return models.TaskResponse{Operation: string(flashtool.OpRestart)}, nil
}

func HandleDeviceFlash(env requests.RequestEnv) (any, error) { //nolint:gocritic // single-use parameter in API handler
	var p control.FlashParams
	if err := validation.ValidateAndUnmarshal(env.Params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if _, err := env.Facade.FlashFirmware(env.Context, p); err != nil {
		return nil, err
	}
	return models.TaskResponse{Operation: string(flashtool.OpFlash)}, nil
}

func HandleLinkStatus(env requests.RequestEnv) (any, error) { //nolint:gocritic // single-use parameter in API handler
	return env.Facade.GetLinkStatus(), nil
}

func HandleLinks(env requests.RequestEnv) (any, error) { //nolint:gocritic // single-use parameter in API handler
	return env.Facade.Snapshot(), nil
}
