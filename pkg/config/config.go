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

// Package config loads the start-up configuration of the link engine. The
// file is read once; the engine never writes it back.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/papertracker/trackerlink/pkg/helpers/syncutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	SchemaVersion = 1
	AppName       = "trackerlink"
	CfgFile       = "config.toml"
	CfgEnv        = "TRACKERLINK_CFG"
)

// AppVersion is set at build time with -ldflags.
var AppVersion = "DEVELOPMENT"

type Values struct {
	Devices      Devices   `toml:"devices"`
	Serial       Serial    `toml:"serial"`
	Tools        Tools     `toml:"tools"`
	API          API       `toml:"api"`
	MQTT         MQTT      `toml:"mqtt,omitempty"`
	Telemetry    Telemetry `toml:"telemetry"`
	ConfigSchema int       `toml:"config_schema"`
	DebugLogging bool      `toml:"debug_logging"`
}

type Telemetry struct {
	DeviceID       string `toml:"device_id,omitempty"`
	DSN            string `toml:"dsn,omitempty"`
	ErrorReporting bool   `toml:"error_reporting"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Serial: Serial{
		BaudRate: DefaultBaudRate,
	},
	API: API{
		Port: DefaultAPIPort,
	},
}

type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

// DefaultDir is the per-user configuration directory.
func DefaultDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DataDir holds firmware assets and the flashing tool by default.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// LogDir is where the rotating log file is written.
func LogDir() string {
	return filepath.Join(xdg.StateHome, AppName)
}

// NewConfig resolves the config path (env override first, then configDir)
// and loads it. A missing file is not an error; defaults are used.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := &Instance{
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Str("path", cfgPath).Msg("no config file found, using defaults")
		return cfg, nil
	}

	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load re-reads the config file on top of the defaults.
func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then unmarshal file values on top.
	// This ensures fields not present in the file retain their default values.
	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return errors.New("schema version mismatch")
	}

	c.vals = newVals
	log.Info().Str("path", c.cfgPath).Msg("loaded config")
	return nil
}

func (c *Instance) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfgPath
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) ErrorReporting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Telemetry.ErrorReporting
}

// ErrorReportingDSN is the Sentry DSN error reports are sent to.
func (c *Instance) ErrorReportingDSN() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Telemetry.DSN
}

func (c *Instance) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Telemetry.DeviceID
}
