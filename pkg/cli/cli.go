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

// Package cli holds the command line flags and startup sequence shared by
// the trackerlink binaries.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/papertracker/trackerlink/internal/telemetry"
	"github.com/papertracker/trackerlink/pkg/api/client"
	"github.com/papertracker/trackerlink/pkg/config"
	"github.com/papertracker/trackerlink/pkg/helpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrFlagValue = errors.New("flag requires a value")

type Flags struct {
	set     *flag.FlagSet
	Config  *string
	API     *string
	Wait    *string
	Timeout *time.Duration
	Version *bool
	Debug   *bool
}

// SetupFlags defines the CLI flags on fs.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		set: fs,
		Config: fs.String(
			"config",
			"",
			"path to config file, overrides "+config.CfgEnv,
		),
		API: fs.String(
			"api",
			"",
			"send method and params to API and print response, e.g. serial.brightness:{\"level\":50}",
		),
		Wait: fs.String(
			"wait",
			"",
			"print the params of the next notification with this method",
		),
		Timeout: fs.Duration(
			"timeout",
			0,
			"give up waiting for a notification after this long",
		),
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
		Debug: fs.Bool(
			"debug",
			false,
			"enable debug logging",
		),
	}
}

func (f *Flags) isPassed(name string) bool {
	found := false
	f.set.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

// Pre parses args and handles flags that need no environment. It reports
// whether the program should exit.
func (f *Flags) Pre(args []string, out io.Writer) (bool, error) {
	if err := f.set.Parse(args); err != nil {
		return true, fmt.Errorf("failed to parse flags: %w", err)
	}
	if *f.Version {
		_, _ = fmt.Fprintf(out, "Paper Tracker Link v%s\n", config.AppVersion)
		return true, nil
	}
	if *f.Config != "" {
		if err := os.Setenv(config.CfgEnv, *f.Config); err != nil {
			return true, fmt.Errorf("failed to set config path: %w", err)
		}
	}
	return false, nil
}

// SplitAPI splits a method:params flag value. Params may themselves
// contain colons.
func SplitAPI(value string) (method, params string) {
	method, params, _ = strings.Cut(value, ":")
	return method, params
}

// Post handles the client flags, which talk to a running service. It
// reports whether the program should exit.
func (f *Flags) Post(ctx context.Context, cfg *config.Instance, out io.Writer) (bool, error) {
	c := client.NewLocal(cfg)
	switch {
	case f.isPassed("api"):
		if *f.API == "" {
			return true, fmt.Errorf("api: %w", ErrFlagValue)
		}
		method, params := SplitAPI(*f.API)
		resp, err := c.Call(ctx, method, params)
		if err != nil {
			log.Error().Err(err).Msg("error calling API")
			return true, fmt.Errorf("error calling API: %w", err)
		}
		_, _ = fmt.Fprintln(out, resp)
		return true, nil
	case f.isPassed("wait"):
		if *f.Wait == "" {
			return true, fmt.Errorf("wait: %w", ErrFlagValue)
		}
		resp, err := c.WaitNotification(ctx, *f.Timeout, *f.Wait)
		if err != nil {
			log.Error().Err(err).Msg("error waiting for notification")
			return true, fmt.Errorf("error waiting for notification: %w", err)
		}
		_, _ = fmt.Fprintln(out, resp)
		return true, nil
	}
	return false, nil
}

// Setup creates the user directories, starts logging, loads the config and
// enables error reporting if the user opted in.
//
//nolint:gocritic // config struct copied for immutability
func Setup(
	defaultConfig config.Values,
	writers []io.Writer,
	debug bool,
) (*config.Instance, error) {
	for _, dir := range []string{config.DefaultDir(), config.DataDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	err := helpers.InitLogging(helpers.LogOptions{
		Dir:     config.LogDir(),
		Writers: writers,
		Debug:   debug,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	cfg, err := config.NewConfig(config.DefaultDir(), defaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if debug || cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := telemetry.Init(telemetry.OptionsFromConfig(cfg)); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg, nil
}
