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

// Package telemetry provides opt-in error reporting via Sentry.
// All PII is stripped before transmission.
package telemetry

import (
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	sentryzerolog "github.com/getsentry/sentry-go/zerolog"
	"github.com/papertracker/trackerlink/pkg/config"
	"github.com/papertracker/trackerlink/pkg/helpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const flushTimeout = 2 * time.Second

var ErrNoDSN = errors.New("error reporting enabled without a dsn")

var (
	mu           sync.Mutex
	enabled      bool
	sentryWriter *sentryzerolog.Writer

	// Patterns to strip usernames from file paths
	homePathRe    = regexp.MustCompile(`(?i)/home/[^/]+/`)
	usersPathRe   = regexp.MustCompile(`(?i)/Users/[^/]+/`)
	windowsUserRe = regexp.MustCompile(`(?i)[a-zA-Z]:\\Users\\[^\\]+\\`)

	// Serial port names can carry a USB serial number on macOS.
	usbSerialRe = regexp.MustCompile(`(?i)(/dev/(?:cu|tty)\.usbmodem)[0-9a-z]+`)
	// Wi-Fi provisioning frames carry credentials in clear text.
	wifiFrameRe = regexp.MustCompile(`A2SSID.*?B2`)
)

// Options configures Init.
type Options struct {
	DSN        string
	DeviceID   string
	AppVersion string
	Enabled    bool
}

// OptionsFromConfig reads the telemetry settings from cfg.
func OptionsFromConfig(cfg *config.Instance) Options {
	return Options{
		Enabled:    cfg.ErrorReporting(),
		DSN:        cfg.ErrorReportingDSN(),
		DeviceID:   cfg.DeviceID(),
		AppVersion: config.AppVersion,
	}
}

// Init initializes Sentry error reporting with zerolog integration.
// If reporting is not enabled, telemetry remains disabled.
func Init(opts Options) error {
	if !opts.Enabled {
		log.Debug().Msg("error reporting disabled")
		return nil
	}
	if opts.DSN == "" {
		return ErrNoDSN
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Release:          config.AppName + "@" + opts.AppVersion,
		Environment:      runtime.GOOS,
		AttachStacktrace: true,
		SendDefaultPII:   false,
		ServerName:       "",
		MaxBreadcrumbs:   0,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return sanitizeEvent(event)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		if opts.DeviceID != "" {
			scope.SetUser(sentry.User{ID: opts.DeviceID})
		}
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
	})

	w, err := sentryzerolog.NewWithHub(sentry.CurrentHub(), sentryzerolog.Options{
		Levels:          []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel},
		FlushTimeout:    flushTimeout,
		WithBreadcrumbs: false,
	})
	if err != nil {
		return fmt.Errorf("failed to create sentry zerolog writer: %w", err)
	}

	log.Logger = log.Output(zerolog.MultiLevelWriter(
		helpers.LogWriter(),
		w,
	)).With().Timestamp().Caller().Logger()

	mu.Lock()
	sentryWriter = w
	enabled = true
	mu.Unlock()

	log.Info().Msg("error reporting enabled")
	return nil
}

// Close flushes pending events and shuts down Sentry. Safe to call
// multiple times.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if !enabled {
		return
	}
	_ = sentryWriter.Close()
	sentry.Flush(flushTimeout)
	enabled = false
}

// Flush sends pending events. Call it before os.Exit.
func Flush() {
	if !Enabled() {
		return
	}
	sentry.Flush(flushTimeout)
}

func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// sanitizeEvent removes PII from Sentry events before sending.
func sanitizeEvent(event *sentry.Event) *sentry.Event {
	// SDK may populate the hostname despite ServerName: ""
	event.ServerName = ""

	for i := range event.Exception {
		event.Exception[i].Value = sanitizeText(event.Exception[i].Value)
		if event.Exception[i].Stacktrace != nil {
			for j := range event.Exception[i].Stacktrace.Frames {
				frame := &event.Exception[i].Stacktrace.Frames[j]
				frame.AbsPath = sanitizePath(frame.AbsPath)
				frame.Filename = sanitizePath(frame.Filename)
			}
		}
	}

	event.Message = sanitizeText(event.Message)

	for k, v := range event.Extra {
		if s, ok := v.(string); ok {
			event.Extra[k] = sanitizeText(s)
		}
	}

	return event
}

func sanitizeText(s string) string {
	s = sanitizePath(s)
	s = usbSerialRe.ReplaceAllString(s, "${1}<serial>")
	return wifiFrameRe.ReplaceAllString(s, "A2SSID<redacted>B2")
}

// sanitizePath removes usernames from file paths.
func sanitizePath(path string) string {
	if path == "" {
		return path
	}

	result := homePathRe.ReplaceAllString(path, "/home/<user>/")
	result = usersPathRe.ReplaceAllString(result, "/Users/<user>/")
	result = windowsUserRe.ReplaceAllString(result, "C:\\Users\\<user>\\")

	return result
}
