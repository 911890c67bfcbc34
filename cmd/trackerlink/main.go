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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/papertracker/trackerlink/internal/telemetry"
	"github.com/papertracker/trackerlink/pkg/cli"
	"github.com/papertracker/trackerlink/pkg/config"
	"github.com/papertracker/trackerlink/pkg/service"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		telemetry.Flush()
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags(flag.CommandLine)
	if exit, err := flags.Pre(os.Args[1:], os.Stdout); exit || err != nil {
		return err
	}

	cfg, err := cli.Setup(config.BaseDefaults, []io.Writer{os.Stderr}, *flags.Debug)
	if err != nil {
		return err
	}
	defer telemetry.Close()

	if exit, err := flags.Post(context.Background(), cfg, os.Stdout); exit || err != nil {
		return err
	}

	return cli.RunApp(cfg, service.Options{})
}
