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
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// USB identifiers of the tracker family.
const (
	VendorID  = "303A"
	ProductID = "1001"
)

// ErrNoDevice means no attached port matched the tracker USB identifiers.
var ErrNoDevice = errors.New("no tracker device found")

// PortLister enumerates serial ports with their USB details.
type PortLister func() ([]*enumerator.PortDetails, error)

// DefaultPortLister uses the operating system enumerator.
func DefaultPortLister() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}

// IsTracker reports whether a port belongs to a tracker unit.
func IsTracker(p *enumerator.PortDetails) bool {
	return p != nil &&
		p.IsUSB &&
		strings.EqualFold(p.VID, VendorID) &&
		strings.EqualFold(p.PID, ProductID)
}

// FindPort returns the name of the first tracker port.
func FindPort(list PortLister) (string, error) {
	if list == nil {
		list = DefaultPortLister
	}
	ports, err := list()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if IsTracker(p) {
			return p.Name, nil
		}
	}
	return "", ErrNoDevice
}

// PortPresent reports whether name is still enumerated as a tracker port.
func PortPresent(list PortLister, name string) (bool, error) {
	if list == nil {
		list = DefaultPortLister
	}
	ports, err := list()
	if err != nil {
		return false, err
	}
	for _, p := range ports {
		if IsTracker(p) && p.Name == name {
			return true, nil
		}
	}
	return false, nil
}
