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

package stream

import "time"

// heartbeat tracks liveness from the time of the last received message.
type heartbeat struct {
	last   time.Time
	missed int
}

func (h *heartbeat) reset(now time.Time) {
	h.last = now
	h.missed = 0
}

// check records one liveness check and reports whether the link should be
// considered stalled.
func (h *heartbeat) check(now time.Time) bool {
	if now.Sub(h.last) <= HeartbeatTimeout {
		return false
	}
	h.missed++
	return h.missed > MaxMissedHeartbeats
}
