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

package protocol

// MaxPacketLen bounds how far the framer looks for a terminator before it
// gives up on a start marker. Real packets are well under 128 bytes.
const MaxPacketLen = 256

// Framer reassembles packets from a byte stream that may arrive in arbitrary
// chunks. A packet starts at 'A' followed by a digit and ends at the first
// 'B' followed by a type digit. The framer only waits when the outcome
// depends on bytes that have not arrived yet, so the packets produced do not
// depend on how the stream was chunked.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	buf []byte
}

// Feed appends chunk to the pending buffer and returns every complete packet
// now available, in stream order. Unknown packets are included so callers can
// log them.
func (f *Framer) Feed(chunk []byte) []Packet {
	f.buf = append(f.buf, chunk...)

	var out []Packet
	for {
		start, ok := f.findStart()
		if !ok {
			break
		}
		f.buf = f.buf[start:]

		end, state := f.findEnd()
		if state == endPending {
			break
		}
		if state == endOverflow {
			// no terminator within reach of this start marker
			f.buf = f.buf[1:]
			continue
		}
		out = append(out, Parse(string(f.buf[:end])))
		f.buf = f.buf[end:]
	}

	f.compact()
	return out
}

// Buffered returns the number of bytes held while waiting for a packet to
// complete.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset drops any partial packet, used when the port is reopened.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

// findStart locates the next start marker. When the buffer ends in a bare
// 'A' the buffer is trimmed to it and ok is false.
func (f *Framer) findStart() (int, bool) {
	for i := 0; i < len(f.buf); i++ {
		if f.buf[i] != 'A' {
			continue
		}
		if i+1 == len(f.buf) {
			f.buf = f.buf[i:]
			return 0, false
		}
		if isDigit(f.buf[i+1]) {
			return i, true
		}
	}
	f.buf = f.buf[:0]
	return 0, false
}

type endState int

const (
	endPending endState = iota
	endFound
	endOverflow
)

// findEnd looks for the terminator of the packet starting at buf[0] and
// returns the length of the packet when found.
func (f *Framer) findEnd() (int, endState) {
	limit := min(len(f.buf), MaxPacketLen)
	for j := 2; j < limit; j++ {
		if f.buf[j] != 'B' {
			continue
		}
		if j+2 > MaxPacketLen {
			break
		}
		if j+1 >= len(f.buf) {
			return 0, endPending
		}
		if isTypeDigit(f.buf[j+1]) {
			return j + 2, endFound
		}
	}
	if len(f.buf) >= MaxPacketLen {
		return 0, endOverflow
	}
	return 0, endPending
}

// compact moves a small remainder to the front so the backing array does not
// grow without bound on long-running ports.
func (f *Framer) compact() {
	if cap(f.buf) > 4*MaxPacketLen && len(f.buf) < MaxPacketLen {
		f.buf = append(make([]byte, 0, MaxPacketLen), f.buf...)
	}
}

func isTypeDigit(c byte) bool {
	return c >= '1' && c <= '6'
}
