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

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFramerConcatenatedPackets(t *testing.T) {
	t.Parallel()

	var f Framer
	got := f.Feed([]byte("noiseA101B1A303B3A6050B6"))
	assert.Equal(t, []Packet{
		WifiSetupPrompt{},
		WifiConfirmed{},
		LightControlAck{Brightness: 50},
	}, got)
	assert.Zero(t, f.Buffered())
}

func TestFramerWaitsForTerminator(t *testing.T) {
	t.Parallel()

	var f Framer
	assert.Empty(t, f.Feed([]byte("A1")))
	assert.Empty(t, f.Feed([]byte("01B")))
	assert.Equal(t, 5, f.Buffered())

	got := f.Feed([]byte("1A3"))
	assert.Equal(t, []Packet{WifiSetupPrompt{}}, got)
	assert.Equal(t, 2, f.Buffered())
}

func TestFramerKeepsTrailingStartMarker(t *testing.T) {
	t.Parallel()

	var f Framer
	assert.Empty(t, f.Feed([]byte("garbageA")))
	assert.Equal(t, 1, f.Buffered())

	got := f.Feed([]byte("303B3"))
	assert.Equal(t, []Packet{WifiConfirmed{}}, got)
}

func TestFramerDiscardsGarbage(t *testing.T) {
	t.Parallel()

	var f Framer
	assert.Empty(t, f.Feed([]byte("hello world\r\n")))
	assert.Zero(t, f.Buffered())

	// 'A' followed by a non-digit is not a start marker
	assert.Empty(t, f.Feed([]byte("ABCDEF")))
	assert.Zero(t, f.Buffered())
}

func TestFramerSkipsNonTypeTerminator(t *testing.T) {
	t.Parallel()

	var f Framer
	got := f.Feed([]byte("A2SSIDBoxPWDB9xB2"))
	require.Len(t, got, 1)
	assert.Equal(t, WifiCredentials{SSID: "Box", Password: "B9x"}, got[0])
}

func TestFramerOverflowDropsStart(t *testing.T) {
	t.Parallel()

	var f Framer
	junk := "A1" + strings.Repeat("x", MaxPacketLen)
	assert.Empty(t, f.Feed([]byte(junk)))
	assert.Zero(t, f.Buffered())

	got := f.Feed([]byte("A303B3"))
	assert.Equal(t, []Packet{WifiConfirmed{}}, got)
}

func TestFramerReportsUnknown(t *testing.T) {
	t.Parallel()

	var f Framer
	got := f.Feed([]byte("A9xyzB1"))
	assert.Equal(t, []Packet{Unknown{Raw: "A9xyzB1"}}, got)
}

func TestFramerReset(t *testing.T) {
	t.Parallel()

	var f Framer
	f.Feed([]byte("A2SSIDpart"))
	require.Positive(t, f.Buffered())
	f.Reset()
	assert.Zero(t, f.Buffered())
	assert.Equal(t, []Packet{WifiSetupPrompt{}}, f.Feed([]byte("A101B1")))
}

var streamPieces = []string{
	"A101B1",
	"A303B3",
	"A6050B6",
	"A6100B6",
	"A2SSIDnetPWDpwB2",
	"A4SSIDpaperPWDB4",
	"A5123000000000001POWER099VERSION001B5",
	"A5100192168001042POWER80VERSION3B5",
	"A",
	"B",
	"B1",
	"A9",
	"xyz",
	"\r\n",
	"A7zzB7",
}

func streamGen() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		parts := rapid.SliceOfN(rapid.SampledFrom(streamPieces), 0, 30).Draw(t, "parts")
		return strings.Join(parts, "")
	})
}

// TestPropertyFramerChunkIndependence verifies that splitting the stream at
// arbitrary points never changes the packets produced.
func TestPropertyFramerChunkIndependence(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		data := []byte(streamGen().Draw(t, "stream"))
		cuts := rapid.SliceOfN(rapid.IntRange(0, len(data)), 0, 12).Draw(t, "cuts")
		sort.Ints(cuts)

		var whole Framer
		want := whole.Feed(data)

		var chunked Framer
		var got []Packet
		prev := 0
		for _, c := range cuts {
			got = append(got, chunked.Feed(data[prev:c])...)
			prev = c
		}
		got = append(got, chunked.Feed(data[prev:])...)

		require.Equal(t, want, got)
		require.Equal(t, whole.Buffered(), chunked.Buffered())
	})
}

// TestPropertyFramerByteAtATime feeds one byte per call.
func TestPropertyFramerByteAtATime(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		data := []byte(streamGen().Draw(t, "stream"))

		var whole Framer
		want := whole.Feed(data)

		var single Framer
		var got []Packet
		for i := range data {
			got = append(got, single.Feed(data[i:i+1])...)
		}

		require.Equal(t, want, got)
	})
}

// TestPropertyCredentialsRoundTrip verifies encoded credentials parse back.
func TestPropertyCredentialsRoundTrip(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		ssid := rapid.StringMatching(`[a-z0-9 _\-]{1,32}`).Draw(t, "ssid")
		pwd := rapid.StringMatching(`[a-z0-9!@#$%]{0,63}`).Draw(t, "pwd")

		encoded, err := EncodeWifiCredentials(ssid, pwd)
		require.NoError(t, err)

		var f Framer
		got := f.Feed(encoded)
		require.Equal(t, []Packet{WifiCredentials{SSID: ssid, Password: pwd}}, got)
	})
}

// TestPropertyDecodeIPShape verifies every decoded address is four
// three-digit octets.
func TestPropertyDecodeIPShape(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.StringMatching(`[0-9]{0,12}`).Draw(t, "raw")
		ip := DecodeIP(raw)
		parts := strings.Split(ip, ".")
		if len(parts) != 4 {
			t.Fatalf("expected 4 octets, got %q", ip)
		}
		for _, p := range parts {
			if len(p) != 3 {
				t.Fatalf("octet %q of %q is not three digits", p, ip)
			}
		}
	})
}
