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

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

const (
	// JPEGQuality is used when re-encoding frames for transport.
	JPEGQuality = 90
	// minImageSize is the smallest binary message treated as an image.
	minImageSize = 10
)

var ErrImageTooSmall = errors.New("binary message too small to be an image")

// Frame is one decoded camera image.
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
}

// FrameBuffer holds at most one frame. Put always replaces the previous
// frame. It belongs to a single goroutine.
type FrameBuffer struct {
	frame Frame
	ok    bool
}

// Put stores f, evicting whatever was there.
func (b *FrameBuffer) Put(f Frame) {
	b.frame = f
	b.ok = true
}

// Latest returns the stored frame.
func (b *FrameBuffer) Latest() (Frame, bool) {
	return b.frame, b.ok
}

// DecodeFrame decodes a JPEG payload received from a device.
func DecodeFrame(data []byte) (image.Image, error) {
	if len(data) < minImageSize {
		return nil, ErrImageTooSmall
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode jpeg frame: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New("decoded frame is empty")
	}
	return img, nil
}

// Rotate turns img by degrees about its centre, counter-clockwise for
// positive angles, keeping the original size. Uncovered pixels stay black.
// A zero angle returns img unchanged.
func Rotate(img image.Image, degrees float64) image.Image {
	if degrees == 0 || math.Mod(degrees, 360) == 0 {
		return img
	}

	b := img.Bounds()
	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	rad := degrees * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)

	// maps source coordinates to destination coordinates
	m := f64.Aff3{
		cos, sin, (1-cos)*cx - sin*cy,
		-sin, cos, sin*cx + (1-cos)*cy,
	}

	dst := image.NewRGBA(b)
	draw.BiLinear.Transform(dst, m, img, b, draw.Src, nil)
	return dst
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBase64 returns img as a base64 JPEG at JPEGQuality.
func EncodeBase64(img image.Image) (string, error) {
	data, err := EncodeJPEG(img, JPEGQuality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
