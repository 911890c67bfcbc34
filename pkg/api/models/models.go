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

// Package models holds the JSON-RPC envelope and the method, notification
// and result types of the local API.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	MethodSerialOpen       = "serial.open"
	MethodSerialClose      = "serial.close"
	MethodSerialWifi       = "serial.wifi"
	MethodSerialBrightness = "serial.brightness"
	MethodDeviceRestart    = "device.restart"
	MethodDeviceFlash      = "device.flash"
	MethodLinkStatus       = "link.status"
	MethodLinks            = "links"
	MethodStreamFrame      = "stream.frame"
	MethodStreamRotation   = "stream.rotation"
	MethodStreamStatus     = "stream.status"
	MethodVersion          = "version"
)

const (
	NotificationLinkEvent    = "links.event"
	NotificationProgress     = "device.progress"
	NotificationDeviceStatus = "stream.status"
)

type Notification struct {
	Params any
	Method string
}

type RequestObject struct {
	ID      *uuid.UUID      `json:"id,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type ErrorObject struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type ResponseObject struct {
	Result  any          `json:"result"`
	Error   *ErrorObject `json:"error,omitempty"`
	JSONRPC string       `json:"jsonrpc"`
	ID      uuid.UUID    `json:"id"`
}

var (
	ErrorParse          = ErrorObject{Code: -32700, Message: "Parse error"}
	ErrorInvalidRequest = ErrorObject{Code: -32600, Message: "Invalid Request"}
	ErrorMethodNotFound = ErrorObject{Code: -32601, Message: "Method not found"}
	ErrorInvalidParams  = ErrorObject{Code: -32602, Message: "Invalid params"}
	ErrorServer         = ErrorObject{Code: -32000, Message: "Server error"}
)

// FrameResponse is a frame encoded for transport.
type FrameResponse struct {
	CapturedAt time.Time `json:"capturedAt"`
	Role       string    `json:"role"`
	JPEG       string    `json:"jpeg"`
}

// DeviceStatusResponse answers stream.status and is also pushed as a
// notification whenever a device reports.
type DeviceStatusResponse struct {
	Role       string  `json:"role"`
	SourceIP   string  `json:"sourceIp,omitempty"`
	Battery    float32 `json:"battery"`
	Brightness int32   `json:"brightness"`
}

// TaskResponse acknowledges a long-running operation. Its progress
// follows as device.progress notifications.
type TaskResponse struct {
	Operation string `json:"operation"`
}

type VersionResponse struct {
	Version  string `json:"version"`
	Platform string `json:"platform"`
}
