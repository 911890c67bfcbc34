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

// Package middleware holds the HTTP and WebSocket guards of the local API.
package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/olahol/melody"
	"github.com/papertracker/trackerlink/pkg/api/models"
	"github.com/papertracker/trackerlink/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// RequestsPerSecond is generous enough for a UI polling frames of
	// three cameras.
	RequestsPerSecond = 50
	BurstSize         = 100
	limiterMaxAge     = 10 * time.Minute
	cleanupInterval   = 5 * time.Minute
)

// ParseRemoteIP extracts the IP from a RemoteAddr string (IP:port format).
func ParseRemoteIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}

// IsLoopbackAddr reports whether remoteAddr is a loopback address.
func IsLoopbackAddr(remoteAddr string) bool {
	ip := ParseRemoteIP(remoteAddr)
	return ip != nil && ip.IsLoopback()
}

// IPRateLimiter keeps one token bucket per client address.
type IPRateLimiter struct {
	clock    clockwork.Clock
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	mu       syncutil.Mutex
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(clock clockwork.Clock) *IPRateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IPRateLimiter{
		clock:    clock,
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(RequestsPerSecond),
		burst:    BurstSize,
	}
}

// Allow consumes a token for ip.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Cleanup forgets clients not seen for a while.
func (rl *IPRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > limiterMaxAge {
			delete(rl.limiters, ip)
			log.Debug().Str("ip", ip).Msg("removed stale rate limiter")
		}
	}
}

func (rl *IPRateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// RunCleanup calls Cleanup periodically until ctx is cancelled.
func (rl *IPRateLimiter) RunCleanup(ctx context.Context) {
	ticker := rl.clock.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			rl.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// HTTPRateLimitMiddleware rejects requests over the limit with 429.
func HTTPRateLimitMiddleware(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := ParseRemoteIP(r.RemoteAddr).String()
			if !limiter.Allow(host) {
				log.Warn().
					Str("ip", host).
					Str("path", r.URL.Path).
					Msg("HTTP rate limit exceeded")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WebSocketRateLimitHandler wraps a WebSocket message handler. Messages
// over the limit are answered with a JSON-RPC server error.
func WebSocketRateLimitHandler(
	limiter *IPRateLimiter,
	handler func(*melody.Session, []byte),
) func(*melody.Session, []byte) {
	return func(session *melody.Session, msg []byte) {
		host := ParseRemoteIP(session.Request.RemoteAddr).String()
		if limiter.Allow(host) {
			handler(session, msg)
			return
		}

		log.Warn().Str("ip", host).Int("msg_size", len(msg)).Msg("WebSocket rate limit exceeded")
		data, err := json.Marshal(models.ResponseObject{
			JSONRPC: "2.0",
			Error:   &models.ErrorObject{Code: models.ErrorServer.Code, Message: "Rate limit exceeded"},
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal rate limit error")
			return
		}
		if err := session.Write(data); err != nil {
			log.Error().Err(err).Msg("failed to send rate limit error")
		}
	}
}
