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

// Package supervisor keeps the link managers alive. A Cell holds the
// current instance of a manager and swaps it for a fresh one without ever
// letting two instances touch the same hardware handle; the watchdogs
// decide when that is needed.
package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/papertracker/trackerlink/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

var ErrCellClosed = errors.New("supervisor cell closed")

// Runner is a link manager: a loop started with Run, asked to exit with
// Stop, with Done closed once it has released its resources.
type Runner interface {
	Run(ctx context.Context) error
	Stop()
	Done() <-chan struct{}
}

// Cell owns the running instance of one manager.
type Cell[T Runner] struct {
	ctx       context.Context
	current   T
	name      string
	wg        sync.WaitGroup
	mu        syncutil.RWMutex
	replaceMu syncutil.Mutex
	has       bool
	closed    bool
}

// NewCell creates an empty cell. Instances installed in it run until ctx
// is cancelled or they are replaced.
func NewCell[T Runner](ctx context.Context, name string) *Cell[T] {
	return &Cell[T]{ctx: ctx, name: name}
}

// Get returns the current instance.
func (c *Cell[T]) Get() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.has
}

// Replace stops the current instance, waits for it to release its
// hardware handle and then installs and starts next. If ctx ends before
// the old instance is gone, next is not installed.
func (c *Cell[T]) Replace(ctx context.Context, next T) error {
	c.replaceMu.Lock()
	defer c.replaceMu.Unlock()

	old, had := c.Get()
	if had {
		old.Stop()
		select {
		case <-old.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCellClosed
	}
	c.current = next
	c.has = true
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if err := next.Run(c.ctx); err != nil {
			log.Error().Err(err).Str("cell", c.name).Msg("supervised instance exited with error")
		}
	}()

	log.Debug().Str("cell", c.name).Bool("replaced", had).Msg("installed new instance")
	return nil
}

// Exited reports whether the current instance has stopped on its own.
func (c *Cell[T]) Exited() bool {
	cur, ok := c.Get()
	if !ok {
		return false
	}
	return isDone(cur.Done())
}

// Close stops the current instance and waits for every instance the cell
// started to return. Nothing can be installed afterwards.
func (c *Cell[T]) Close(ctx context.Context) error {
	c.replaceMu.Lock()
	defer c.replaceMu.Unlock()

	c.mu.Lock()
	c.closed = true
	cur, had := c.current, c.has
	c.mu.Unlock()

	if had {
		cur.Stop()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
