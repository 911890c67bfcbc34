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

// Package bus provides a single-slot broadcast primitive. Each subscriber
// gets its own one-value mailbox; publishing overwrites an unread value
// instead of queueing behind it, so a slow reader never holds up the
// producer or any other reader.
package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/papertracker/trackerlink/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Recv once the reader or its bus is closed.
var ErrClosed = errors.New("bus closed")

// Bus fans out values of type T to any number of readers. The zero value is
// not usable; create one with New.
type Bus[T any] struct {
	readers map[string]*Reader[T]
	latest  T
	name    string
	mu      syncutil.Mutex
	hasLast bool
	closed  bool
}

// New creates an empty bus. The name is only used in log messages.
func New[T any](name string) *Bus[T] {
	return &Bus[T]{
		name:    name,
		readers: make(map[string]*Reader[T]),
	}
}

// Publish delivers v to every reader without blocking. A reader that has
// not consumed the previous value has it replaced by v. Publishing on a
// closed bus is a no-op.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.latest = v
	b.hasLast = true

	for _, r := range b.readers {
		r.offer(v)
	}
}

// Subscribe returns a new independent reader. It only sees values published
// after it subscribed. Subscribing to a closed bus returns a closed reader.
func (b *Bus[T]) Subscribe() *Reader[T] {
	r := &Reader[T]{
		id:  uuid.NewString(),
		ch:  make(chan T, 1),
		bus: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		r.closed = true
		close(r.ch)
		return r
	}
	b.readers[r.id] = r

	log.Debug().
		Str("bus", b.name).
		Str("reader_id", r.id).
		Int("readers", len(b.readers)).
		Msg("bus reader subscribed")
	return r
}

// Latest returns the most recently published value, if any. It is the
// "latest message of each kind" lookup used by request handlers that poll.
func (b *Bus[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasLast
}

// Readers returns the number of live readers.
func (b *Bus[T]) Readers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readers)
}

// Close closes every reader. Further publishes are dropped. Safe to call
// more than once.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, r := range b.readers {
		r.closed = true
		close(r.ch)
		delete(b.readers, id)
	}
	log.Debug().Str("bus", b.name).Msg("bus closed")
}

// Reader is one subscriber's cursor on a Bus. A Reader must only be
// consumed from one goroutine at a time.
type Reader[T any] struct {
	bus     *Bus[T]
	ch      chan T
	id      string
	dropped atomic.Uint64
	closed  bool // guarded by bus.mu
}

// offer must be called with bus.mu held. Publishers are serialised by the
// bus lock and the reader only ever receives, so after draining a stale
// value the second send always has room.
func (r *Reader[T]) offer(v T) {
	select {
	case r.ch <- v:
		return
	default:
	}

	select {
	case <-r.ch:
		r.dropped.Add(1)
	default:
	}

	select {
	case r.ch <- v:
	default:
	}
}

// ID identifies the reader in logs.
func (r *Reader[T]) ID() string {
	return r.id
}

// Recv blocks until a new value is available for this reader, the reader is
// closed, or ctx is done.
func (r *Reader[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-r.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryRecv returns the pending value without blocking. ok is false when
// nothing new has been published since the last receive.
func (r *Reader[T]) TryRecv() (v T, ok bool) {
	select {
	case v, ok = <-r.ch:
		return v, ok
	default:
		return v, false
	}
}

// C exposes the mailbox for use in select statements. It is closed when the
// reader or the bus is closed.
func (r *Reader[T]) C() <-chan T {
	return r.ch
}

// Dropped returns how many values were overwritten before this reader
// consumed them.
func (r *Reader[T]) Dropped() uint64 {
	return r.dropped.Load()
}

// Close unsubscribes the reader and closes its channel. Safe to call more
// than once.
func (r *Reader[T]) Close() {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	delete(r.bus.readers, r.id)
	close(r.ch)
	log.Debug().Str("bus", r.bus.name).Str("reader_id", r.id).Msg("bus reader closed")
}
