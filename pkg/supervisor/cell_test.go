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

package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRunner records when it ran and holds Done open for a while after
// Stop to imitate a manager releasing its port.
type fakeRunner struct {
	log      *eventLog
	stop     chan struct{}
	done     chan struct{}
	name     string
	linger   time.Duration
	stopOnce sync.Once
	runs     atomic.Int32
}

type eventLog struct {
	events []string
	mu     sync.Mutex
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func newFakeRunner(name string, l *eventLog, linger time.Duration) *fakeRunner {
	return &fakeRunner{
		name:   name,
		log:    l,
		linger: linger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.log.add(f.name + " start")
	f.runs.Add(1)
	defer close(f.done)
	select {
	case <-ctx.Done():
	case <-f.stop:
	}
	time.Sleep(f.linger)
	f.log.add(f.name + " released")
	return nil
}

func (f *fakeRunner) Stop() {
	f.stopOnce.Do(func() { close(f.stop) })
}

func (f *fakeRunner) Done() <-chan struct{} {
	return f.done
}

func TestCellReplaceJoinsOldInstance(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var l eventLog
	cell := NewCell[*fakeRunner](ctx, "test")

	_, ok := cell.Get()
	assert.False(t, ok)

	first := newFakeRunner("first", &l, 20*time.Millisecond)
	require.NoError(t, cell.Replace(ctx, first))
	require.Eventually(t, func() bool { return first.runs.Load() == 1 }, time.Second, time.Millisecond)

	second := newFakeRunner("second", &l, 0)
	require.NoError(t, cell.Replace(ctx, second))

	cur, ok := cell.Get()
	require.True(t, ok)
	assert.Same(t, second, cur)

	require.Eventually(t, func() bool { return second.runs.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"first start", "first released", "second start"}, l.list())

	require.NoError(t, cell.Close(ctx))
	assert.Equal(t, "second released", l.list()[3])

	require.ErrorIs(t, cell.Replace(ctx, newFakeRunner("third", &l, 0)), ErrCellClosed)
}

func TestCellReplaceGivesUpOnContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var l eventLog
	cell := NewCell[*fakeRunner](ctx, "test")
	slow := newFakeRunner("slow", &l, 200*time.Millisecond)
	require.NoError(t, cell.Replace(ctx, slow))
	require.Eventually(t, func() bool { return slow.runs.Load() == 1 }, time.Second, time.Millisecond)

	short, cancelShort := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancelShort()
	next := newFakeRunner("next", &l, 0)
	require.ErrorIs(t, cell.Replace(short, next), context.DeadlineExceeded)

	cur, _ := cell.Get()
	assert.Same(t, slow, cur)
	assert.Zero(t, next.runs.Load())

	require.NoError(t, cell.Close(context.Background()))
}

func TestCellExited(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var l eventLog
	cell := NewCell[*fakeRunner](ctx, "test")
	assert.False(t, cell.Exited())

	r := newFakeRunner("r", &l, 0)
	require.NoError(t, cell.Replace(ctx, r))
	assert.False(t, cell.Exited())

	r.Stop()
	require.Eventually(t, cell.Exited, time.Second, time.Millisecond)
	require.NoError(t, cell.Close(ctx))
}
