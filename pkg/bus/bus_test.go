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

package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishWithoutReadersDoesNotBlock(t *testing.T) {
	t.Parallel()

	b := New[int]("test")
	done := make(chan struct{})
	go func() {
		for i := range 1000 {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no readers")
	}

	latest, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, 999, latest)
}

func TestSlowReaderDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	b := New[int]("test")
	stuck := b.Subscribe()
	defer stuck.Close()
	active := b.Subscribe()
	defer active.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 1; i <= 5; i++ {
		b.Publish(i)
		v, err := active.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	// the stuck reader only holds the newest value
	v, ok := stuck.TryRecv()
	require.True(t, ok)
	assert.Equal(t, 5, v)
	assert.Equal(t, uint64(4), stuck.Dropped())
	assert.Zero(t, active.Dropped())
}

func TestUnreadValueIsOverwritten(t *testing.T) {
	t.Parallel()

	b := New[string]("test")
	r := b.Subscribe()
	defer r.Close()

	b.Publish("first")
	b.Publish("second")

	v, ok := r.TryRecv()
	require.True(t, ok)
	assert.Equal(t, "second", v)

	_, ok = r.TryRecv()
	assert.False(t, ok)
}

func TestNoReplayForNewReaders(t *testing.T) {
	t.Parallel()

	b := New[int]("test")
	b.Publish(1)

	r := b.Subscribe()
	defer r.Close()

	_, ok := r.TryRecv()
	assert.False(t, ok)

	latest, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, 1, latest)
}

func TestRecvHonoursContext(t *testing.T) {
	t.Parallel()

	b := New[int]("test")
	r := b.Subscribe()
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecvWakesOnPublish(t *testing.T) {
	t.Parallel()

	b := New[int]("test")
	r := b.Subscribe()
	defer r.Close()

	got := make(chan int, 1)
	go func() {
		v, err := r.Recv(context.Background())
		if err == nil {
			got <- v
		}
	}()

	b.Publish(7)
	select {
	case v := <-got:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("reader never woke up")
	}
}

func TestReaderClose(t *testing.T) {
	t.Parallel()

	b := New[int]("test")
	r := b.Subscribe()
	assert.Equal(t, 1, b.Readers())

	r.Close()
	r.Close()
	assert.Zero(t, b.Readers())

	_, err := r.Recv(context.Background())
	require.ErrorIs(t, err, ErrClosed)

	// publishing after a reader left must not panic on its closed channel
	b.Publish(1)
}

func TestBusClose(t *testing.T) {
	t.Parallel()

	b := New[int]("test")
	r1 := b.Subscribe()
	r2 := b.Subscribe()

	b.Close()
	b.Close()

	_, err := r1.Recv(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	_, ok := <-r2.C()
	assert.False(t, ok)

	r1.Close()
	b.Publish(3)

	late := b.Subscribe()
	_, err = late.Recv(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentPublishers(t *testing.T) {
	t.Parallel()

	b := New[int]("test")
	readers := make([]*Reader[int], 4)
	for i := range readers {
		readers[i] = b.Subscribe()
	}

	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				b.Publish(p*1000 + i)
			}
		}()
	}
	for _, r := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				r.TryRecv()
			}
		}()
	}
	wg.Wait()

	for _, r := range readers {
		r.Close()
	}
}

// TestPropertyReaderSeesPublishOrder verifies a reader never observes values
// out of publish order and always ends on the latest value.
func TestPropertyReaderSeesPublishOrder(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(t, "n")
		polls := rapid.SliceOfN(rapid.Bool(), n, n).Draw(t, "polls")

		b := New[int]("prop")
		r := b.Subscribe()
		defer r.Close()

		last := -1
		for i := range n {
			b.Publish(i)
			if polls[i] {
				v, ok := r.TryRecv()
				if !ok {
					t.Fatalf("expected value after publish %d", i)
				}
				if v <= last {
					t.Fatalf("value %d observed after %d", v, last)
				}
				last = v
			}
		}
		if v, ok := r.TryRecv(); ok {
			last = v
		}
		if last != n-1 {
			t.Fatalf("reader ended on %d, want %d", last, n-1)
		}
	})
}
