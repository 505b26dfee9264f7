/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package session

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/carverauto/relay/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second

func newTestBroker() *Broker {
	return NewBroker(logger.NewTestLogger())
}

func TestSignalHoldsTwoPermits(t *testing.T) {
	s := NewSignal()

	assert.True(t, s.Release())
	assert.True(t, s.Release())
	assert.False(t, s.Release())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Wait(ctx))
	require.NoError(t, s.Wait(ctx))
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}

func TestOpenGeneratesIDWhenZero(t *testing.T) {
	b := newTestBroker()

	s := b.Open(uuid.Nil, "viewer-1")
	require.NotEqual(t, uuid.Nil, s.SessionID)

	got, ok := b.Lookup(s.SessionID)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestLookupUnknownIsAbsent(t *testing.T) {
	b := newTestBroker()

	_, ok := b.Lookup(uuid.New())
	assert.False(t, ok)
}

func TestDuplicateIDOverwritesRecord(t *testing.T) {
	b := newTestBroker()
	id := uuid.New()

	first := b.Open(id, "viewer-1")
	second := b.Open(id, "viewer-2")

	got, ok := b.Lookup(id)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.NotSame(t, first, got)
	assert.Equal(t, 1, b.Count())

	// The replaced record's watcher stops, but its waiters are not woken.
	select {
	case <-first.watcherDone:
	case <-time.After(eventually):
		t.Fatal("watcher of the replaced record is still running")
	}

	select {
	case <-first.Done():
		t.Fatal("replaced record was closed")
	default:
	}

	// The replaced record ending must not evict its replacement.
	first.EndSignal.Release()
	assert.Never(t, func() bool {
		_, ok := b.Lookup(id)
		return !ok
	}, 100*time.Millisecond, 10*time.Millisecond)

	// Teardown of the first owner does not touch the new record either.
	assert.False(t, b.Release(id, "viewer-1"))

	got, ok = b.Lookup(id)
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRepeatedOverwritesStopEveryWatcher(t *testing.T) {
	b := newTestBroker()
	id := uuid.New()

	records := make([]*Signaler, 0, 100)
	for range 100 {
		records = append(records, b.Open(id, "viewer-1"))
	}

	for _, s := range records[:len(records)-1] {
		select {
		case <-s.watcherDone:
		case <-time.After(eventually):
			t.Fatal("watcher of a replaced record is still running")
		}
	}

	last := records[len(records)-1]
	last.EndSignal.Release()

	select {
	case <-last.watcherDone:
	case <-time.After(eventually):
		t.Fatal("watcher of the live record did not exit")
	}

	assert.Zero(t, b.Count())
}

type closeRecorder struct {
	io.ReadWriter
	closed chan struct{}
	once   sync.Once
}

func (c *closeRecorder) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func TestStreamClosesWithRecord(t *testing.T) {
	b := newTestBroker()
	s := b.Open(uuid.Nil, "viewer-1")

	stream := &closeRecorder{ReadWriter: &bytes.Buffer{}, closed: make(chan struct{})}
	require.NoError(t, s.AttachStream(stream))
	assert.Same(t, stream, s.Stream())
	assert.True(t, s.Started())

	require.ErrorIs(t, s.AttachStream(stream), errViewerAttached)
	require.ErrorIs(t, s.AttachViewer(nil), errViewerAttached)

	require.True(t, b.Release(s.SessionID, "viewer-1"))

	select {
	case <-stream.closed:
	case <-time.After(eventually):
		t.Fatal("stream was not closed with its record")
	}
}

func TestEndSignalRemovesRecord(t *testing.T) {
	b := newTestBroker()
	s := b.Open(uuid.Nil, "viewer-1")

	s.EndSignal.Release()

	require.Eventually(t, func() bool {
		_, ok := b.Lookup(s.SessionID)
		return !ok
	}, eventually, 10*time.Millisecond)

	select {
	case <-s.Done():
	case <-time.After(eventually):
		t.Fatal("record was not closed")
	}
}

func TestViewerReadyKeepsRecord(t *testing.T) {
	b := newTestBroker()
	s := b.Open(uuid.Nil, "viewer-1")

	s.ViewerReady.Release()

	assert.Never(t, func() bool {
		_, ok := b.Lookup(s.SessionID)
		return !ok
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestReleaseRequiresParticipant(t *testing.T) {
	b := newTestBroker()
	s := b.Open(uuid.Nil, "viewer-1", "agent-1")

	assert.False(t, b.Release(s.SessionID, "someone-else"))
	assert.False(t, b.Release(uuid.New(), "viewer-1"))

	assert.True(t, b.Release(s.SessionID, "agent-1"))

	_, ok := b.Lookup(s.SessionID)
	assert.False(t, ok)
}

func TestSweepRemovesOnlyAbandoned(t *testing.T) {
	b := newTestBroker()

	now := time.Now()
	b.now = func() time.Time { return now.Add(-time.Hour) }

	stale := b.Open(uuid.Nil, "viewer-1")
	started := b.Open(uuid.Nil, "viewer-2")
	started.attached.Store(true)

	b.now = func() time.Time { return now }
	fresh := b.Open(uuid.Nil, "viewer-3")

	assert.Equal(t, 1, b.Sweep(10*time.Minute))

	_, ok := b.Lookup(stale.SessionID)
	assert.False(t, ok)

	_, ok = b.Lookup(started.SessionID)
	assert.True(t, ok)

	_, ok = b.Lookup(fresh.SessionID)
	assert.True(t, ok)
}

func TestRunStopsWithContext(t *testing.T) {
	b := newTestBroker()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- b.Run(ctx, 10*time.Millisecond, time.Minute) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(eventually):
		t.Fatal("Run did not return")
	}
}
