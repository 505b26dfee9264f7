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

// Package session brokers streaming sessions between a viewer and an agent:
// a process-wide table of signaling records keyed by session id, and the
// websocket bridge that pairs the two sides once both have connected.
package session

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/relay/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var errViewerAttached = errors.New("session: viewer already attached")

// Signaler is the transient signaling record of one streaming session.
type Signaler struct {
	SessionID   uuid.UUID
	CreatedAt   time.Time
	EndSignal   *Signal
	ViewerReady *Signal

	participants []string

	mu     sync.Mutex
	viewer *websocket.Conn
	stream io.ReadWriteCloser

	attached atomic.Bool
	done     chan struct{}
	doneOnce sync.Once

	// retired stops the broker's watcher once the record is replaced. It is
	// separate from done so waiters on a replaced record are not woken.
	retired     chan struct{}
	retireOnce  sync.Once
	watcherDone chan struct{}
}

func newSignaler(id uuid.UUID, at time.Time, participants []string) *Signaler {
	return &Signaler{
		SessionID:    id,
		CreatedAt:    at,
		EndSignal:    NewSignal(),
		ViewerReady:  NewSignal(),
		participants: slices.Clone(participants),
		done:         make(chan struct{}),
		retired:      make(chan struct{}),
		watcherDone:  make(chan struct{}),
	}
}

// AttachViewer stores the viewer's bridge socket. Only one viewer may attach.
func (s *Signaler) AttachViewer(ws *websocket.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.viewer != nil || s.stream != nil {
		return errViewerAttached
	}

	s.viewer = ws
	s.attached.Store(true)

	return nil
}

// AttachStream gives the session an in-process byte stream in place of a
// viewer socket. The bridge copies agent frames into it and its reads back
// to the agent. The caller releases ViewerReady once the stream is attached.
// The stream is closed when the record leaves the broker.
func (s *Signaler) AttachStream(stream io.ReadWriteCloser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.viewer != nil || s.stream != nil {
		return errViewerAttached
	}

	s.stream = stream
	s.attached.Store(true)

	return nil
}

// Stream returns the attached byte stream, or nil.
func (s *Signaler) Stream() io.ReadWriteCloser {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stream
}

// Viewer returns the attached viewer socket, or nil.
func (s *Signaler) Viewer() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.viewer
}

// Started reports whether a viewer ever attached.
func (s *Signaler) Started() bool {
	return s.attached.Load()
}

// Done is closed when the record leaves the broker.
func (s *Signaler) Done() <-chan struct{} {
	return s.done
}

func (s *Signaler) involves(connectionID string) bool {
	return slices.Contains(s.participants, connectionID)
}

func (s *Signaler) close() {
	s.doneOnce.Do(func() {
		close(s.done)

		if stream := s.Stream(); stream != nil {
			_ = stream.Close()
		}
	})
}

func (s *Signaler) retire() {
	s.retireOnce.Do(func() { close(s.retired) })
}

// Broker owns the signaling records. A record is acquired by Open and
// released exactly once: when its EndSignal fires, when a participating
// connection tears down, or when Sweep finds it abandoned.
type Broker struct {
	log logger.Logger
	now func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*Signaler
}

func NewBroker(log logger.Logger) *Broker {
	return &Broker{
		log:      log,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*Signaler),
	}
}

// Open creates the record for a session. A zero id gets a fresh one. An id
// already in use is overwritten; the earlier record becomes unreachable and
// its waiters are not notified.
func (b *Broker) Open(id uuid.UUID, participants ...string) *Signaler {
	if id == uuid.Nil {
		id = uuid.New()
	}

	s := newSignaler(id, b.now(), participants)

	b.mu.Lock()
	previous, replaced := b.sessions[id]
	b.sessions[id] = s
	b.mu.Unlock()

	if replaced {
		previous.retire()
		b.log.Warn().Str("session_id", id.String()).Msg("Session id reused; replacing signaling record")
	}

	go b.releaseOnEnd(s)

	return s
}

// releaseOnEnd takes one EndSignal permit and removes the record. It exits
// without touching the record once the record is removed or replaced.
func (b *Broker) releaseOnEnd(s *Signaler) {
	defer close(s.watcherDone)

	select {
	case <-s.EndSignal.C():
		b.remove(s)
	case <-s.done:
	case <-s.retired:
	}
}

// Lookup finds a live record. Absence means the session ended or never
// existed.
func (b *Broker) Lookup(id uuid.UUID) (*Signaler, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[id]

	return s, ok
}

// remove deletes s only if it is still the record stored under its id.
func (b *Broker) remove(s *Signaler) bool {
	b.mu.Lock()

	current, ok := b.sessions[s.SessionID]
	removed := ok && current == s

	if removed {
		delete(b.sessions, s.SessionID)
	}

	b.mu.Unlock()

	s.close()

	return removed
}

// Release removes session id if connectionID participates in it. It is a
// no-op for unknown ids and for records opened by other connections.
func (b *Broker) Release(id uuid.UUID, connectionID string) bool {
	s, ok := b.Lookup(id)
	if !ok || !s.involves(connectionID) {
		return false
	}

	return b.remove(s)
}

// Sweep removes records older than maxAge whose viewer never attached.
func (b *Broker) Sweep(maxAge time.Duration) int {
	cutoff := b.now().Add(-maxAge)

	b.mu.Lock()

	var stale []*Signaler

	for id, s := range b.sessions {
		if !s.Started() && s.CreatedAt.Before(cutoff) {
			delete(b.sessions, id)
			stale = append(stale, s)
		}
	}

	b.mu.Unlock()

	for _, s := range stale {
		s.close()
	}

	if len(stale) > 0 {
		b.log.Debug().Int("count", len(stale)).Msg("Swept abandoned streaming sessions")
	}

	return len(stale)
}

// Count is the number of live records.
func (b *Broker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.sessions)
}

// Run sweeps on interval until ctx is cancelled.
func (b *Broker) Run(ctx context.Context, interval, maxAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.Sweep(maxAge)
		}
	}
}
