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
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/carverauto/relay/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	BridgeRoleViewer = "viewer"
	BridgeRoleAgent  = "agent"

	defaultViewerWait = 30 * time.Second
	bridgeWriteWait   = 10 * time.Second
	streamChunkSize   = 32 * 1024
)

// Bridge pairs the viewer and agent websockets of a brokered session and
// copies frames between them.
type Bridge struct {
	broker     *Broker
	log        logger.Logger
	upgrader   websocket.Upgrader
	viewerWait time.Duration
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// ViewerWait bounds how long the agent side waits for the viewer.
	ViewerWait  time.Duration
	CheckOrigin func(r *http.Request) bool
}

func NewBridge(broker *Broker, log logger.Logger, opts BridgeOptions) *Bridge {
	if opts.ViewerWait <= 0 {
		opts.ViewerWait = defaultViewerWait
	}

	return &Bridge{
		broker: broker,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		viewerWait: opts.ViewerWait,
	}
}

// Serve handles one side of the bridge for sessionID. Unknown sessions and
// roles are rejected before the upgrade.
func (b *Bridge) Serve(w http.ResponseWriter, r *http.Request, sessionID, role string) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	if role != BridgeRoleViewer && role != BridgeRoleAgent {
		http.Error(w, "invalid bridge role", http.StatusBadRequest)
		return
	}

	signaler, ok := b.broker.Lookup(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to upgrade bridge connection")
		return
	}

	ctx := r.Context()

	if role == BridgeRoleViewer {
		b.serveViewer(ctx, signaler, ws)
		return
	}

	b.serveAgent(ctx, signaler, ws)
}

// serveViewer parks the viewer socket on the record and holds the request
// open until the agent side finishes.
func (b *Bridge) serveViewer(ctx context.Context, s *Signaler, ws *websocket.Conn) {
	defer func() { _ = ws.Close() }()

	if err := s.AttachViewer(ws); err != nil {
		b.log.Warn().Str("session_id", s.SessionID.String()).Msg("Second viewer rejected for session")
		closeWith(ws, websocket.ClosePolicyViolation, "viewer already attached")

		return
	}

	s.ViewerReady.Release()

	select {
	case <-s.EndSignal.C():
	case <-s.Done():
	case <-ctx.Done():
	}
}

// serveAgent waits for the viewer, pipes both directions, then releases
// the end signal for the viewer side and the broker.
func (b *Bridge) serveAgent(ctx context.Context, s *Signaler, agent *websocket.Conn) {
	defer func() { _ = agent.Close() }()

	waitCtx, cancel := context.WithTimeout(ctx, b.viewerWait)
	defer cancel()

	if err := s.ViewerReady.Wait(waitCtx); err != nil {
		b.log.Warn().Err(err).Str("session_id", s.SessionID.String()).Msg("Viewer never joined bridge")
		closeWith(agent, websocket.CloseTryAgainLater, "viewer did not connect")
		b.broker.remove(s)

		return
	}

	b.log.Info().Str("session_id", s.SessionID.String()).Msg("Bridge established")

	if viewer := s.Viewer(); viewer != nil {
		pipe(agent, viewer)
	} else if stream := s.Stream(); stream != nil {
		pipeStream(agent, stream)
	}

	s.EndSignal.Release()
	s.EndSignal.Release()

	b.log.Info().Str("session_id", s.SessionID.String()).Msg("Bridge closed")
}

// pipe copies frames both ways until either side fails, then closes both.
func pipe(a, b *websocket.Conn) {
	var (
		wg   sync.WaitGroup
		once sync.Once
	)

	stop := func() {
		once.Do(func() {
			_ = a.Close()
			_ = b.Close()
		})
	}

	copyFrames := func(dst, src *websocket.Conn) {
		defer wg.Done()
		defer stop()

		for {
			kind, data, err := src.ReadMessage()
			if err != nil {
				return
			}

			_ = dst.SetWriteDeadline(time.Now().Add(bridgeWriteWait))

			if err := dst.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}

	wg.Add(2)

	go copyFrames(a, b)
	go copyFrames(b, a)

	wg.Wait()
}

// pipeStream copies agent frames into stream and stream reads back to the
// agent as binary frames until either side fails, then closes both.
func pipeStream(agent *websocket.Conn, stream io.ReadWriteCloser) {
	var (
		wg   sync.WaitGroup
		once sync.Once
	)

	stop := func() {
		once.Do(func() {
			_ = agent.Close()
			_ = stream.Close()
		})
	}

	wg.Add(2)

	go func() {
		defer wg.Done()
		defer stop()

		for {
			_, data, err := agent.ReadMessage()
			if err != nil {
				return
			}

			if _, err := stream.Write(data); err != nil {
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		defer stop()

		buf := make([]byte, streamChunkSize)

		for {
			n, err := stream.Read(buf)
			if n > 0 {
				_ = agent.SetWriteDeadline(time.Now().Add(bridgeWriteWait))

				if werr := agent.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}

			if err != nil {
				return
			}
		}
	}()

	wg.Wait()
}

func closeWith(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(bridgeWriteWait))
}
