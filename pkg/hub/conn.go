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

package hub

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/relay/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 1 << 20
	defaultSendQueueSize  = 256
	callQueueSize         = 64
)

// Conn is the transport side of one hub connection: a websocket with a
// buffered outbound queue, a sequential call queue and a table of pending
// reverse invocations.
type Conn struct {
	ws    *websocket.Conn
	codec Codec
	state *ConnState
	log   logger.Logger

	send   chan []byte
	calls  chan Message
	closed chan struct{}
	once   sync.Once

	pendingMu sync.Mutex
	pending   map[string]chan Message
	nextID    atomic.Uint64

	pongWait       time.Duration
	maxMessageSize int64
}

type connOptions struct {
	sendQueueSize  int
	pongWait       time.Duration
	maxMessageSize int64
}

func newConn(ws *websocket.Conn, codec Codec, state *ConnState, log logger.Logger, opts connOptions) *Conn {
	if opts.sendQueueSize <= 0 {
		opts.sendQueueSize = defaultSendQueueSize
	}

	if opts.pongWait <= 0 {
		opts.pongWait = defaultPongWait
	}

	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}

	c := &Conn{
		ws:             ws,
		codec:          codec,
		state:          state,
		log:            log,
		send:           make(chan []byte, opts.sendQueueSize),
		calls:          make(chan Message, callQueueSize),
		closed:         make(chan struct{}),
		pending:        make(map[string]chan Message),
		pongWait:       opts.pongWait,
		maxMessageSize: opts.maxMessageSize,
	}

	state.conn = c

	return c
}

func (c *Conn) Codec() Codec { return c.codec }

// Done is closed once the connection is shut down.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Close asks the write pump to send a close frame and tear the socket down.
// It is safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.closed)
	})
}

// enqueue hands an encoded frame to the write pump. Frames enqueued by one
// sender are written in order. A peer that lets its queue fill is dropped.
func (c *Conn) enqueue(data []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	default:
		c.log.Warn().Str("connection_id", c.state.ID()).Msg("Send queue full, closing slow connection")
		c.Close()

		return ErrSendQueueFull
	}
}

// Send writes a fire-and-forget invocation.
func (c *Conn) Send(target string, args ...any) error {
	data, err := encodeInvocation(c.codec, "", target, args)
	if err != nil {
		return err
	}

	return c.enqueue(data)
}

// Invoke calls target on the peer and waits for its Completion. The result
// is decoded into out when out is non-nil.
func (c *Conn) Invoke(ctx context.Context, target string, out any, args ...any) error {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan Message, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	data, err := encodeInvocation(c.codec, id, target, args)
	if err != nil {
		return err
	}

	if err := c.enqueue(data); err != nil {
		return err
	}

	select {
	case msg := <-ch:
		if msg.Error != "" {
			return &RemoteError{Target: target, Message: msg.Error}
		}

		if out == nil || len(msg.Result) == 0 {
			return nil
		}

		return c.codec.Unmarshal(msg.Result, out)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrConnectionClosed
	}
}

// complete answers an invocation made by the peer.
func (c *Conn) complete(invocationID string, result any, callErr string) error {
	msg := Message{Type: CompletionMessage, InvocationID: invocationID, Error: callErr}

	if callErr == "" && result != nil {
		raw, err := c.codec.Marshal(result)
		if err != nil {
			return err
		}

		msg.Result = raw
	}

	data, err := c.codec.Marshal(msg)
	if err != nil {
		return err
	}

	return c.enqueue(data)
}

func (c *Conn) resolve(msg Message) {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.InvocationID]
	c.pendingMu.Unlock()

	if !ok {
		c.log.Debug().
			Str("connection_id", c.state.ID()).
			Str("invocation_id", msg.InvocationID).
			Msg("Completion for unknown invocation")

		return
	}

	ch <- msg
}

// readPump reads frames until the transport fails or the peer sends Close.
// Completions are routed here directly; invocations are queued for the
// call loop so a slow handler never blocks reverse-call results.
func (c *Conn) readPump() error {
	defer close(c.calls)

	c.ws.SetReadLimit(c.maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}

			select {
			case <-c.closed:
				return nil
			default:
			}

			return err
		}

		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))

		var msg Message
		if err := c.codec.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Str("connection_id", c.state.ID()).Msg("Failed to decode frame")
			continue
		}

		switch msg.Type {
		case CompletionMessage:
			c.resolve(msg)
		case InvocationMessage:
			select {
			case c.calls <- msg:
			case <-c.closed:
				return nil
			}
		case PingMessage:
		case CloseMessage:
			return nil
		default:
			c.log.Debug().Int("type", int(msg.Type)).Msg("Ignoring unknown frame type")
		}
	}
}

// writePump drains the send queue and keeps the peer alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker((c.pongWait * 9) / 10)

	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.ws.WriteMessage(c.codec.FrameType(), data); err != nil {
				c.log.Debug().Err(err).Str("connection_id", c.state.ID()).Msg("Write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))

			return
		}
	}
}
