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

// Package hub implements a small RPC hub over websockets: named targets
// invoked by connected peers, reverse calls from the server, and group
// fan-out tracked by a connection registry.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/relay/pkg/logger"
	"github.com/carverauto/relay/pkg/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// HandlerFunc serves one target. The returned value becomes the Completion
// result; a returned error or panic becomes the Completion error and the
// connection stays open.
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// ConnectHook runs after a connection is registered and before its first
// call is served.
type ConnectHook func(ctx context.Context, state *ConnState)

// DisconnectHook runs after the transport closed and the connection left
// the registry. err is nil for a clean close.
type DisconnectHook func(ctx context.Context, state *ConnState, err error)

// Options configures a Hub.
type Options struct {
	Role           Role
	Logger         logger.Logger
	InvokeTimeout  time.Duration
	SendQueueSize  int
	MaxMessageSize int64
	PongWait       time.Duration
	CheckOrigin    func(r *http.Request) bool
	Now            func() time.Time
}

// Hub terminates websocket connections of one role.
type Hub struct {
	name     string
	role     Role
	log      logger.Logger
	registry *Registry
	upgrader websocket.Upgrader
	opts     Options

	mu             sync.RWMutex
	handlers       map[string]HandlerFunc
	onConnected    ConnectHook
	onDisconnected DisconnectHook
}

// New builds an empty hub. Register targets with Handle before serving.
func New(name string, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Hub{
		name:     name,
		role:     opts.Role,
		log:      opts.Logger,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    Subprotocols(),
			CheckOrigin:     opts.CheckOrigin,
		},
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
	}
}

func (h *Hub) Name() string { return h.name }

func (h *Hub) Registry() *Registry { return h.registry }

// Handle registers fn for target, replacing any previous handler.
func (h *Hub) Handle(target string, fn HandlerFunc) {
	h.mu.Lock()
	h.handlers[target] = fn
	h.mu.Unlock()
}

func (h *Hub) OnConnected(fn ConnectHook) {
	h.mu.Lock()
	h.onConnected = fn
	h.mu.Unlock()
}

func (h *Hub) OnDisconnected(fn DisconnectHook) {
	h.mu.Lock()
	h.onDisconnected = fn
	h.mu.Unlock()
}

func (h *Hub) handler(target string) (HandlerFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	fn, ok := h.handlers[target]

	return fn, ok
}

func (h *Hub) hooks() (ConnectHook, DisconnectHook) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.onConnected, h.onDisconnected
}

// ServeWS upgrades the request and serves the connection until it closes.
// identity is attached to the connection state as-is; nil is allowed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, identity *models.Claims) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().
			Err(err).
			Str("hub", h.name).
			Str("remote_addr", r.RemoteAddr).
			Str("origin", r.Header.Get("Origin")).
			Msg("Failed to upgrade to WebSocket")

		return
	}

	// Calls outlive the HTTP request context; forwarded calls are bounded by
	// the invoke timeout instead.
	ctx := context.WithoutCancel(r.Context())

	state := NewConnState(uuid.NewString(), h.role, identity, RemoteIP(r), h.opts.Now())
	conn := newConn(ws, negotiateCodec(ws.Subprotocol(), r), state, h.log, connOptions{
		sendQueueSize:  h.opts.SendQueueSize,
		pongWait:       h.opts.PongWait,
		maxMessageSize: h.opts.MaxMessageSize,
	})

	h.registry.Add(state)
	recordConnection(ctx, h.name, 1)

	h.log.Debug().
		Str("hub", h.name).
		Str("connection_id", state.ID()).
		Str("codec", conn.Codec().Name()).
		Str("remote_ip", ipString(state.RemoteIP())).
		Msg("Connection established")

	go conn.writePump()

	onConnected, onDisconnected := h.hooks()
	if onConnected != nil {
		h.runHook("connect", state, func() { onConnected(ctx, state) })
	}

	loopDone := make(chan struct{})

	go func() {
		defer close(loopDone)
		h.callLoop(ctx, conn)
	}()

	readErr := conn.readPump()

	conn.Close()
	<-loopDone

	h.registry.Remove(state.ID())
	recordConnection(ctx, h.name, -1)

	if readErr != nil {
		h.log.Debug().Err(readErr).Str("connection_id", state.ID()).Msg("Connection closed with error")
	}

	if onDisconnected != nil {
		h.runHook("disconnect", state, func() { onDisconnected(ctx, state, readErr) })
	}
}

// Close shuts down every live connection.
func (h *Hub) Close() {
	for _, state := range h.registry.All() {
		if state.conn != nil {
			state.conn.Close()
		}
	}
}

func (h *Hub) runHook(kind string, state *ConnState, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().
				Str("hub", h.name).
				Str("hook", kind).
				Str("connection_id", state.ID()).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Connection hook panicked")
		}
	}()

	fn()
}

// callLoop serves one call at a time for a connection. Calls still queued
// when the connection closes are dropped.
func (h *Hub) callLoop(ctx context.Context, conn *Conn) {
	for msg := range conn.calls {
		select {
		case <-conn.Done():
			continue
		default:
		}

		h.dispatch(ctx, conn, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, conn *Conn, msg Message) {
	start := time.Now()
	call := &Call{hub: h, conn: conn, msg: msg}

	var (
		result any
		err    error
	)

	if fn, ok := h.handler(msg.Target); ok {
		result, err = h.safeCall(ctx, fn, call)
	} else {
		err = fmt.Errorf("%w: %s", errUnknownTarget, msg.Target)
	}

	recordCall(ctx, h.name, msg.Target, err != nil, time.Since(start))

	if err != nil {
		h.log.Error().
			Err(err).
			Str("hub", h.name).
			Str("target", msg.Target).
			Str("connection_id", conn.state.ID()).
			Msg("Hub call failed")
	}

	if msg.InvocationID == "" {
		return
	}

	errText := ""
	if err != nil {
		errText = completionError(msg.Target, err)
	}

	if cerr := conn.complete(msg.InvocationID, result, errText); cerr != nil {
		h.log.Debug().Err(cerr).Str("target", msg.Target).Msg("Failed to send completion")
	}
}

func (h *Hub) safeCall(ctx context.Context, fn HandlerFunc, call *Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().
				Str("hub", h.name).
				Str("target", call.Target()).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Hub handler panicked")

			result = nil
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()

	return fn(ctx, call)
}

// completionError keeps server internals out of the error text sent to peers.
func completionError(target string, err error) string {
	if errors.Is(err, errUnknownTarget) {
		return fmt.Sprintf("Unknown method '%s'.", target)
	}

	return fmt.Sprintf("An unexpected error occurred invoking '%s' on the server.", target)
}

// RemoteIP prefers the first X-Forwarded-For hop and falls back to the
// socket address.
func RemoteIP(r *http.Request) net.IP {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	return net.ParseIP(host)
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}

	return ip.String()
}

// Call is one inbound invocation.
type Call struct {
	hub  *Hub
	conn *Conn
	msg  Message
}

func (c *Call) Target() string { return c.msg.Target }

func (c *Call) ConnectionID() string { return c.conn.state.ID() }

func (c *Call) State() *ConnState { return c.conn.state }

func (c *Call) Identity() *models.Claims { return c.conn.state.Identity() }

// Bind decodes the call arguments positionally into dst.
func (c *Call) Bind(dst ...any) error {
	for i, d := range dst {
		if i >= len(c.msg.Arguments) {
			return fmt.Errorf("%w: %s expects %d arguments, got %d",
				errMissingArgument, c.msg.Target, len(dst), len(c.msg.Arguments))
		}

		if err := c.conn.codec.Unmarshal(c.msg.Arguments[i], d); err != nil {
			return fmt.Errorf("failed to decode argument %d of %s: %w", i, c.msg.Target, err)
		}
	}

	return nil
}
