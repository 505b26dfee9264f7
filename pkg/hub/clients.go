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
)

// Clients addresses connections of a hub by id, group or globally.
type Clients struct {
	hub *Hub
}

func (h *Hub) Clients() *Clients {
	return &Clients{hub: h}
}

// Client addresses a single connection. The id is resolved at send time.
func (c *Clients) Client(id string) *ClientProxy {
	return &ClientProxy{hub: c.hub, id: id}
}

// Caller addresses the connection that made call.
func (c *Clients) Caller(call *Call) *ClientProxy {
	return c.Client(call.ConnectionID())
}

func (c *Clients) Group(name string) *Broadcaster {
	return c.Groups(name)
}

// Groups addresses the union of the named groups. A connection that belongs
// to several of them receives each broadcast once.
func (c *Clients) Groups(names ...string) *Broadcaster {
	return &Broadcaster{hub: c.hub, resolve: func() []*ConnState {
		return c.hub.registry.Members(names...)
	}}
}

// All addresses every connection of the hub.
func (c *Clients) All() *Broadcaster {
	return &Broadcaster{hub: c.hub, resolve: c.hub.registry.All}
}

// ClientProxy sends to or invokes a single connection.
type ClientProxy struct {
	hub *Hub
	id  string
}

func (p *ClientProxy) conn() (*Conn, error) {
	state, ok := p.hub.registry.Get(p.id)
	if !ok || state.conn == nil {
		return nil, ErrClientNotFound
	}

	return state.conn, nil
}

// Send delivers a fire-and-forget invocation.
func (p *ClientProxy) Send(target string, args ...any) error {
	conn, err := p.conn()
	if err != nil {
		return err
	}

	return conn.Send(target, args...)
}

// Invoke calls target on the peer and decodes its result into out. The hub's
// invoke timeout applies when ctx carries no deadline.
func (p *ClientProxy) Invoke(ctx context.Context, target string, out any, args ...any) error {
	conn, err := p.conn()
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok && p.hub.opts.InvokeTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.hub.opts.InvokeTimeout)
		defer cancel()
	}

	return conn.Invoke(ctx, target, out, args...)
}

// Broadcaster sends one invocation to a resolved set of connections.
type Broadcaster struct {
	hub     *Hub
	resolve func() []*ConnState
}

// Send enqueues target on every resolved connection and returns how many
// accepted it. Frames are encoded once per codec. Per-connection failures
// are logged and skipped.
func (b *Broadcaster) Send(target string, args ...any) int {
	encoded := make(map[string][]byte, 2)
	delivered := 0

	for _, state := range b.resolve() {
		conn := state.conn
		if conn == nil {
			continue
		}

		data, ok := encoded[conn.codec.Name()]
		if !ok {
			var err error

			data, err = encodeInvocation(conn.codec, "", target, args)
			if err != nil {
				b.hub.log.Error().Err(err).Str("target", target).Msg("Failed to encode broadcast")
				return delivered
			}

			encoded[conn.codec.Name()] = data
		}

		if err := conn.enqueue(data); err != nil {
			b.hub.log.Debug().
				Err(err).
				Str("target", target).
				Str("connection_id", state.ID()).
				Msg("Broadcast skipped connection")

			continue
		}

		delivered++
	}

	recordFanout(context.Background(), b.hub.name, target, delivered)

	return delivered
}
