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

// Package hubtest provides a JSON websocket peer for exercising hubs in tests.
package hubtest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/relay/pkg/hub"
	"github.com/gorilla/websocket"
)

var (
	errClosed  = errors.New("hubtest: client closed")
	errTimeout = errors.New("hubtest: timed out waiting for invocation")
)

// HandlerFunc answers a reverse call made by the server.
type HandlerFunc func(args []hub.RawValue) (any, error)

// Client is a test peer. Invocations without a registered handler are
// queued and read with Next or Expect.
type Client struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu          sync.Mutex
	handlers    map[string]HandlerFunc
	completions map[string]chan hub.Message

	inbox  chan hub.Message
	done   chan struct{}
	nextID atomic.Uint64
}

// Dial connects to an http:// or ws:// hub URL using the JSON codec.
func Dial(url string, header http.Header) (*Client, error) {
	url = strings.Replace(url, "http://", "ws://", 1)

	dialer := websocket.Dialer{
		Subprotocols:     []string{hub.SubprotocolJSON},
		HandshakeTimeout: 5 * time.Second,
	}

	ws, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, err
	}

	c := &Client{
		ws:          ws,
		handlers:    make(map[string]HandlerFunc),
		completions: make(map[string]chan hub.Message),
		inbox:       make(chan hub.Message, 256),
		done:        make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

// Handle answers invocations of target with fn.
func (c *Client) Handle(target string, fn HandlerFunc) {
	c.mu.Lock()
	c.handlers[target] = fn
	c.mu.Unlock()
}

// Invoke calls a hub target and decodes the completion result into out.
func (c *Client) Invoke(ctx context.Context, target string, out any, args ...any) error {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan hub.Message, 1)

	c.mu.Lock()
	c.completions[id] = ch
	c.mu.Unlock()

	if err := c.write(hub.InvocationMessage, id, target, args); err != nil {
		return err
	}

	select {
	case msg := <-ch:
		if msg.Error != "" {
			return &hub.RemoteError{Target: target, Message: msg.Error}
		}

		if out == nil || len(msg.Result) == 0 {
			return nil
		}

		return json.Unmarshal(msg.Result, out)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errClosed
	}
}

// Send calls a hub target without waiting for a result.
func (c *Client) Send(target string, args ...any) error {
	return c.write(hub.InvocationMessage, "", target, args)
}

// Next returns the next queued invocation.
func (c *Client) Next(ctx context.Context) (hub.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-ctx.Done():
		return hub.Message{}, ctx.Err()
	case <-c.done:
		return hub.Message{}, errClosed
	}
}

// Expect waits for an invocation of target, discarding others.
func (c *Client) Expect(target string, timeout time.Duration) (hub.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		msg, err := c.Next(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return hub.Message{}, errTimeout
			}

			return hub.Message{}, err
		}

		if msg.Target == target {
			return msg, nil
		}
	}
}

// Count drains queued invocations for the given window and counts those
// addressed to target.
func (c *Client) Count(target string, window time.Duration) int {
	timer := time.NewTimer(window)
	defer timer.Stop()

	n := 0

	for {
		select {
		case msg := <-c.inbox:
			if msg.Target == target {
				n++
			}
		case <-timer.C:
			return n
		case <-c.done:
			return n
		}
	}
}

// Close sends a close frame and tears the socket down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.ws.Close()
}

// Done is closed when the server side goes away.
func (c *Client) Done() <-chan struct{} { return c.done }

// Decode unmarshals one JSON argument.
func Decode(raw hub.RawValue, out any) error {
	return json.Unmarshal(raw, out)
}

func (c *Client) write(kind hub.MessageType, id, target string, args []any) error {
	arguments := make([]hub.RawValue, 0, len(args))

	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return err
		}

		arguments = append(arguments, data)
	}

	return c.writeMessage(hub.Message{Type: kind, InvocationID: id, Target: target, Arguments: arguments})
}

func (c *Client) writeMessage(msg hub.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg hub.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case hub.CompletionMessage:
			c.mu.Lock()
			ch, ok := c.completions[msg.InvocationID]
			delete(c.completions, msg.InvocationID)
			c.mu.Unlock()

			if ok {
				ch <- msg
			}
		case hub.InvocationMessage:
			c.mu.Lock()
			fn, ok := c.handlers[msg.Target]
			c.mu.Unlock()

			if !ok {
				c.inbox <- msg
				continue
			}

			go c.answer(msg, fn)
		case hub.PingMessage, hub.CloseMessage:
		}
	}
}

func (c *Client) answer(msg hub.Message, fn HandlerFunc) {
	result, err := fn(msg.Arguments)
	if msg.InvocationID == "" {
		return
	}

	reply := hub.Message{Type: hub.CompletionMessage, InvocationID: msg.InvocationID}

	if err != nil {
		reply.Error = err.Error()
	} else if result != nil {
		data, merr := json.Marshal(result)
		if merr != nil {
			reply.Error = merr.Error()
		} else {
			reply.Result = data
		}
	}

	_ = c.writeMessage(reply)
}
