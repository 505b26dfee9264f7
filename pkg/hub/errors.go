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
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned for sends and invocations on a
	// connection that has gone away.
	ErrConnectionClosed = errors.New("hub: connection closed")
	// ErrClientNotFound means no live connection has the requested id.
	ErrClientNotFound = errors.New("hub: client not found")
	// ErrSendQueueFull is returned when a peer stops draining its queue.
	// The connection is closed when this happens.
	ErrSendQueueFull = errors.New("hub: send queue full")

	errMissingArgument = errors.New("hub: missing argument")
	errHandlerPanic    = errors.New("hub: handler panicked")
	errUnknownTarget   = errors.New("hub: unknown target")
)

// RemoteError carries the error text of a failed Completion.
type RemoteError struct {
	Target  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("hub: remote %s failed: %s", e.Target, e.Message)
}
