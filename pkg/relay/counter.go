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

package relay

import "sync/atomic"

// ConnectionCounter tracks live agent and viewer connections.
type ConnectionCounter struct {
	agents  atomic.Int64
	viewers atomic.Int64
}

func (c *ConnectionCounter) IncrementAgents() int64 {
	n := c.agents.Add(1)
	observeConnections(c)

	return n
}

func (c *ConnectionCounter) DecrementAgents() int64 {
	n := c.agents.Add(-1)
	observeConnections(c)

	return n
}

func (c *ConnectionCounter) IncrementViewers() int64 {
	n := c.viewers.Add(1)
	observeConnections(c)

	return n
}

func (c *ConnectionCounter) DecrementViewers() int64 {
	n := c.viewers.Add(-1)
	observeConnections(c)

	return n
}

func (c *ConnectionCounter) Agents() int64 { return c.agents.Load() }

func (c *ConnectionCounter) Viewers() int64 { return c.viewers.Load() }
