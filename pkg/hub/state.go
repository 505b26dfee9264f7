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
	"net"
	"sync"
	"time"

	"github.com/carverauto/relay/pkg/models"
	"github.com/google/uuid"
)

// Role is the kind of peer on the other end of a connection.
type Role int

const (
	RoleAgent Role = iota + 1
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleAgent:
		return "agent"
	case RoleViewer:
		return "viewer"
	default:
		return "unknown"
	}
}

// ConnState is the typed per-connection context. It is created when the
// transport connects and discarded when it closes. Background broadcasts can
// touch it while a call is in flight, so every mutable field is guarded.
type ConnState struct {
	id          string
	role        Role
	identity    *models.Claims
	remoteIP    net.IP
	connectedAt time.Time

	// Device is the last snapshot accepted from this agent connection.
	Device DeviceCache

	mu       sync.Mutex
	tenantID uuid.UUID
	sessions map[uuid.UUID]struct{}

	conn *Conn
}

// NewConnState allocates state for a connection that has just been accepted.
func NewConnState(id string, role Role, identity *models.Claims, remoteIP net.IP, connectedAt time.Time) *ConnState {
	return &ConnState{
		id:          id,
		role:        role,
		identity:    identity,
		remoteIP:    remoteIP,
		connectedAt: connectedAt,
		sessions:    make(map[uuid.UUID]struct{}),
	}
}

func (s *ConnState) ID() string               { return s.id }
func (s *ConnState) Role() Role               { return s.role }
func (s *ConnState) Identity() *models.Claims { return s.identity }
func (s *ConnState) RemoteIP() net.IP         { return s.remoteIP }
func (s *ConnState) ConnectedAt() time.Time   { return s.connectedAt }

// TenantID is the tenant resolved for this connection, or uuid.Nil.
func (s *ConnState) TenantID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tenantID
}

func (s *ConnState) SetTenantID(id uuid.UUID) {
	s.mu.Lock()
	s.tenantID = id
	s.mu.Unlock()
}

// OwnSession records that this connection created a brokered session and is
// responsible for releasing it on teardown.
func (s *ConnState) OwnSession(id uuid.UUID) {
	s.mu.Lock()
	s.sessions[id] = struct{}{}
	s.mu.Unlock()
}

// ReleaseSession forgets a session that ended on its own.
func (s *ConnState) ReleaseSession(id uuid.UUID) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// OwnedSessions returns a copy of the owned session ids.
func (s *ConnState) OwnedSessions() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]uuid.UUID, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}

	return out
}

// DeviceCache holds one device snapshot by value. Set and Get copy, so a
// cached snapshot never shares memory with a payload being broadcast.
type DeviceCache struct {
	mu     sync.Mutex
	device models.Device
	ok     bool
}

func (c *DeviceCache) Set(device models.Device) {
	c.mu.Lock()
	c.device = device.Clone()
	c.ok = true
	c.mu.Unlock()
}

// Get returns the cached snapshot, if an update was ever accepted.
func (c *DeviceCache) Get() (models.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ok {
		return models.Device{}, false
	}

	return c.device.Clone(), true
}

func (c *DeviceCache) Clear() {
	c.mu.Lock()
	c.device = models.Device{}
	c.ok = false
	c.mu.Unlock()
}
