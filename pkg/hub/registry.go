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
	"sort"
	"sync"
)

// Registry tracks live connections and their group memberships. Groups are
// indexed both ways so a disconnect can evict every membership at once.
type Registry struct {
	mu          sync.RWMutex
	conns       map[string]*ConnState
	groups      map[string]map[string]struct{}
	memberships map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:       make(map[string]*ConnState),
		groups:      make(map[string]map[string]struct{}),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Add registers a connection. Re-adding an id replaces its state but keeps
// existing memberships.
func (r *Registry) Add(state *ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[state.ID()] = state

	if _, ok := r.memberships[state.ID()]; !ok {
		r.memberships[state.ID()] = make(map[string]struct{})
	}
}

// Remove unregisters a connection and drops all of its group memberships.
func (r *Registry) Remove(id string) (*ConnState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.conns[id]
	if !ok {
		return nil, false
	}

	for group := range r.memberships[id] {
		r.leaveLocked(id, group)
	}

	delete(r.memberships, id)
	delete(r.conns, id)

	return state, true
}

func (r *Registry) Get(id string) (*ConnState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.conns[id]

	return state, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// AddToGroup joins a registered connection to a group. Joining twice is the
// same as joining once.
func (r *Registry) AddToGroup(id, group string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		return ErrClientNotFound
	}

	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]struct{})
		r.groups[group] = members
	}

	members[id] = struct{}{}
	r.memberships[id][group] = struct{}{}

	return nil
}

// RemoveFromGroup is a no-op for non-members.
func (r *Registry) RemoveFromGroup(id, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(id, group)
}

func (r *Registry) leaveLocked(id, group string) {
	if members, ok := r.groups[group]; ok {
		delete(members, id)

		if len(members) == 0 {
			delete(r.groups, group)
		}
	}

	if joined, ok := r.memberships[id]; ok {
		delete(joined, group)
	}
}

// GroupsOf returns the sorted group names a connection belongs to.
func (r *Registry) GroupsOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.memberships[id]))
	for group := range r.memberships[id] {
		out = append(out, group)
	}

	sort.Strings(out)

	return out
}

// GroupSize is the number of connections in a group.
func (r *Registry) GroupSize(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.groups[group])
}

// Members resolves every connection in any of the named groups. Each
// connection appears once no matter how many of the groups it joined.
func (r *Registry) Members(groups ...string) []*ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	out := make([]*ConnState, 0)

	for _, group := range groups {
		for id := range r.groups[group] {
			if _, dup := seen[id]; dup {
				continue
			}

			seen[id] = struct{}{}

			if state, ok := r.conns[id]; ok {
				out = append(out, state)
			}
		}
	}

	return out
}

// All returns every registered connection.
func (r *Registry) All() []*ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ConnState, 0, len(r.conns))
	for _, state := range r.conns {
		out = append(out, state)
	}

	return out
}
