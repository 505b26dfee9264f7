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

import "context"

// signalPermits is how many waiters a signal can satisfy: the two ends of a
// streaming session each take one.
const signalPermits = 2

// Signal is a counting signal with room for two permits. Release never
// blocks; permits beyond the capacity are dropped.
type Signal struct {
	ch chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, signalPermits)}
}

// Release adds a permit and reports whether there was room for it.
func (s *Signal) Release() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Wait takes a permit or returns ctx.Err().
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C exposes the permit channel for use in select statements. Receiving
// from it takes a permit.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}
