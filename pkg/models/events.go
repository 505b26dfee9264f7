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

package models

import (
	"time"

	"github.com/google/uuid"
)

// CloudEvent is the CloudEvents 1.0 envelope used on the event stream.
type CloudEvent struct {
	SpecVersion     string     `json:"specversion"`
	ID              string     `json:"id"`
	Source          string     `json:"source"`
	Type            string     `json:"type"`
	DataContentType string     `json:"datacontenttype"`
	Subject         string     `json:"subject,omitempty"`
	Time            *time.Time `json:"time,omitempty"`
	Data            any        `json:"data,omitempty"`
}

// PresenceState is the transition a presence event reports.
type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
)

// DevicePresenceEventData is the payload of a device presence event.
type DevicePresenceEventData struct {
	DeviceID     uuid.UUID     `json:"device_id"`
	TenantID     uuid.UUID     `json:"tenant_id"`
	Name         string        `json:"name"`
	State        PresenceState `json:"state"`
	ConnectionID string        `json:"connection_id,omitempty"`
	PublicIPV4   string        `json:"public_ip_v4,omitempty"`
	PublicIPV6   string        `json:"public_ip_v6,omitempty"`
	AgentVersion string        `json:"agent_version,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// NewPresenceEventData builds the payload for a device snapshot.
func NewPresenceEventData(d Device, state PresenceState, at time.Time) DevicePresenceEventData {
	return DevicePresenceEventData{
		DeviceID:     d.ID,
		TenantID:     d.TenantID,
		Name:         d.Name,
		State:        state,
		ConnectionID: d.ConnectionID,
		PublicIPV4:   d.PublicIPV4,
		PublicIPV6:   d.PublicIPV6,
		AgentVersion: d.AgentVersion,
		Timestamp:    at,
	}
}
