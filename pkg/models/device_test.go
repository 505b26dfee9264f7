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
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithOnlineDoesNotAliasSource(t *testing.T) {
	tag := uuid.New()
	base := Device{ID: uuid.New(), DeviceFacts: DeviceFacts{TagIDs: []uuid.UUID{tag}}}
	now := time.Now()

	online := base.WithOnline("conn-1", now)
	online.TagIDs[0] = uuid.Nil

	assert.True(t, online.IsOnline)
	assert.Equal(t, "conn-1", online.ConnectionID)
	assert.Equal(t, now, online.LastSeen)
	assert.False(t, base.IsOnline)
	assert.Equal(t, tag, base.TagIDs[0])
}

func TestWithOfflineClearsConnection(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	d := Device{ID: uuid.New()}.WithOnline("conn-1", at.Add(-time.Hour))

	offline := d.WithOffline(at)

	assert.False(t, offline.IsOnline)
	assert.Empty(t, offline.ConnectionID)
	assert.Equal(t, at, offline.LastSeen)
	assert.Equal(t, "conn-1", d.ConnectionID)
}

func TestWithPublicIP(t *testing.T) {
	tests := []struct {
		name   string
		ip     net.IP
		wantV4 string
		wantV6 string
	}{
		{name: "ipv4", ip: net.ParseIP("203.0.113.7"), wantV4: "203.0.113.7"},
		{name: "ipv6", ip: net.ParseIP("2001:db8::1"), wantV6: "2001:db8::1"},
		{name: "nil", ip: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Device{}.WithPublicIP(tt.ip)
			assert.Equal(t, tt.wantV4, d.PublicIPV4)
			assert.Equal(t, tt.wantV6, d.PublicIPV6)
		})
	}
}

func TestToDeviceCopiesFacts(t *testing.T) {
	req := DeviceUpdateRequest{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		DeviceFacts: DeviceFacts{Name: "host-a", MacAddresses: []string{"aa:bb"}},
	}

	d := req.ToDevice()
	req.MacAddresses[0] = "changed"

	require.Equal(t, req.ID, d.ID)
	assert.Equal(t, req.TenantID, d.TenantID)
	assert.Equal(t, "host-a", d.Name)
	assert.Equal(t, []string{"aa:bb"}, d.MacAddresses)
}

func TestUsagePercentages(t *testing.T) {
	d := Device{DeviceFacts: DeviceFacts{TotalMemoryGB: 16, UsedMemoryGB: 4}}

	assert.InDelta(t, 0.25, d.UsedMemoryPercent(), 1e-9)
	assert.Zero(t, d.UsedStoragePercent())
}
