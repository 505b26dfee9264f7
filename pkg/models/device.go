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
	"slices"
	"time"

	"github.com/google/uuid"
)

// Platform identifies the operating system family an agent runs on.
type Platform int

const (
	PlatformUnknown Platform = iota
	PlatformWindows
	PlatformLinux
	PlatformMacOS
)

func (p Platform) String() string {
	switch p {
	case PlatformWindows:
		return "windows"
	case PlatformLinux:
		return "linux"
	case PlatformMacOS:
		return "macos"
	case PlatformUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// Drive describes one mounted volume on a device.
type Drive struct {
	Name          string  `json:"name"`
	DriveFormat   string  `json:"drive_format,omitempty"`
	DriveType     string  `json:"drive_type,omitempty"`
	RootDirectory string  `json:"root_directory,omitempty"`
	VolumeLabel   string  `json:"volume_label,omitempty"`
	FreeSpaceGB   float64 `json:"free_space_gb"`
	TotalSizeGB   float64 `json:"total_size_gb"`
}

// DeviceFacts is the hardware and OS inventory an agent collects.
type DeviceFacts struct {
	Name           string      `json:"name"`
	AgentVersion   string      `json:"agent_version"`
	CPUUtilization float64     `json:"cpu_utilization"`
	CurrentUsers   []string    `json:"current_users,omitempty"`
	Drives         []Drive     `json:"drives,omitempty"`
	Is64Bit        bool        `json:"is_64_bit"`
	MacAddresses   []string    `json:"mac_addresses,omitempty"`
	OSArchitecture string      `json:"os_architecture"`
	OSDescription  string      `json:"os_description"`
	Platform       Platform    `json:"platform"`
	ProcessorCount int         `json:"processor_count"`
	TotalMemoryGB  float64     `json:"total_memory_gb"`
	UsedMemoryGB   float64     `json:"used_memory_gb"`
	TotalStorageGB float64     `json:"total_storage_gb"`
	UsedStorageGB  float64     `json:"used_storage_gb"`
	TagIDs         []uuid.UUID `json:"tag_ids,omitempty"`
}

func (f DeviceFacts) clone() DeviceFacts {
	f.CurrentUsers = slices.Clone(f.CurrentUsers)
	f.Drives = slices.Clone(f.Drives)
	f.MacAddresses = slices.Clone(f.MacAddresses)
	f.TagIDs = slices.Clone(f.TagIDs)

	return f
}

// DeviceUpdateRequest is sent by an agent on connect and on every heartbeat.
type DeviceUpdateRequest struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	DeviceFacts
}

// Device is the server's snapshot of a device. Values are treated as
// immutable: every mutation goes through a With* method that returns a copy.
type Device struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	Alias        string    `json:"alias,omitempty"`
	IsOnline     bool      `json:"is_online"`
	LastSeen     time.Time `json:"last_seen"`
	ConnectionID string    `json:"connection_id,omitempty"`
	PublicIPV4   string    `json:"public_ip_v4,omitempty"`
	PublicIPV6   string    `json:"public_ip_v6,omitempty"`
	DeviceFacts
}

// ToDevice projects an agent report onto a fresh snapshot.
func (r DeviceUpdateRequest) ToDevice() Device {
	return Device{
		ID:          r.ID,
		TenantID:    r.TenantID,
		DeviceFacts: r.DeviceFacts.clone(),
	}
}

// Clone returns a deep copy that shares no slices with d.
func (d Device) Clone() Device {
	d.DeviceFacts = d.DeviceFacts.clone()
	return d
}

// WithOnline marks the snapshot as live on the given connection.
func (d Device) WithOnline(connectionID string, at time.Time) Device {
	out := d.Clone()
	out.IsOnline = true
	out.LastSeen = at
	out.ConnectionID = connectionID

	return out
}

// WithOffline returns the "went offline" snapshot. The connection id is
// cleared because it stops being valid once the connection is gone.
func (d Device) WithOffline(at time.Time) Device {
	out := d.Clone()
	out.IsOnline = false
	out.LastSeen = at
	out.ConnectionID = ""

	return out
}

// WithPublicIP records the remote address in the field matching its family.
func (d Device) WithPublicIP(ip net.IP) Device {
	out := d.Clone()

	if ip == nil {
		return out
	}

	if ip.To4() != nil {
		out.PublicIPV4 = ip.String()
	} else {
		out.PublicIPV6 = ip.String()
	}

	return out
}

// UsedMemoryPercent is zero when the total is unknown.
func (d Device) UsedMemoryPercent() float64 {
	if d.TotalMemoryGB == 0 {
		return 0
	}

	return d.UsedMemoryGB / d.TotalMemoryGB
}

// UsedStoragePercent is zero when the total is unknown.
func (d Device) UsedStoragePercent() float64 {
	if d.TotalStorageGB == 0 {
		return 0
	}

	return d.UsedStorageGB / d.TotalStorageGB
}

// Tenant owns devices and users.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
