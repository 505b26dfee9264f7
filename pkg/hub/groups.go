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
	"fmt"

	"github.com/google/uuid"
)

// ServerAdministratorsGroup receives live server stats.
const ServerAdministratorsGroup = "server-administrators"

// TenantDevicesGroup holds every agent connection of a tenant.
func TenantDevicesGroup(tenantID uuid.UUID) string {
	return fmt.Sprintf("tenant:%s:devices", tenantID)
}

// DeviceGroup holds the agent connection(s) of one device.
func DeviceGroup(tenantID, deviceID uuid.UUID) string {
	return fmt.Sprintf("tenant:%s:device:%s", tenantID, deviceID)
}

// TagGroup is shared by agents carrying a tag and viewers allowed to see it.
func TagGroup(tenantID, tagID uuid.UUID) string {
	return fmt.Sprintf("tenant:%s:tag:%s", tenantID, tagID)
}

// RoleGroup holds viewers granted a role within a tenant.
func RoleGroup(tenantID uuid.UUID, role string) string {
	return fmt.Sprintf("tenant:%s:role:%s", tenantID, role)
}
