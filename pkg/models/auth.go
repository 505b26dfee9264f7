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
	"slices"

	"github.com/google/uuid"
)

// Role names granted through the viewer token.
const (
	RoleDeviceSuperUser = "DeviceSuperUser"
	RoleTenantAdmin     = "TenantAdministrator"
)

// Claims is the identity attached to a viewer connection.
type Claims struct {
	Subject     string      `json:"sub"`
	Name        string      `json:"name"`
	TenantID    uuid.UUID   `json:"tenant_id"`
	Roles       []string    `json:"roles,omitempty"`
	TagIDs      []uuid.UUID `json:"tags,omitempty"`
	ServerAdmin bool        `json:"server_admin"`
}

// HasRole reports whether role was granted.
func (c *Claims) HasRole(role string) bool {
	if c == nil {
		return false
	}

	return slices.Contains(c.Roles, role)
}

// IsServerAdmin is false for a nil identity.
func (c *Claims) IsServerAdmin() bool {
	return c != nil && c.ServerAdmin
}

// DisplayName falls back to the subject when no name was issued.
func (c *Claims) DisplayName() string {
	switch {
	case c == nil:
		return "anonymous"
	case c.Name != "":
		return c.Name
	default:
		return c.Subject
	}
}
