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

// Package db holds the persistence collaborators of the relay: devices,
// tenants and the current alert banner.
package db

import (
	"context"

	"github.com/carverauto/relay/pkg/models"
	"github.com/google/uuid"
)

//go:generate mockgen -destination=mock_db.go -package=db github.com/carverauto/relay/pkg/db DeviceRepository,TenantStore,AlertStore

// DeviceCounts summarizes the device table for server stats.
type DeviceCounts struct {
	Total  int64
	Online int64
}

// DeviceRepository persists device snapshots keyed by device id.
type DeviceRepository interface {
	// Upsert inserts or replaces the device and returns the stored
	// projection. Server-owned fields such as Alias survive the update.
	Upsert(ctx context.Context, device models.Device) (models.Device, error)
	Get(ctx context.Context, id uuid.UUID) (models.Device, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Device, error)
	Count(ctx context.Context) (DeviceCounts, error)
}

// TenantStore answers tenant existence questions.
type TenantStore interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	// First returns the oldest tenant, or ErrNoTenants.
	First(ctx context.Context) (models.Tenant, error)
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, tenant models.Tenant) (models.Tenant, error)
}

// AlertStore keeps the single server-wide alert banner.
type AlertStore interface {
	GetCurrent(ctx context.Context) (models.AlertBroadcast, bool, error)
	Store(ctx context.Context, alert models.AlertBroadcast) error
	Clear(ctx context.Context) error
}
