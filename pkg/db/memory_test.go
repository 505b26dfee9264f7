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

package db

import (
	"context"
	"testing"
	"time"

	"github.com/carverauto/relay/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeviceRepositoryUpsertIsKeyedByID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDeviceRepository()

	device := models.Device{ID: uuid.New(), TenantID: uuid.New(), IsOnline: true}
	device.Name = "first"

	_, err := repo.Upsert(ctx, device)
	require.NoError(t, err)

	device.Name = "second"
	stored, err := repo.Upsert(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, "second", stored.Name)

	counts, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, DeviceCounts{Total: 1, Online: 1}, counts)

	listed, err := repo.ListByTenant(ctx, device.TenantID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "second", listed[0].Name)
}

func TestMemoryDeviceRepositoryKeepsAlias(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDeviceRepository()

	device := models.Device{ID: uuid.New(), TenantID: uuid.New(), Alias: "front desk"}
	_, err := repo.Upsert(ctx, device)
	require.NoError(t, err)

	device.Alias = ""
	stored, err := repo.Upsert(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, "front desk", stored.Alias)
}

func TestMemoryDeviceRepositoryValidation(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDeviceRepository()

	_, err := repo.Upsert(ctx, models.Device{TenantID: uuid.New()})
	assert.ErrorIs(t, err, ErrDeviceIDRequired)

	_, err = repo.Upsert(ctx, models.Device{ID: uuid.New()})
	assert.ErrorIs(t, err, ErrTenantIDRequired)

	_, err = repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestMemoryTenantStoreFirstIsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTenantStore()

	_, err := store.First(ctx)
	require.ErrorIs(t, err, ErrNoTenants)

	now := time.Now()
	older, err := store.Create(ctx, models.Tenant{Name: "older", CreatedAt: now.Add(-time.Hour)})
	require.NoError(t, err)

	_, err = store.Create(ctx, models.Tenant{Name: "newer", CreatedAt: now})
	require.NoError(t, err)

	first, err := store.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, older.ID, first.ID)

	ok, err := store.Exists(ctx, older.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryAlertStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAlertStore()

	_, ok, err := store.GetCurrent(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	alert := models.AlertBroadcast{Message: "maintenance at 5", Severity: models.AlertWarning}
	require.NoError(t, store.Store(ctx, alert))

	got, ok, err := store.GetCurrent(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, alert, got)

	require.NoError(t, store.Clear(ctx))

	_, ok, err = store.GetCurrent(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
