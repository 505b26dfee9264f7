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
	"sort"
	"sync"
	"time"

	"github.com/carverauto/relay/pkg/models"
	"github.com/google/uuid"
)

// MemoryDeviceRepository is the default DeviceRepository. Stored values are
// copies, so callers can keep using what they pass in.
type MemoryDeviceRepository struct {
	mu      sync.RWMutex
	devices map[uuid.UUID]models.Device
}

func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{devices: make(map[uuid.UUID]models.Device)}
}

func (r *MemoryDeviceRepository) Upsert(_ context.Context, device models.Device) (models.Device, error) {
	if device.ID == uuid.Nil {
		return models.Device{}, ErrDeviceIDRequired
	}

	if device.TenantID == uuid.Nil {
		return models.Device{}, ErrTenantIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := device.Clone()
	if existing, ok := r.devices[device.ID]; ok {
		stored.Alias = existing.Alias
	}

	r.devices[device.ID] = stored

	return stored.Clone(), nil
}

func (r *MemoryDeviceRepository) Get(_ context.Context, id uuid.UUID) (models.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[id]
	if !ok {
		return models.Device{}, ErrDeviceNotFound
	}

	return device.Clone(), nil
}

func (r *MemoryDeviceRepository) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]models.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Device, 0)

	for _, device := range r.devices {
		if device.TenantID == tenantID {
			out = append(out, device.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

func (r *MemoryDeviceRepository) Count(_ context.Context) (DeviceCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := DeviceCounts{Total: int64(len(r.devices))}

	for _, device := range r.devices {
		if device.IsOnline {
			counts.Online++
		}
	}

	return counts, nil
}

// MemoryTenantStore is the default TenantStore.
type MemoryTenantStore struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]models.Tenant
	now     func() time.Time
}

func NewMemoryTenantStore(tenants ...models.Tenant) *MemoryTenantStore {
	s := &MemoryTenantStore{tenants: make(map[uuid.UUID]models.Tenant), now: time.Now}

	for _, t := range tenants {
		s.tenants[t.ID] = t
	}

	return s
}

func (s *MemoryTenantStore) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tenants[id]

	return ok, nil
}

func (s *MemoryTenantStore) First(_ context.Context) (models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		first models.Tenant
		found bool
	)

	for _, t := range s.tenants {
		if !found || t.CreatedAt.Before(first.CreatedAt) {
			first, found = t, true
		}
	}

	if !found {
		return models.Tenant{}, ErrNoTenants
	}

	return first, nil
}

func (s *MemoryTenantStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.tenants)), nil
}

func (s *MemoryTenantStore) Create(_ context.Context, tenant models.Tenant) (models.Tenant, error) {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}

	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = s.now()
	}

	s.mu.Lock()
	s.tenants[tenant.ID] = tenant
	s.mu.Unlock()

	return tenant, nil
}

// MemoryAlertStore is the default AlertStore.
type MemoryAlertStore struct {
	mu    sync.RWMutex
	alert *models.AlertBroadcast
}

func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{}
}

func (s *MemoryAlertStore) GetCurrent(_ context.Context) (models.AlertBroadcast, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.alert == nil {
		return models.AlertBroadcast{}, false, nil
	}

	return *s.alert, true, nil
}

func (s *MemoryAlertStore) Store(_ context.Context, alert models.AlertBroadcast) error {
	s.mu.Lock()
	s.alert = &alert
	s.mu.Unlock()

	return nil
}

func (s *MemoryAlertStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.alert = nil
	s.mu.Unlock()

	return nil
}
