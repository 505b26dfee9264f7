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

// Package tenant resolves and validates the tenant a device reports.
//
// Tenant existence is checked through a db.TenantStore wrapped in a small
// expiring cache, since every agent heartbeat asks the same question.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/relay/pkg/db"
	"github.com/carverauto/relay/pkg/models"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ctxKey is the type for context keys in this package.
type ctxKey string

// tenantCtxKey is the context key for storing the tenant id.
const tenantCtxKey ctxKey = "tenant"

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = time.Minute
)

var (
	// ErrInvalidTenant means the id is empty or names no tenant.
	ErrInvalidTenant = errors.New("invalid tenant id")

	// ErrNoTenants means development fallback found nothing to fall back to.
	ErrNoTenants = errors.New("no tenants found")

	// ErrNoTenantInContext indicates no tenant id was attached to the context.
	ErrNoTenantInContext = errors.New("no tenant info in context")
)

// WithContext returns a new context carrying the tenant id.
func WithContext(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantCtxKey, id)
}

// FromContext extracts the tenant id from a context.
func FromContext(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(tenantCtxKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, ErrNoTenantInContext
	}

	return id, nil
}

// CachedStore is a db.TenantStore whose positive Exists answers are cached.
// Negative answers are not cached so a newly created tenant is accepted on
// the agent's next attempt.
type CachedStore struct {
	db.TenantStore

	known *expirable.LRU[uuid.UUID, struct{}]
}

// NewCachedStore wraps store. Zero size or ttl use defaults.
func NewCachedStore(store db.TenantStore, size int, ttl time.Duration) *CachedStore {
	if size <= 0 {
		size = defaultCacheSize
	}

	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &CachedStore{
		TenantStore: store,
		known:       expirable.NewLRU[uuid.UUID, struct{}](size, nil, ttl),
	}
}

func (s *CachedStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	if _, ok := s.known.Get(id); ok {
		return true, nil
	}

	exists, err := s.TenantStore.Exists(ctx, id)
	if err != nil {
		return false, err
	}

	if exists {
		s.known.Add(id, struct{}{})
	}

	return exists, nil
}

func (s *CachedStore) Create(ctx context.Context, tenant models.Tenant) (models.Tenant, error) {
	created, err := s.TenantStore.Create(ctx, tenant)
	if err != nil {
		return models.Tenant{}, err
	}

	s.known.Add(created.ID, struct{}{})

	return created, nil
}

// Len is the number of cached tenant ids.
func (s *CachedStore) Len() int {
	return s.known.Len()
}

// Resolve validates the tenant an agent reported. In development mode an
// empty id falls back to the oldest tenant.
func Resolve(ctx context.Context, store db.TenantStore, requested uuid.UUID, development bool) (uuid.UUID, error) {
	if requested == uuid.Nil {
		if !development {
			return uuid.Nil, ErrInvalidTenant
		}

		first, err := store.First(ctx)
		if errors.Is(err, db.ErrNoTenants) {
			return uuid.Nil, ErrNoTenants
		}

		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to load fallback tenant: %w", err)
		}

		return first.ID, nil
	}

	exists, err := store.Exists(ctx, requested)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to check tenant: %w", err)
	}

	if !exists {
		return uuid.Nil, ErrInvalidTenant
	}

	return requested, nil
}
