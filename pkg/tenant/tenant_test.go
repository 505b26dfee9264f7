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

package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carverauto/relay/pkg/db"
	"github.com/carverauto/relay/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestContextRoundTrip(t *testing.T) {
	_, err := FromContext(context.Background())
	require.ErrorIs(t, err, ErrNoTenantInContext)

	id := uuid.New()
	got, err := FromContext(WithContext(context.Background(), id))
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestCachedStoreCachesPositiveAnswers(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := db.NewMockTenantStore(ctrl)

	known, unknown := uuid.New(), uuid.New()

	store.EXPECT().Exists(gomock.Any(), known).Return(true, nil).Times(1)
	store.EXPECT().Exists(gomock.Any(), unknown).Return(false, nil).Times(2)

	cached := NewCachedStore(store, 8, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := cached.Exists(ctx, known)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	for i := 0; i < 2; i++ {
		ok, err := cached.Exists(ctx, unknown)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	assert.Equal(t, 1, cached.Len())
}

func TestCachedStorePropagatesErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := db.NewMockTenantStore(ctrl)

	boom := errors.New("connection reset")
	store.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, boom)

	_, err := NewCachedStore(store, 0, 0).Exists(context.Background(), uuid.New())
	assert.ErrorIs(t, err, boom)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	existing := models.Tenant{ID: uuid.New(), CreatedAt: time.Now()}
	store := db.NewMemoryTenantStore(existing)
	empty := db.NewMemoryTenantStore()

	tests := []struct {
		name      string
		store     db.TenantStore
		requested uuid.UUID
		dev       bool
		want      uuid.UUID
		wantErr   error
	}{
		{name: "known tenant", store: store, requested: existing.ID, want: existing.ID},
		{name: "unknown tenant", store: store, requested: uuid.New(), wantErr: ErrInvalidTenant},
		{name: "unknown tenant in dev", store: store, requested: uuid.New(), dev: true, wantErr: ErrInvalidTenant},
		{name: "empty tenant", store: store, wantErr: ErrInvalidTenant},
		{name: "empty tenant in dev falls back", store: store, dev: true, want: existing.ID},
		{name: "empty tenant in dev without tenants", store: empty, dev: true, wantErr: ErrNoTenants},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(ctx, tt.store, tt.requested, tt.dev)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
