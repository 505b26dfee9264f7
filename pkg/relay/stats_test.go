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

package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carverauto/relay/pkg/db"
	"github.com/carverauto/relay/pkg/logger"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var errSampling = errors.New("sampling unavailable")

func newTestStats(t *testing.T) (*StatsProvider, *db.MockDeviceRepository, *db.MockTenantStore) {
	t.Helper()

	ctrl := gomock.NewController(t)
	devices := db.NewMockDeviceRepository(ctrl)
	tenants := db.NewMockTenantStore(ctrl)

	counter := &ConnectionCounter{}
	counter.IncrementAgents()
	counter.IncrementAgents()
	counter.IncrementViewers()

	p := NewStatsProvider(counter, devices, tenants, logger.NewTestLogger())
	p.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }
	p.cpuUsage = func(context.Context, time.Duration, bool) ([]float64, error) { return []float64{12.5}, nil }
	p.memUsage = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 40}, nil
	}

	return p, devices, tenants
}

func TestGetServerStats(t *testing.T) {
	p, devices, tenants := newTestStats(t)
	ctx := context.Background()

	devices.EXPECT().Count(gomock.Any()).Return(db.DeviceCounts{Total: 10, Online: 4}, nil)
	tenants.EXPECT().Count(gomock.Any()).Return(int64(3), nil)

	stats, err := p.GetServerStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.AgentCount)
	assert.Equal(t, int64(1), stats.ViewerCount)
	assert.Equal(t, int64(10), stats.TotalDevices)
	assert.Equal(t, int64(4), stats.OnlineDevices)
	assert.Equal(t, int64(3), stats.TotalTenants)
	assert.InDelta(t, 12.5, stats.CPUPercent, 0.001)
	assert.InDelta(t, 40.0, stats.MemoryPercent, 0.001)
	assert.Equal(t, time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC), stats.Timestamp)
}

func TestGetServerStatsHostSamplingIsBestEffort(t *testing.T) {
	p, devices, tenants := newTestStats(t)

	p.cpuUsage = func(context.Context, time.Duration, bool) ([]float64, error) { return nil, errSampling }
	p.memUsage = func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, errSampling }

	devices.EXPECT().Count(gomock.Any()).Return(db.DeviceCounts{Total: 1}, nil)
	tenants.EXPECT().Count(gomock.Any()).Return(int64(1), nil)

	stats, err := p.GetServerStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.CPUPercent)
	assert.Zero(t, stats.MemoryPercent)
	assert.Equal(t, int64(1), stats.TotalDevices)
}

func TestGetServerStatsStoreErrors(t *testing.T) {
	t.Run("devices", func(t *testing.T) {
		p, devices, _ := newTestStats(t)
		devices.EXPECT().Count(gomock.Any()).Return(db.DeviceCounts{}, errSampling)

		_, err := p.GetServerStats(context.Background())
		require.ErrorIs(t, err, errSampling)
	})

	t.Run("tenants", func(t *testing.T) {
		p, devices, tenants := newTestStats(t)
		devices.EXPECT().Count(gomock.Any()).Return(db.DeviceCounts{}, nil)
		tenants.EXPECT().Count(gomock.Any()).Return(int64(0), errSampling)

		_, err := p.GetServerStats(context.Background())
		require.ErrorIs(t, err, errSampling)
	})
}
