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
	"fmt"
	"time"

	"github.com/carverauto/relay/pkg/db"
	"github.com/carverauto/relay/pkg/logger"
	"github.com/carverauto/relay/pkg/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type cpuUsageFunc func(ctx context.Context, interval time.Duration, perCPU bool) ([]float64, error)

type memUsageFunc func(ctx context.Context) (*mem.VirtualMemoryStat, error)

// StatsProvider assembles the ServerStats pushed to administrators.
type StatsProvider struct {
	counter *ConnectionCounter
	devices db.DeviceRepository
	tenants db.TenantStore
	log     logger.Logger
	now     func() time.Time

	cpuUsage cpuUsageFunc
	memUsage memUsageFunc
}

func NewStatsProvider(counter *ConnectionCounter, devices db.DeviceRepository, tenants db.TenantStore, log logger.Logger) *StatsProvider {
	return &StatsProvider{
		counter:  counter,
		devices:  devices,
		tenants:  tenants,
		log:      log,
		now:      time.Now,
		cpuUsage: cpu.PercentWithContext,
		memUsage: mem.VirtualMemoryWithContext,
	}
}

// GetServerStats reads connection counts and store totals. Host usage is
// best-effort and reported as zero when sampling fails.
func (p *StatsProvider) GetServerStats(ctx context.Context) (models.ServerStats, error) {
	deviceCounts, err := p.devices.Count(ctx)
	if err != nil {
		return models.ServerStats{}, fmt.Errorf("failed to count devices: %w", err)
	}

	tenantCount, err := p.tenants.Count(ctx)
	if err != nil {
		return models.ServerStats{}, fmt.Errorf("failed to count tenants: %w", err)
	}

	stats := models.ServerStats{
		AgentCount:    p.counter.Agents(),
		ViewerCount:   p.counter.Viewers(),
		TotalDevices:  deviceCounts.Total,
		OnlineDevices: deviceCounts.Online,
		TotalTenants:  tenantCount,
		Timestamp:     p.now().UTC(),
	}

	// A zero interval compares against the previous call instead of blocking.
	if usage, err := p.cpuUsage(ctx, 0, false); err != nil {
		p.log.Debug().Err(err).Msg("cpu.PercentWithContext failed; usage will be zero")
	} else if len(usage) > 0 {
		stats.CPUPercent = usage[0]
	}

	if vm, err := p.memUsage(ctx); err != nil {
		p.log.Debug().Err(err).Msg("mem.VirtualMemoryWithContext failed; usage will be zero")
	} else if vm != nil {
		stats.MemoryPercent = vm.UsedPercent
	}

	observeHost(stats.CPUPercent, stats.MemoryPercent)

	return stats, nil
}
