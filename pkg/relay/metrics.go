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
	"math"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	relayMeterName = "serviceradar.relay"

	metricConnectedAgents  = "relay_connected_agents"
	metricConnectedViewers = "relay_connected_viewers"
	metricHostCPUPercent   = "relay_host_cpu_percent"
	metricHostMemPercent   = "relay_host_memory_percent"
	metricDeviceUpdates    = "relay_device_updates_total"
)

// relayObservatory stores the latest values read by the gauge callback.
type relayObservatory struct {
	agents  atomic.Int64
	viewers atomic.Int64
	cpuBits atomic.Uint64
	memBits atomic.Uint64
}

var (
	//nolint:gochecknoglobals // metric observers are shared singletons
	relayMetricsOnce sync.Once
	//nolint:gochecknoglobals // metric observers are shared singletons
	relayMetricsData = &relayObservatory{}
	//nolint:gochecknoglobals // metric observers are shared singletons
	relayGauges struct {
		agents  metric.Int64ObservableGauge
		viewers metric.Int64ObservableGauge
		cpu     metric.Float64ObservableGauge
		mem     metric.Float64ObservableGauge
	}
	//nolint:gochecknoglobals // metric observers are shared singletons
	deviceUpdateCounter metric.Int64Counter
	//nolint:unused,gochecknoglobals // kept to retain callback
	relayMetricsRegistration metric.Registration
)

func initRelayMetrics() {
	meter := otel.Meter(relayMeterName)

	var err error

	if deviceUpdateCounter, err = meter.Int64Counter(
		metricDeviceUpdates,
		metric.WithDescription("Device updates handled, by outcome"),
	); err != nil {
		otel.Handle(err)
	}

	relayGauges.agents, err = meter.Int64ObservableGauge(
		metricConnectedAgents,
		metric.WithDescription("Agent connections currently open"),
	)
	if err != nil {
		otel.Handle(err)
		return
	}

	relayGauges.viewers, err = meter.Int64ObservableGauge(
		metricConnectedViewers,
		metric.WithDescription("Viewer connections currently open"),
	)
	if err != nil {
		otel.Handle(err)
		return
	}

	relayGauges.cpu, err = meter.Float64ObservableGauge(
		metricHostCPUPercent,
		metric.WithDescription("Host CPU utilisation at the last stats sample"),
		metric.WithUnit("%"),
	)
	if err != nil {
		otel.Handle(err)
		return
	}

	relayGauges.mem, err = meter.Float64ObservableGauge(
		metricHostMemPercent,
		metric.WithDescription("Host memory utilisation at the last stats sample"),
		metric.WithUnit("%"),
	)
	if err != nil {
		otel.Handle(err)
		return
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		observer.ObserveInt64(relayGauges.agents, relayMetricsData.agents.Load())
		observer.ObserveInt64(relayGauges.viewers, relayMetricsData.viewers.Load())
		observer.ObserveFloat64(relayGauges.cpu, math.Float64frombits(relayMetricsData.cpuBits.Load()))
		observer.ObserveFloat64(relayGauges.mem, math.Float64frombits(relayMetricsData.memBits.Load()))
		return nil
	},
		relayGauges.agents,
		relayGauges.viewers,
		relayGauges.cpu,
		relayGauges.mem,
	)
	if err != nil {
		otel.Handle(err)
		return
	}

	relayMetricsRegistration = registration
}

func observeConnections(c *ConnectionCounter) {
	relayMetricsOnce.Do(initRelayMetrics)

	relayMetricsData.agents.Store(c.Agents())
	relayMetricsData.viewers.Store(c.Viewers())
}

func observeHost(cpuPercent, memPercent float64) {
	relayMetricsOnce.Do(initRelayMetrics)

	relayMetricsData.cpuBits.Store(math.Float64bits(cpuPercent))
	relayMetricsData.memBits.Store(math.Float64bits(memPercent))
}

func recordDeviceUpdate(ctx context.Context, outcome string) {
	relayMetricsOnce.Do(initRelayMetrics)

	if deviceUpdateCounter == nil {
		return
	}

	deviceUpdateCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
