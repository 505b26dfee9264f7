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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "serviceradar.relay.hub"

	metricCallsTotal      = "relay_hub_calls_total"
	metricCallDuration    = "relay_hub_call_duration_seconds"
	metricBroadcastFanout = "relay_hub_broadcast_deliveries_total"
	metricOpenConnections = "relay_hub_open_connections"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	callCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	callHistogram metric.Float64Histogram
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	fanoutCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	connectionCounter metric.Int64UpDownCounter
)

func initMeter() {
	meter := otel.Meter(meterName)

	var err error

	if callCounter, err = meter.Int64Counter(
		metricCallsTotal,
		metric.WithDescription("Hub invocations handled, by hub, target and outcome"),
	); err != nil {
		otel.Handle(err)
	}

	if callHistogram, err = meter.Float64Histogram(
		metricCallDuration,
		metric.WithDescription("Time spent inside hub handlers"),
		metric.WithUnit("s"),
	); err != nil {
		otel.Handle(err)
	}

	if fanoutCounter, err = meter.Int64Counter(
		metricBroadcastFanout,
		metric.WithDescription("Frames enqueued by group and global broadcasts"),
	); err != nil {
		otel.Handle(err)
	}

	if connectionCounter, err = meter.Int64UpDownCounter(
		metricOpenConnections,
		metric.WithDescription("Open hub connections"),
	); err != nil {
		otel.Handle(err)
	}
}

func recordCall(ctx context.Context, hubName, target string, failed bool, elapsed time.Duration) {
	meterOnce.Do(initMeter)

	outcome := "ok"
	if failed {
		outcome = "error"
	}

	attrs := metric.WithAttributes(
		attribute.String("hub", hubName),
		attribute.String("target", target),
		attribute.String("outcome", outcome),
	)

	if callCounter != nil {
		callCounter.Add(ctx, 1, attrs)
	}

	if callHistogram != nil {
		callHistogram.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func recordFanout(ctx context.Context, hubName, target string, delivered int) {
	if delivered == 0 {
		return
	}

	meterOnce.Do(initMeter)

	if fanoutCounter == nil {
		return
	}

	fanoutCounter.Add(ctx, int64(delivered), metric.WithAttributes(
		attribute.String("hub", hubName),
		attribute.String("target", target),
	))
}

func recordConnection(ctx context.Context, hubName string, delta int64) {
	meterOnce.Do(initMeter)

	if connectionCounter == nil {
		return
	}

	connectionCounter.Add(ctx, delta, metric.WithAttributes(attribute.String("hub", hubName)))
}
