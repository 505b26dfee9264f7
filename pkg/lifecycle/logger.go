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

// Package lifecycle wires process-level concerns shared by relay binaries:
// component loggers, the metrics pipeline and signal-driven shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/carverauto/relay/pkg/logger"
	"github.com/carverauto/relay/pkg/version"
)

// InitializeLogger initializes the global logger with the provided configuration.
// If config is nil, it uses the default configuration.
func InitializeLogger(config *logger.Config) error {
	if err := logger.Init(config); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

// CreateComponentLogger creates a logger tagged with the component name. The
// global logger is initialized from the same config so stray package-level
// log calls share its level and output.
func CreateComponentLogger(component string, config *logger.Config) (logger.Logger, error) {
	if err := InitializeLogger(config); err != nil {
		return nil, err
	}

	return logger.New(logger.WithComponent(component)), nil
}

// InitializeMetrics starts the OTLP metrics pipeline when it is enabled. A
// disabled exporter is not an error.
func InitializeMetrics(ctx context.Context, serviceName string, config *logger.Config, log logger.Logger) error {
	if config == nil {
		return nil
	}

	_, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		OTel:           &config.OTel,
	})
	if errors.Is(err, logger.ErrOTelMetricsDisabled) {
		log.Debug().Msg("OTel metrics exporter disabled")

		return nil
	}

	return err
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// ShutdownLogger flushes any pending telemetry.
func ShutdownLogger() error {
	return logger.Shutdown()
}
