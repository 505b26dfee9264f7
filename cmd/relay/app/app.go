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

// Package app wires the relay service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/carverauto/relay/pkg/api"
	"github.com/carverauto/relay/pkg/auth"
	"github.com/carverauto/relay/pkg/bridge"
	"github.com/carverauto/relay/pkg/config"
	"github.com/carverauto/relay/pkg/db"
	srHttp "github.com/carverauto/relay/pkg/http"
	"github.com/carverauto/relay/pkg/lifecycle"
	"github.com/carverauto/relay/pkg/logger"
	"github.com/carverauto/relay/pkg/models"
	"github.com/carverauto/relay/pkg/natsutil"
	"github.com/carverauto/relay/pkg/relay"
	"github.com/carverauto/relay/pkg/session"
	"github.com/carverauto/relay/pkg/tenant"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "serviceradar-relay"
	shutdownTimeout = 10 * time.Second
)

// Options contains runtime configuration derived from CLI flags.
type Options struct {
	ConfigPath string
}

// stores are the persistence collaborators the hubs read and write.
type stores struct {
	devices db.DeviceRepository
	tenants db.TenantStore
	alerts  db.AlertStore
	close   func()
}

// Run boots the relay and blocks until the context is cancelled or a
// signal arrives.
func Run(ctx context.Context, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var cfg models.RelayConfig
	if err := config.NewConfig(nil).LoadAndValidate(ctx, opts.ConfigPath, &cfg); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	mainLogger, err := lifecycle.CreateComponentLogger("relay", cfg.Logging)
	if err != nil {
		return err
	}

	defer func() {
		if shutdownErr := lifecycle.ShutdownLogger(); shutdownErr != nil {
			mainLogger.Error().Err(shutdownErr).Msg("Error shutting down logger")
		}
	}()

	if err := lifecycle.InitializeMetrics(ctx, serviceName, cfg.Logging, mainLogger); err != nil {
		return err
	}

	if safe, err := config.SanitizeForLog(&cfg); err == nil {
		mainLogger.Debug().RawJSON("config", safe).Msg("Loaded relay configuration")
	}

	ctx, stop := lifecycle.SignalContext(ctx)
	defer stop()

	st, err := openStores(ctx, cfg.Database, mainLogger)
	if err != nil {
		return err
	}
	defer st.close()

	tenants := tenant.NewCachedStore(st.tenants, cfg.TenantCache.Size, time.Duration(cfg.TenantCache.TTL))

	var events relay.PresencePublisher

	if cfg.NATS.Enabled {
		publisher, nc, err := natsutil.Connect(ctx, cfg.NATS, mainLogger)
		if err != nil {
			return err
		}

		defer func() {
			if err := nc.Drain(); err != nil {
				mainLogger.Warn().Err(err).Msg("Error draining NATS connection")
			}
		}()

		events = publisher
	}

	discovery, closeLocator, err := openDiscovery(cfg.Bridge, mainLogger)
	if err != nil {
		return err
	}
	defer closeLocator()

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return err
	}

	checkOrigin := srHttp.CheckOrigin(cfg.CORS)
	broker := session.NewBroker(mainLogger)

	server := relay.New(relay.Deps{
		Config: relay.Config{
			Development: cfg.IsDevelopment(),
			Hub:         cfg.Hub,
			PublicURL:   cfg.Sessions.PublicURL,
			CheckOrigin: checkOrigin,
		},
		Devices: st.devices,
		Tenants: tenants,
		Alerts:  st.alerts,
		Broker:  broker,
		Bridge:  discovery,
		Events:  events,
		ICE:     relay.NewICEProvider(cfg.ICE),
		Logger:  mainLogger,
	})
	defer server.Close()

	apiServer := api.NewAPIServer(cfg.CORS,
		api.WithRelay(server),
		api.WithBridge(session.NewBridge(broker, mainLogger, session.BridgeOptions{CheckOrigin: checkOrigin})),
		api.WithVerifier(verifier),
		api.WithLogger(mainLogger),
	)

	httpServer := apiServer.NewHTTPServer(cfg.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		mainLogger.Info().
			Str("addr", cfg.ListenAddr).
			Str("environment", cfg.Environment).
			Msg("Relay listening")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		return broker.Run(gctx, time.Duration(cfg.Sessions.SweepInterval), time.Duration(cfg.Sessions.MaxAge))
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		mainLogger.Info().Msg("Shutting down relay")

		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg models.DatabaseConfig, log logger.Logger) (*stores, error) {
	if cfg.Driver != models.DatabaseDriverPostgres {
		log.Warn().Msg("Using in-memory stores; state is lost on restart")

		return &stores{
			devices: db.NewMemoryDeviceRepository(),
			tenants: db.NewMemoryTenantStore(),
			alerts:  db.NewMemoryAlertStore(),
			close:   func() {},
		}, nil
	}

	pool, err := db.NewCNPGPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if err := db.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	cnpg := db.NewCNPGStores(pool)

	return &stores{
		devices: cnpg.Devices,
		tenants: cnpg.Tenants,
		alerts:  cnpg.Alerts,
		close:   pool.Close,
	}, nil
}

// openDiscovery returns a nil Discovery when bridging is off.
func openDiscovery(cfg models.BridgeConfig, log logger.Logger) (*bridge.Discovery, func(), error) {
	noop := func() {}

	if !cfg.Enabled || len(cfg.Hosts) == 0 {
		return nil, noop, nil
	}

	locator, err := bridge.OpenMaxMind(cfg.GeoIPDB)
	if err != nil {
		return nil, noop, err
	}

	closeLocator := func() {
		if err := locator.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing GeoIP database")
		}
	}

	return bridge.NewDiscovery(cfg, locator, log), closeLocator, nil
}
