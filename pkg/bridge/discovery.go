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

package bridge

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/carverauto/relay/pkg/logger"
	"github.com/carverauto/relay/pkg/models"
)

const defaultHealthTimeout = 3 * time.Second

// Discovery resolves the bridge origin for a viewer. A nil *Discovery is
// valid and always reports no bridge.
type Discovery struct {
	hosts   []models.BridgeHost
	locator Locator
	client  *http.Client
	log     logger.Logger
}

// NewDiscovery returns nil when bridging is disabled or no hosts exist.
func NewDiscovery(cfg models.BridgeConfig, locator Locator, log logger.Logger) *Discovery {
	if !cfg.Enabled || len(cfg.Hosts) == 0 || locator == nil {
		return nil
	}

	timeout := time.Duration(cfg.HealthTimeout)
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}

	return &Discovery{
		hosts:   cfg.Hosts,
		locator: locator,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Origin returns the healthy bridge nearest to ip, or nil.
func (d *Discovery) Origin(ctx context.Context, ip net.IP) *url.URL {
	if d == nil || ip == nil {
		return nil
	}

	loc, err := d.locator.Locate(ip)
	if err != nil {
		d.log.Debug().Err(err).Str("ip", ip.String()).Msg("Could not geolocate viewer")
		return nil
	}

	host, err := Nearest(loc, d.hosts)
	if err != nil {
		return nil
	}

	origin, err := url.Parse(host.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		d.log.Error().Err(err).Str("origin", host.Origin).Msg("Invalid bridge origin")
		return nil
	}

	if err := d.checkHealth(ctx, origin); err != nil {
		d.log.Warn().Err(err).Str("origin", host.Origin).Msg("Bridge host is unhealthy")
		return nil
	}

	return origin
}

// Nearest picks the host with the smallest great-circle distance to loc.
// Ties keep the earlier host.
func Nearest(loc Coordinate, hosts []models.BridgeHost) (models.BridgeHost, error) {
	if len(hosts) == 0 {
		return models.BridgeHost{}, errNoHosts
	}

	best := hosts[0]
	bestDist := Distance(loc, Coordinate{Latitude: best.Latitude, Longitude: best.Longitude})

	for _, h := range hosts[1:] {
		if dist := Distance(loc, Coordinate{Latitude: h.Latitude, Longitude: h.Longitude}); dist < bestDist {
			best, bestDist = h, dist
		}
	}

	return best, nil
}

func (d *Discovery) checkHealth(ctx context.Context, origin *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin.JoinPath("health").String(), http.NoBody)
	if err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}

	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", errUnhealthy, resp.StatusCode)
	}

	return nil
}
