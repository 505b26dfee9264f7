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
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carverauto/relay/pkg/logger"
	"github.com/carverauto/relay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedLocator struct {
	loc Coordinate
	err error
}

func (f fixedLocator) Locate(net.IP) (Coordinate, error) {
	return f.loc, f.err
}

var (
	berlin  = Coordinate{Latitude: 52.52, Longitude: 13.405}
	newYork = Coordinate{Latitude: 40.7128, Longitude: -74.006}
	tokyo   = Coordinate{Latitude: 35.6762, Longitude: 139.6503}
)

func TestDistance(t *testing.T) {
	assert.InDelta(t, 0, Distance(berlin, berlin), 1e-9)
	assert.InDelta(t, 6385, Distance(berlin, newYork), 25)
	assert.InDelta(t, Distance(berlin, tokyo), Distance(tokyo, berlin), 1e-9)
}

func TestNearest(t *testing.T) {
	hosts := []models.BridgeHost{
		{Origin: "https://us.example.com", Latitude: newYork.Latitude, Longitude: newYork.Longitude},
		{Origin: "https://eu.example.com", Latitude: berlin.Latitude, Longitude: berlin.Longitude},
		{Origin: "https://ap.example.com", Latitude: tokyo.Latitude, Longitude: tokyo.Longitude},
	}

	paris := Coordinate{Latitude: 48.8566, Longitude: 2.3522}
	host, err := Nearest(paris, hosts)
	require.NoError(t, err)
	assert.Equal(t, "https://eu.example.com", host.Origin)

	seoul := Coordinate{Latitude: 37.5665, Longitude: 126.978}
	host, err = Nearest(seoul, hosts)
	require.NoError(t, err)
	assert.Equal(t, "https://ap.example.com", host.Origin)

	_, err = Nearest(paris, nil)
	require.Error(t, err)
}

func newHealthServer(t *testing.T, status int) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestDiscoveryOrigin(t *testing.T) {
	healthy := newHealthServer(t, http.StatusOK)
	sick := newHealthServer(t, http.StatusServiceUnavailable)

	cfg := func(origin string) models.BridgeConfig {
		return models.BridgeConfig{
			Enabled:       true,
			Hosts:         []models.BridgeHost{{Origin: origin, Latitude: berlin.Latitude, Longitude: berlin.Longitude}},
			HealthTimeout: models.Duration(time.Second),
		}
	}

	ip := net.ParseIP("198.51.100.7")
	ctx := context.Background()
	log := logger.NewTestLogger()

	t.Run("healthy nearest host", func(t *testing.T) {
		d := NewDiscovery(cfg(healthy.URL), fixedLocator{loc: berlin}, log)
		origin := d.Origin(ctx, ip)
		require.NotNil(t, origin)
		assert.Equal(t, healthy.URL, origin.String())
	})

	t.Run("unhealthy host", func(t *testing.T) {
		d := NewDiscovery(cfg(sick.URL), fixedLocator{loc: berlin}, log)
		assert.Nil(t, d.Origin(ctx, ip))
	})

	t.Run("unreachable host", func(t *testing.T) {
		d := NewDiscovery(cfg("http://127.0.0.1:1"), fixedLocator{loc: berlin}, log)
		assert.Nil(t, d.Origin(ctx, ip))
	})

	t.Run("lookup failure", func(t *testing.T) {
		d := NewDiscovery(cfg(healthy.URL), fixedLocator{err: errors.New("not found")}, log)
		assert.Nil(t, d.Origin(ctx, ip))
	})

	t.Run("invalid origin", func(t *testing.T) {
		d := NewDiscovery(cfg("not a url"), fixedLocator{loc: berlin}, log)
		assert.Nil(t, d.Origin(ctx, ip))
	})

	t.Run("missing address", func(t *testing.T) {
		d := NewDiscovery(cfg(healthy.URL), fixedLocator{loc: berlin}, log)
		assert.Nil(t, d.Origin(ctx, nil))
	})
}

func TestDiscoveryDisabled(t *testing.T) {
	log := logger.NewTestLogger()

	assert.Nil(t, NewDiscovery(models.BridgeConfig{}, fixedLocator{}, log))
	assert.Nil(t, NewDiscovery(models.BridgeConfig{Enabled: true}, fixedLocator{}, log))

	var d *Discovery
	assert.Nil(t, d.Origin(context.Background(), net.ParseIP("198.51.100.7")))
}
