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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/carverauto/relay/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadAndValidateJSONFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeFile(t, "relay.json", `{
		"listen_addr": ":8080",
		"environment": "development",
		"auth": {"jwt_secret": "s3cret"},
		"hub": {"invoke_timeout": "5s"},
		"nats": {"enabled": true, "url": "nats://localhost:4222", "tls": {"cert_file": "certs/client.pem", "key_file": "/abs/key.pem"}}
	}`)

	var cfg models.RelayConfig
	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, models.Duration(5*time.Second), cfg.Hub.InvokeTimeout)
	assert.Equal(t, models.DatabaseDriverMemory, cfg.Database.Driver)

	require.NotNil(t, cfg.NATS.TLS)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "certs/client.pem"), cfg.NATS.TLS.CertFile)
	assert.Equal(t, "/abs/key.pem", cfg.NATS.TLS.KeyFile)
	assert.Empty(t, cfg.NATS.TLS.CAFile)
}

func TestLoadAndValidateYAMLFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "file")

	path := writeFile(t, "relay.yaml", `
listen_addr: ":9090"
auth:
  jwt_secret: s3cret
sessions:
  max_age: 2m
bridge:
  enabled: true
  geoip_db: /var/lib/geoip/city.mmdb
  hosts:
    - origin: https://eu.example.com
      latitude: 50.1
      longitude: 8.6
`)

	var cfg models.RelayConfig
	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, models.Duration(2*time.Minute), cfg.Sessions.MaxAge)
	require.Len(t, cfg.Bridge.Hosts, 1)
	assert.Equal(t, "https://eu.example.com", cfg.Bridge.Hosts[0].Origin)
	assert.InDelta(t, 8.6, cfg.Bridge.Hosts[0].Longitude, 0.0001)
}

func TestLoadAndValidateRunsValidation(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeFile(t, "relay.json", `{"listen_addr": ":8080"}`)

	var cfg models.RelayConfig
	require.Error(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	var cfg models.RelayConfig
	err := NewConfig(nil).LoadAndValidate(context.Background(), filepath.Join(t.TempDir(), "nope.json"), &cfg)
	require.Error(t, err)
}

func TestLoadAndValidateRejectsUnknownSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "kv")

	var cfg models.RelayConfig
	err := NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg)
	require.ErrorIs(t, err, errInvalidConfigSource)
}

func TestLoadAndValidateFromEnvironment(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "")
	t.Setenv("RELAY_LISTEN_ADDR", ":7070")
	t.Setenv("RELAY_AUTH_JWT_SECRET", "from-env")
	t.Setenv("RELAY_HUB_INVOKE_TIMEOUT", "45s")
	t.Setenv("RELAY_HUB_SEND_QUEUE_SIZE", "64")
	t.Setenv("RELAY_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("RELAY_NATS_ENABLED", "true")
	t.Setenv("RELAY_NATS_URL", "nats://nats:4222")
	t.Setenv("RELAY_LOGGING_LEVEL", "debug")

	var cfg models.RelayConfig
	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, models.Duration(45*time.Second), cfg.Hub.InvokeTimeout)
	assert.Equal(t, 64, cfg.Hub.SendQueueSize)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.NATS.Enabled)

	require.NotNil(t, cfg.Logging)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// No RELAY_NATS_TLS_* variables, so the pointer stays nil.
	assert.Nil(t, cfg.NATS.TLS)
}

type envSample struct {
	Name     string              `json:"name"`
	Tenant   uuid.UUID           `json:"tenant"`
	Timeout  models.Duration     `json:"timeout"`
	Interval time.Duration       `json:"interval"`
	Ratio    float64             `json:"ratio"`
	Labels   map[string]string   `json:"labels"`
	Hosts    []models.BridgeHost `json:"hosts"`
	Skipped  string              `json:"-"`
	TLS      *models.TLSConfig   `json:"tls"`
}

func TestEnvConfigLoaderTypes(t *testing.T) {
	tenantID := uuid.New()

	t.Setenv("X_NAME", "relay")
	t.Setenv("X_TENANT", tenantID.String())
	t.Setenv("X_TIMEOUT", "1m30s")
	t.Setenv("X_INTERVAL", "250ms")
	t.Setenv("X_RATIO", "0.25")
	t.Setenv("X_LABELS", `{"region":"eu"}`)
	t.Setenv("X_TLS_CA_FILE", "/etc/ca.pem")

	var dst envSample
	require.NoError(t, NewEnvConfigLoader(nil, "X_").Load(context.Background(), "", &dst))

	assert.Equal(t, "relay", dst.Name)
	assert.Equal(t, tenantID, dst.Tenant)
	assert.Equal(t, models.Duration(90*time.Second), dst.Timeout)
	assert.Equal(t, 250*time.Millisecond, dst.Interval)
	assert.InDelta(t, 0.25, dst.Ratio, 0.0001)
	assert.Equal(t, map[string]string{"region": "eu"}, dst.Labels)

	require.NotNil(t, dst.TLS)
	assert.Equal(t, "/etc/ca.pem", dst.TLS.CAFile)
}

func TestEnvConfigLoaderBadValueIsSkipped(t *testing.T) {
	t.Setenv("Y_TIMEOUT", "soon")
	t.Setenv("Y_NAME", "kept")

	var dst envSample
	require.NoError(t, NewEnvConfigLoader(nil, "Y_").Load(context.Background(), "", &dst))

	assert.Zero(t, dst.Timeout)
	assert.Equal(t, "kept", dst.Name)
}

func TestEnvConfigLoaderConfigJSON(t *testing.T) {
	t.Setenv("Z_CONFIG_JSON", `{"name":"whole","timeout":"2s"}`)

	var dst envSample
	require.NoError(t, NewEnvConfigLoader(nil, "Z_").Load(context.Background(), "", &dst))

	assert.Equal(t, "whole", dst.Name)
	assert.Equal(t, models.Duration(2*time.Second), dst.Timeout)
}

func TestEnvConfigLoaderRejectsNonPointer(t *testing.T) {
	loader := NewEnvConfigLoader(nil, "W_")

	require.ErrorIs(t, loader.Load(context.Background(), "", envSample{}), ErrDstMustBeNonNilPointer)

	n := 3
	require.ErrorIs(t, loader.Load(context.Background(), "", &n), ErrDstMustBePointerToStruct)
}
