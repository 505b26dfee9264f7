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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/relay/pkg/logger"
)

// Duration accepts either a Go duration string or integer nanoseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

// UnmarshalText lets the env loader parse "30s" style values.
func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}

	*d = Duration(dur)

	return nil
}

var (
	errInvalidDuration      = errors.New("invalid duration")
	errListenAddrRequired   = errors.New("listen address is required")
	errJWTSecretRequired    = errors.New("auth.jwt_secret is required")
	errDatabaseURLRequired  = errors.New("database.url is required for the postgres driver")
	errUnknownDatabase      = errors.New("unknown database driver")
	errNATSURLRequired      = errors.New("nats.url is required when the event sink is enabled")
	errInvalidTurnLifetime  = errors.New("ice.turn_credential_ttl must be positive when a TURN secret is set")
	errBridgeGeoIPRequired  = errors.New("bridge.geoip_db is required when bridging is enabled")
	errInvalidInvokeTimeout = errors.New("hub.invoke_timeout must be positive")
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	DatabaseDriverMemory   = "memory"
	DatabaseDriverPostgres = "postgres"
)

// RelayConfig is the on-disk configuration of the relay server.
type RelayConfig struct {
	ListenAddr  string            `json:"listen_addr"`
	Environment string            `json:"environment"`
	Logging     *logger.Config    `json:"logging"`
	Database    DatabaseConfig    `json:"database"`
	NATS        NATSConfig        `json:"nats"`
	Auth        AuthConfig        `json:"auth"`
	Hub         HubConfig         `json:"hub"`
	Sessions    SessionConfig     `json:"sessions"`
	Bridge      BridgeConfig      `json:"bridge"`
	TenantCache TenantCacheConfig `json:"tenant_cache"`
	ICE         ICEConfig         `json:"ice"`
	CORS        CORSConfig        `json:"cors"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver   string   `json:"driver"`
	URL      string   `json:"url" sensitive:"true"`
	MaxConns int32    `json:"max_conns"`
	MinConns int32    `json:"min_conns"`
	Timeout  Duration `json:"timeout"`
}

// NATSConfig configures the optional device presence event sink.
type NATSConfig struct {
	Enabled   bool       `json:"enabled"`
	URL       string     `json:"url"`
	Stream    string     `json:"stream"`
	Subject   string     `json:"subject"`
	CredsFile string     `json:"creds_file,omitempty"`
	Timeout   Duration   `json:"timeout"`
	TLS       *TLSConfig `json:"tls,omitempty"`
}

// TLSConfig points at PEM files for an mTLS client connection.
type TLSConfig struct {
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`
	CAFile     string `json:"ca_file"`
	ServerName string `json:"server_name,omitempty"`
}

// AuthConfig holds the viewer token verification settings.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" sensitive:"true"`
	Issuer    string `json:"issuer,omitempty"`
}

// HubConfig tunes the websocket hubs.
type HubConfig struct {
	InvokeTimeout  Duration `json:"invoke_timeout"`
	SendQueueSize  int      `json:"send_queue_size"`
	MaxMessageSize int64    `json:"max_message_size"`
	PongWait       Duration `json:"pong_wait"`
}

// SessionConfig bounds how long unclaimed streaming sessions live.
type SessionConfig struct {
	MaxAge        Duration `json:"max_age"`
	SweepInterval Duration `json:"sweep_interval"`
	PublicURL     string   `json:"public_url"`
}

// BridgeHost is a secondary relay a viewer may be pointed to.
type BridgeHost struct {
	Origin    string  `json:"origin"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// BridgeConfig enables geo-aware websocket bridge discovery.
type BridgeConfig struct {
	Enabled       bool         `json:"enabled"`
	GeoIPDB       string       `json:"geoip_db"`
	Hosts         []BridgeHost `json:"hosts"`
	HealthTimeout Duration     `json:"health_timeout"`
}

// TenantCacheConfig sizes the tenant existence cache.
type TenantCacheConfig struct {
	Size int      `json:"size"`
	TTL  Duration `json:"ttl"`
}

// ICEConfig lists STUN/TURN servers returned to viewers.
type ICEConfig struct {
	Servers           []IceServer `json:"servers"`
	TurnURLs          []string    `json:"turn_urls"`
	TurnSecret        string      `json:"turn_secret,omitempty" sensitive:"true"`
	TurnCredentialTTL Duration    `json:"turn_credential_ttl"`
}

// CORSConfig controls the browser origins allowed to open viewer sockets.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// IsDevelopment reports whether development-only fallbacks are enabled.
func (c *RelayConfig) IsDevelopment() bool {
	return c.Environment == EnvironmentDevelopment
}

// ApplyDefaults fills unset fields.
func (c *RelayConfig) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvironmentProduction
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DatabaseDriverMemory
	}

	if c.Database.Timeout == 0 {
		c.Database.Timeout = Duration(10 * time.Second)
	}

	if c.NATS.Stream == "" {
		c.NATS.Stream = "events"
	}

	if c.NATS.Subject == "" {
		c.NATS.Subject = "events.devices"
	}

	if c.NATS.Timeout == 0 {
		c.NATS.Timeout = Duration(5 * time.Second)
	}

	if c.Hub.InvokeTimeout == 0 {
		c.Hub.InvokeTimeout = Duration(30 * time.Second)
	}

	if c.Hub.SendQueueSize == 0 {
		c.Hub.SendQueueSize = 256
	}

	if c.Hub.MaxMessageSize == 0 {
		c.Hub.MaxMessageSize = 1 << 20
	}

	if c.Hub.PongWait == 0 {
		c.Hub.PongWait = Duration(60 * time.Second)
	}

	if c.Sessions.MaxAge == 0 {
		c.Sessions.MaxAge = Duration(10 * time.Minute)
	}

	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = Duration(time.Minute)
	}

	if c.Bridge.HealthTimeout == 0 {
		c.Bridge.HealthTimeout = Duration(3 * time.Second)
	}

	if c.TenantCache.Size == 0 {
		c.TenantCache.Size = 1024
	}

	if c.TenantCache.TTL == 0 {
		c.TenantCache.TTL = Duration(time.Minute)
	}

	if c.TurnSecretSet() && c.ICE.TurnCredentialTTL == 0 {
		c.ICE.TurnCredentialTTL = Duration(30 * time.Minute)
	}
}

// TurnSecretSet reports whether ephemeral TURN credentials are issued.
func (c *RelayConfig) TurnSecretSet() bool {
	return c.ICE.TurnSecret != ""
}

// Validate implements config.Validator.
func (c *RelayConfig) Validate() error {
	c.ApplyDefaults()

	if c.ListenAddr == "" {
		return errListenAddrRequired
	}

	if c.Auth.JWTSecret == "" {
		return errJWTSecretRequired
	}

	switch c.Database.Driver {
	case DatabaseDriverMemory:
	case DatabaseDriverPostgres:
		if c.Database.URL == "" {
			return errDatabaseURLRequired
		}
	default:
		return fmt.Errorf("%w: %s", errUnknownDatabase, c.Database.Driver)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errNATSURLRequired
	}

	if c.Hub.InvokeTimeout <= 0 {
		return errInvalidInvokeTimeout
	}

	if c.TurnSecretSet() && c.ICE.TurnCredentialTTL <= 0 {
		return errInvalidTurnLifetime
	}

	if c.Bridge.Enabled && len(c.Bridge.Hosts) > 0 && c.Bridge.GeoIPDB == "" {
		return errBridgeGeoIPRequired
	}

	return nil
}
