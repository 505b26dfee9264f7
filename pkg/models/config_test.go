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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshal(t *testing.T) {
	var cfg struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"a":"30s","b":1000000000}`), &cfg))
	assert.Equal(t, Duration(30*time.Second), cfg.A)
	assert.Equal(t, Duration(time.Second), cfg.B)

	var bad Duration
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`true`), &bad))
}

func TestRelayConfigValidate(t *testing.T) {
	cfg := &RelayConfig{ListenAddr: ":8080", Auth: AuthConfig{JWTSecret: "s"}}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DatabaseDriverMemory, cfg.Database.Driver)
	assert.Equal(t, Duration(30*time.Second), cfg.Hub.InvokeTimeout)
	assert.False(t, cfg.IsDevelopment())

	cfg.Database.Driver = DatabaseDriverPostgres
	assert.ErrorIs(t, cfg.Validate(), errDatabaseURLRequired)

	cfg.Database.Driver = "sqlite"
	assert.ErrorIs(t, cfg.Validate(), errUnknownDatabase)
}

func TestRelayConfigValidateRequiresSecret(t *testing.T) {
	cfg := &RelayConfig{ListenAddr: ":8080"}
	assert.ErrorIs(t, cfg.Validate(), errJWTSecretRequired)

	cfg = &RelayConfig{}
	assert.ErrorIs(t, cfg.Validate(), errListenAddrRequired)
}

func TestResultHelpers(t *testing.T) {
	ok := OK(42)
	assert.True(t, ok.IsSuccess)
	assert.Equal(t, 42, ok.Value)

	failed := Fail[int]("nope")
	assert.False(t, failed.IsSuccess)
	assert.Equal(t, "nope", failed.Reason)
	assert.Zero(t, failed.Value)

	assert.True(t, Succeeded().IsSuccess)
	assert.Equal(t, "Unauthorized.", Failed("Unauthorized.").Reason)
}
