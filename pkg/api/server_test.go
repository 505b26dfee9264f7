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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carverauto/relay/pkg/auth"
	"github.com/carverauto/relay/pkg/db"
	"github.com/carverauto/relay/pkg/hub/hubtest"
	"github.com/carverauto/relay/pkg/logger"
	"github.com/carverauto/relay/pkg/models"
	"github.com/carverauto/relay/pkg/relay"
	"github.com/carverauto/relay/pkg/session"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv      *httptest.Server
	verifier *auth.Verifier
	relay    *relay.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logger.NewTestLogger()

	verifier, err := auth.NewVerifier(models.AuthConfig{JWTSecret: "test-secret"})
	require.NoError(t, err)

	broker := session.NewBroker(log)

	rs := relay.New(relay.Deps{
		Devices: db.NewMemoryDeviceRepository(),
		Tenants: db.NewMemoryTenantStore(),
		Alerts:  db.NewMemoryAlertStore(),
		Broker:  broker,
		Logger:  log,
	})

	server := NewAPIServer(models.CORSConfig{AllowedOrigins: []string{"*"}},
		WithRelay(rs),
		WithBridge(session.NewBridge(broker, log, session.BridgeOptions{})),
		WithVerifier(verifier),
		WithLogger(log),
	)

	srv := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		rs.Close()
		srv.Close()
	})

	return &testEnv{srv: srv, verifier: verifier, relay: rs}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	agent, err := hubtest.Dial(env.srv.URL+AgentHubPath, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = agent.Close() })

	require.Eventually(t, func() bool { return env.relay.Counter().Agents() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(env.srv.URL + HealthPath)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, body.Version)
	assert.Equal(t, int64(1), body.Agents)
	assert.Equal(t, int64(0), body.Viewers)
}

func TestViewerHubRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + ViewerHubPath)
	require.NoError(t, err)

	_ = resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, err = hubtest.Dial(env.srv.URL+ViewerHubPath, nil)
	require.Error(t, err)
}

func TestViewerHubAcceptsBearerToken(t *testing.T) {
	env := newTestEnv(t)

	token, err := env.verifier.Issue(models.Claims{
		Subject:     uuid.NewString(),
		TenantID:    uuid.New(),
		ServerAdmin: true,
	}, time.Minute)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	viewer, err := hubtest.Dial(env.srv.URL+ViewerHubPath, header)
	require.NoError(t, err)

	t.Cleanup(func() { _ = viewer.Close() })

	var admin bool
	require.NoError(t, viewer.Invoke(context.Background(), relay.TargetCheckIfServerAdministrator, &admin))
	assert.True(t, admin)
}

func TestViewerHubAcceptsQueryToken(t *testing.T) {
	env := newTestEnv(t)

	token, err := env.verifier.Issue(models.Claims{Subject: "viewer", TenantID: uuid.New()}, time.Minute)
	require.NoError(t, err)

	viewer, err := hubtest.Dial(env.srv.URL+ViewerHubPath+"?access_token="+token, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = viewer.Close() })

	var admin bool
	require.NoError(t, viewer.Invoke(context.Background(), relay.TargetCheckIfServerAdministrator, &admin))
	assert.False(t, admin)
}

func TestBridgeRoute(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "invalid session id", path: "/bridge/not-a-uuid/viewer", want: http.StatusBadRequest},
		{name: "invalid role", path: "/bridge/" + uuid.NewString() + "/observer", want: http.StatusBadRequest},
		{name: "unknown session", path: "/bridge/" + uuid.NewString() + "/agent", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(env.srv.URL + tt.path)
			require.NoError(t, err)

			_ = resp.Body.Close()

			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestNewHTTPServerLeavesWriteTimeoutUnset(t *testing.T) {
	srv := NewAPIServer(models.CORSConfig{}).NewHTTPServer(":0")

	assert.Equal(t, ":0", srv.Addr)
	assert.Zero(t, srv.WriteTimeout)
	assert.Equal(t, defaultReadHeaderTimeout, srv.ReadHeaderTimeout)
}
