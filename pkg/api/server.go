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

// Package api exposes the relay over HTTP: the two hub endpoints, the
// session bridge and a health check.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/carverauto/relay/pkg/auth"
	srHttp "github.com/carverauto/relay/pkg/http"
	"github.com/carverauto/relay/pkg/logger"
	"github.com/carverauto/relay/pkg/models"
	"github.com/carverauto/relay/pkg/relay"
	"github.com/carverauto/relay/pkg/session"
	"github.com/carverauto/relay/pkg/tenant"
	"github.com/carverauto/relay/pkg/version"
	"github.com/gorilla/mux"
)

const (
	AgentHubPath  = "/hubs/agent"
	ViewerHubPath = "/hubs/viewer"
	BridgePath    = "/bridge/{sessionId}/{role}"
	HealthPath    = "/health"

	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 60 * time.Second
)

// APIServer routes HTTP requests to the relay.
type APIServer struct {
	router     *mux.Router
	corsConfig models.CORSConfig
	relay      *relay.Server
	bridge     *session.Bridge
	verifier   *auth.Verifier
	logger     logger.Logger
	startedAt  time.Time
}

// HealthResponse is served on /health.
type HealthResponse struct {
	Status  string    `json:"status"`
	Version string    `json:"version"`
	Agents  int64     `json:"agents"`
	Viewers int64     `json:"viewers"`
	Started time.Time `json:"started"`
}

// NewAPIServer creates a new API server instance with the given configuration.
func NewAPIServer(config models.CORSConfig, options ...func(server *APIServer)) *APIServer {
	s := &APIServer{
		router:     mux.NewRouter(),
		corsConfig: config,
		logger:     logger.NewTestLogger(),
		startedAt:  time.Now().UTC(),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithRelay serves the agent and viewer hubs of r.
func WithRelay(r *relay.Server) func(server *APIServer) {
	return func(server *APIServer) {
		server.relay = r
	}
}

// WithBridge serves streaming session sockets through b.
func WithBridge(b *session.Bridge) func(server *APIServer) {
	return func(server *APIServer) {
		server.bridge = b
	}
}

// WithVerifier authenticates viewer connections with v.
func WithVerifier(v *auth.Verifier) func(server *APIServer) {
	return func(server *APIServer) {
		server.verifier = v
	}
}

// WithLogger sets the request logger.
func WithLogger(log logger.Logger) func(server *APIServer) {
	return func(server *APIServer) {
		server.logger = log
	}
}

func (s *APIServer) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return srHttp.CommonMiddleware(next, s.corsConfig, s.logger)
	})

	s.router.HandleFunc(HealthPath, s.handleHealth).Methods(http.MethodGet)

	if s.relay != nil {
		s.router.HandleFunc(AgentHubPath, s.relay.ServeAgent)

		var viewer http.Handler = http.HandlerFunc(s.handleViewer)
		if s.verifier != nil {
			viewer = s.verifier.Middleware(s.logger)(viewer)
		}

		s.router.Handle(ViewerHubPath, viewer)
	}

	if s.bridge != nil {
		s.router.HandleFunc(BridgePath, s.handleBridge).Methods(http.MethodGet)
	}
}

// Handler returns the routed handler.
func (s *APIServer) Handler() http.Handler {
	return s.router
}

// NewHTTPServer wraps the router in an http.Server. No write timeout is set
// because hub and bridge sockets are long-lived.
func (s *APIServer) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
}

func (s *APIServer) handleViewer(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok && s.verifier != nil {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if claims != nil {
		r = r.WithContext(tenant.WithContext(r.Context(), claims.TenantID))
	}

	s.relay.ServeViewer(w, r, claims)
}

func (s *APIServer) handleBridge(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	s.bridge.Serve(w, r, vars["sessionId"], vars["role"])
}

func (s *APIServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Version: version.GetVersion(), Started: s.startedAt}

	if s.relay != nil {
		resp.Agents = s.relay.Counter().Agents()
		resp.Viewers = s.relay.Counter().Viewers()
	}

	if err := s.encodeJSONResponse(w, resp); err != nil {
		s.logger.Error().Err(err).Msg("Error encoding health response")
	}
}

// encodeJSONResponse encodes a response as JSON
func (*APIServer) encodeJSONResponse(w http.ResponseWriter, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")

	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")

	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Message: message, Status: statusCode}); err != nil {
		// Fallback in case encoding fails
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}
