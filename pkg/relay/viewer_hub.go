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

package relay

import (
	"context"
	"net/url"
	"strings"

	"github.com/carverauto/relay/pkg/hub"
	"github.com/carverauto/relay/pkg/models"
	"github.com/carverauto/relay/pkg/tenant"
	"github.com/google/uuid"
)

func (s *Server) registerViewerHub() {
	handlers := map[string]hub.HandlerFunc{
		TargetRequestStreamingSession:    s.requestStreamingSession,
		TargetGetVncSession:              s.requestStreamingSession,
		TargetCreateTerminalSession:      s.createTerminalSession,
		TargetSendTerminalInput:          s.sendTerminalInput,
		TargetGetWindowsSessions:         s.getWindowsSessions,
		TargetSendAlertBroadcast:         s.sendAlertBroadcast,
		TargetClearAlert:                 s.clearAlert,
		TargetGetCurrentAlert:            s.getCurrentAlert,
		TargetGetServerStats:             s.getServerStats,
		TargetSendDtoToAgent:             s.sendDtoToAgent,
		TargetGetWebSocketBridgeOrigin:   s.getWebSocketBridgeOrigin,
		TargetCheckIfServerAdministrator: s.checkIfServerAdministrator,
		TargetGetIceServers:              s.getIceServers,
		TargetGetAgentAppSettings:        s.getAgentAppSettings,
		TargetSendAgentAppSettings:       s.sendAgentAppSettings,
	}

	for target, fn := range handlers {
		s.viewers.Handle(target, s.authenticated(target, fn))
	}

	s.viewers.OnConnected(s.viewerConnected)
	s.viewers.OnDisconnected(s.viewerDisconnected)
}

// authenticated refuses calls from connections without an identity with an
// "Unauthorized." failure.
func (s *Server) authenticated(target string, fn hub.HandlerFunc) hub.HandlerFunc {
	return func(ctx context.Context, call *hub.Call) (any, error) {
		if call.Identity() == nil {
			s.log.Error().
				Str("operation", target).
				Str("connection_id", call.ConnectionID()).
				Msg("Refused call from unauthenticated viewer")

			return models.Failed(reasonUnauthorized), nil
		}

		return fn(ctx, call)
	}
}

func (s *Server) viewerConnected(ctx context.Context, state *hub.ConnState) {
	s.counter.IncrementViewers()
	s.pushStats(ctx)

	claims := state.Identity()
	if claims == nil {
		s.log.Warn().Str("connection_id", state.ID()).Msg("Viewer connected without an identity")
		return
	}

	registry := s.viewers.Registry()
	groups := make([]string, 0, len(claims.Roles)+len(claims.TagIDs)+1)

	for _, role := range claims.Roles {
		groups = append(groups, hub.RoleGroup(claims.TenantID, role))
	}

	for _, tag := range claims.TagIDs {
		groups = append(groups, hub.TagGroup(claims.TenantID, tag))
	}

	if claims.IsServerAdmin() {
		groups = append(groups, hub.ServerAdministratorsGroup)
	}

	for _, g := range groups {
		if err := registry.AddToGroup(state.ID(), g); err != nil {
			s.log.Error().Err(err).Str("group", g).Msg("Error while adding viewer to group")
		}
	}

	state.SetTenantID(claims.TenantID)

	if !claims.IsServerAdmin() {
		return
	}

	stats, err := s.stats.GetServerStats(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Error while reading server stats for new administrator")
		return
	}

	if err := s.viewers.Clients().Client(state.ID()).Send(ViewerReceiveServerStats, stats); err != nil {
		s.log.Debug().Err(err).Str("connection_id", state.ID()).Msg("Failed to send initial server stats")
	}
}

func (s *Server) viewerDisconnected(ctx context.Context, state *hub.ConnState, _ error) {
	s.counter.DecrementViewers()
	s.pushStats(ctx)
	s.releaseSessions(state)
}

// requireAdmin logs and refuses non-administrators.
func (s *Server) requireAdmin(call *hub.Call, operation string) bool {
	claims := call.Identity()
	if claims.IsServerAdmin() {
		return true
	}

	s.log.Error().
		Str("operation", operation).
		Str("user", claims.DisplayName()).
		Str("connection_id", call.ConnectionID()).
		Msg("Admin verification failed")

	return false
}

func (s *Server) requestStreamingSession(ctx context.Context, call *hub.Call) (any, error) {
	var (
		agentConnectionID string
		req               models.StreamerSessionRequest
	)

	if err := call.Bind(&agentConnectionID, &req); err != nil {
		return models.Fail[models.StreamerSessionRequest](reasonBadRequest), nil
	}

	agentState, ok := s.agents.Registry().Get(agentConnectionID)
	if !ok {
		return models.Fail[models.StreamerSessionRequest](reasonAgentUnreachable), nil
	}

	signaler := s.broker.Open(req.SessionID, call.ConnectionID(), agentConnectionID)

	req.SessionID = signaler.SessionID
	req.ViewerConnectionID = call.ConnectionID()
	req.ViewerName = call.Identity().DisplayName()

	if req.WebSocketURI == "" {
		req.WebSocketURI = s.bridgeURI(req.SessionID)
	}

	call.State().OwnSession(req.SessionID)
	agentState.OwnSession(req.SessionID)

	release := func() {
		s.broker.Release(req.SessionID, call.ConnectionID())
		call.State().ReleaseSession(req.SessionID)
		agentState.ReleaseSession(req.SessionID)
	}

	var accepted bool

	err := s.agents.Clients().Client(agentConnectionID).Invoke(ctx, AgentCreateStreamingSession, &accepted, req)
	if err != nil {
		release()
		s.log.Error().
			Err(err).
			Str("agent_connection_id", agentConnectionID).
			Str("session_id", req.SessionID.String()).
			Msg("Error while requesting streaming session")

		return models.Fail[models.StreamerSessionRequest](reasonAgentUnreachable), nil
	}

	if !accepted {
		release()
		return models.Fail[models.StreamerSessionRequest](reasonSessionRefused), nil
	}

	return models.OK(req), nil
}

// bridgeURI is where both sides of a session meet. The agent and viewer
// each append their role.
func (s *Server) bridgeURI(id uuid.UUID) string {
	base := strings.TrimRight(s.cfg.PublicURL, "/")
	if base == "" {
		return "/bridge/" + id.String()
	}

	u, err := url.Parse(base)
	if err != nil {
		return base + "/bridge/" + id.String()
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	return u.JoinPath("bridge", id.String()).String()
}

func (s *Server) createTerminalSession(ctx context.Context, call *hub.Call) (any, error) {
	var (
		agentConnectionID string
		req               models.TerminalSessionRequest
	)

	if err := call.Bind(&agentConnectionID, &req); err != nil {
		return models.Fail[models.TerminalSessionRequestResult](reasonBadRequest), nil
	}

	req.ViewerConnectionID = call.ConnectionID()

	var result models.Result[models.TerminalSessionRequestResult]

	err := s.agents.Clients().Client(agentConnectionID).Invoke(ctx, AgentCreateTerminalSession, &result, req)
	if err != nil {
		s.log.Error().Err(err).Str("agent_connection_id", agentConnectionID).Msg("Error while creating terminal session")
		return models.Fail[models.TerminalSessionRequestResult](reasonAgentUnreachable), nil
	}

	return result, nil
}

func (s *Server) sendTerminalInput(ctx context.Context, call *hub.Call) (any, error) {
	var (
		agentConnectionID string
		input             models.TerminalInput
	)

	if err := call.Bind(&agentConnectionID, &input); err != nil {
		return models.Failed(reasonBadRequest), nil
	}

	var status models.Status

	err := s.agents.Clients().Client(agentConnectionID).Invoke(ctx, AgentReceiveTerminalInput, &status, input)
	if err != nil {
		s.log.Error().Err(err).Str("agent_connection_id", agentConnectionID).Msg("Error while sending terminal input")
		return models.Failed(reasonAgentUnreachable), nil
	}

	return status, nil
}

func (s *Server) getAgentAppSettings(ctx context.Context, call *hub.Call) (any, error) {
	var agentConnectionID string
	if err := call.Bind(&agentConnectionID); err != nil {
		return models.Fail[models.AgentAppSettings](reasonBadRequest), nil
	}

	var result models.Result[models.AgentAppSettings]

	err := s.agents.Clients().Client(agentConnectionID).Invoke(ctx, AgentGetAgentAppSettings, &result)
	if err != nil {
		s.log.Error().Err(err).Str("agent_connection_id", agentConnectionID).Msg("Error while getting agent appsettings")
		return models.Fail[models.AgentAppSettings](reasonGetAppSettings), nil
	}

	return result, nil
}

func (s *Server) sendAgentAppSettings(ctx context.Context, call *hub.Call) (any, error) {
	var (
		agentConnectionID string
		settings          models.AgentAppSettings
	)

	if err := call.Bind(&agentConnectionID, &settings); err != nil {
		return models.Failed(reasonBadRequest), nil
	}

	var status models.Status

	err := s.agents.Clients().Client(agentConnectionID).Invoke(ctx, AgentReceiveAgentAppSettings, &status, settings)
	if err != nil {
		s.log.Error().Err(err).Str("agent_connection_id", agentConnectionID).Msg("Error while sending agent appsettings")
		return models.Failed(reasonSendAppSettings), nil
	}

	return status, nil
}

func (s *Server) getWindowsSessions(ctx context.Context, call *hub.Call) (any, error) {
	sessions := []models.WindowsSession{}

	var agentConnectionID string
	if err := call.Bind(&agentConnectionID); err != nil {
		return sessions, nil
	}

	var reply []models.WindowsSession

	err := s.agents.Clients().Client(agentConnectionID).Invoke(ctx, AgentGetWindowsSessions, &reply)
	if err != nil {
		s.log.Error().Err(err).Str("agent_connection_id", agentConnectionID).Msg("Error while getting Windows sessions from agent")
		return sessions, nil
	}

	return append(sessions, reply...), nil
}

func (s *Server) sendAlertBroadcast(ctx context.Context, call *hub.Call) (any, error) {
	var alert models.AlertBroadcast
	if err := call.Bind(&alert); err != nil {
		return models.Failed(reasonBadRequest), nil
	}

	if err := s.alerts.Store(ctx, alert); err != nil {
		s.log.Error().Err(err).Msg("Error while storing alert")
		return models.Failed(reasonAlertFailed), nil
	}

	delivered := s.viewers.Clients().All().Send(ViewerReceiveAlertBroadcast, alert)

	s.log.Info().
		Str("user", call.Identity().DisplayName()).
		Int("delivered", delivered).
		Msg("Alert broadcast sent")

	return models.Succeeded(), nil
}

func (s *Server) clearAlert(ctx context.Context, call *hub.Call) (any, error) {
	if !s.requireAdmin(call, TargetClearAlert) {
		return models.Failed(reasonUnauthorized), nil
	}

	if err := s.alerts.Clear(ctx); err != nil {
		s.log.Error().Err(err).Msg("Error while clearing alert")
		return models.Failed(reasonAlertFailed), nil
	}

	return models.Succeeded(), nil
}

func (s *Server) getCurrentAlert(ctx context.Context, _ *hub.Call) (any, error) {
	alert, ok, err := s.alerts.GetCurrent(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Error while reading current alert")
		return models.Fail[models.AlertBroadcast](reasonAlertFailed), nil
	}

	if !ok {
		return models.Fail[models.AlertBroadcast](reasonNoAlert), nil
	}

	return models.OK(alert), nil
}

func (s *Server) getServerStats(ctx context.Context, call *hub.Call) (any, error) {
	if !s.requireAdmin(call, TargetGetServerStats) {
		return models.Fail[models.ServerStats](reasonUnauthorized), nil
	}

	stats, err := s.stats.GetServerStats(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Error while reading server stats")
		return models.Fail[models.ServerStats](reasonStatsFailed), nil
	}

	return models.OK(stats), nil
}

// sendDtoToAgent relays an opaque payload to every agent connection of a
// device in the caller's tenant.
func (s *Server) sendDtoToAgent(ctx context.Context, call *hub.Call) (any, error) {
	var (
		deviceID uuid.UUID
		wrapper  models.DtoWrapper
	)

	if err := call.Bind(&deviceID, &wrapper); err != nil {
		s.log.Error().Err(err).Str("connection_id", call.ConnectionID()).Msg("Error while sending DTO to agent")
		return nil, nil
	}

	group := hub.DeviceGroup(callerTenant(ctx, call), deviceID)
	delivered := s.agents.Clients().Group(group).Send(AgentReceiveDto, wrapper)

	s.log.Debug().
		Str("device_id", deviceID.String()).
		Int("dto_type", int(wrapper.DtoType)).
		Int("delivered", delivered).
		Msg("Relayed DTO to agent")

	return nil, nil
}

func (s *Server) getWebSocketBridgeOrigin(ctx context.Context, call *hub.Call) (any, error) {
	origin := s.bridge.Origin(ctx, call.State().RemoteIP())
	if origin == nil {
		return nil, nil
	}

	return origin.String(), nil
}

func (*Server) checkIfServerAdministrator(_ context.Context, call *hub.Call) (any, error) {
	return call.Identity().IsServerAdmin(), nil
}

func (s *Server) getIceServers(_ context.Context, call *hub.Call) (any, error) {
	return s.ice.Servers(call.Identity().Subject), nil
}

// callerTenant prefers the tenant the HTTP layer attached to the upgrade
// request and falls back to the connection's claims.
func callerTenant(ctx context.Context, call *hub.Call) uuid.UUID {
	if id, err := tenant.FromContext(ctx); err == nil {
		return id
	}

	return call.Identity().TenantID
}
