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
	"errors"
	"slices"

	"github.com/carverauto/relay/pkg/hub"
	"github.com/carverauto/relay/pkg/models"
	"github.com/carverauto/relay/pkg/tenant"
)

func (s *Server) registerAgentHub() {
	s.agents.Handle(TargetUpdateDevice, s.updateDevice)
	s.agents.Handle(TargetSendTerminalOutputToViewer, s.sendTerminalOutputToViewer)
	s.agents.Handle(TargetSendStreamerDownloadProgress, s.sendStreamerDownloadProgress)

	s.agents.OnConnected(s.agentConnected)
	s.agents.OnDisconnected(s.agentDisconnected)
}

func (s *Server) agentConnected(ctx context.Context, _ *hub.ConnState) {
	s.counter.IncrementAgents()
	s.pushStats(ctx)
}

// agentDisconnected marks the connection's device offline. A device that
// never completed an update has nothing to report.
func (s *Server) agentDisconnected(ctx context.Context, state *hub.ConnState, _ error) {
	s.counter.DecrementAgents()
	s.pushStats(ctx)
	s.releaseSessions(state)

	cached, ok := state.Device.Get()
	if !ok {
		return
	}

	state.Device.Clear()

	// The device may already have reconnected on a newer connection.
	if current, err := s.devices.Get(ctx, cached.ID); err == nil &&
		current.ConnectionID != "" && current.ConnectionID != state.ID() {
		s.log.Debug().
			Str("device_id", cached.ID.String()).
			Str("connection_id", state.ID()).
			Msg("Device moved to a newer connection; skipping offline update")

		return
	}

	offline := cached.WithOffline(s.now())

	stored, err := s.devices.Upsert(ctx, offline)
	if err != nil {
		s.log.Error().Err(err).Str("device_id", cached.ID.String()).Msg("Error while persisting offline device")

		stored = offline
	}

	s.broadcastDevice(stored)
	s.publishPresence(ctx, stored, models.PresenceOffline)
}

func (s *Server) updateDevice(ctx context.Context, call *hub.Call) (any, error) {
	var req models.DeviceUpdateRequest
	if err := call.Bind(&req); err != nil {
		s.log.Warn().Err(err).Str("connection_id", call.ConnectionID()).Msg("Malformed device update")
		recordDeviceUpdate(ctx, "malformed")

		return models.Fail[models.Device](reasonUpdateFailed), nil
	}

	result := s.acceptDevice(ctx, call, req)

	outcome := "ok"
	if !result.IsSuccess {
		outcome = "rejected"
	}

	recordDeviceUpdate(ctx, outcome)

	return result, nil
}

func (s *Server) acceptDevice(ctx context.Context, call *hub.Call, req models.DeviceUpdateRequest) models.Result[models.Device] {
	tenantID, err := tenant.Resolve(ctx, s.tenants, req.TenantID, s.cfg.Development)

	switch {
	case errors.Is(err, tenant.ErrNoTenants):
		return models.Fail[models.Device](reasonNoTenants)
	case errors.Is(err, tenant.ErrInvalidTenant):
		s.log.Warn().
			Str("device_id", req.ID.String()).
			Str("tenant_id", req.TenantID.String()).
			Msg("Rejected device with invalid tenant; sending uninstall")

		if err := s.agents.Clients().Caller(call).Send(AgentUninstallAgent, reasonInvalidTenant); err != nil {
			s.log.Warn().Err(err).Str("connection_id", call.ConnectionID()).Msg("Failed to send uninstall")
		}

		return models.Fail[models.Device](reasonInvalidTenant)
	case err != nil:
		s.log.Error().Err(err).Str("device_id", req.ID.String()).Msg("Error while updating device")
		return models.Fail[models.Device](reasonUpdateFailed)
	}

	req.TenantID = tenantID
	state := call.State()

	device := req.ToDevice().
		WithOnline(call.ConnectionID(), s.now()).
		WithPublicIP(state.RemoteIP())

	stored, err := s.devices.Upsert(ctx, device)
	if err != nil {
		s.log.Error().Err(err).Str("device_id", device.ID.String()).Msg("Error while updating device")
		return models.Fail[models.Device](reasonUpdateFailed)
	}

	// Groups are joined only for a persisted device so relays never reach
	// one that was rejected.
	if err := s.syncAgentGroups(call.ConnectionID(), stored); err != nil {
		s.log.Error().Err(err).Str("device_id", device.ID.String()).Msg("Error while joining device groups")
		return models.Fail[models.Device](reasonUpdateFailed)
	}

	state.SetTenantID(tenantID)
	state.Device.Set(stored)

	s.broadcastDevice(stored)
	s.publishPresence(ctx, stored, models.PresenceOnline)

	return models.OK(stored)
}

// syncAgentGroups joins the device's groups and leaves those it no longer
// belongs to, such as a tag that was removed. Joining is idempotent.
func (s *Server) syncAgentGroups(connectionID string, device models.Device) error {
	registry := s.agents.Registry()
	wanted := agentGroups(device)

	for _, g := range registry.GroupsOf(connectionID) {
		if !slices.Contains(wanted, g) {
			registry.RemoveFromGroup(connectionID, g)
		}
	}

	for _, g := range wanted {
		if err := registry.AddToGroup(connectionID, g); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) sendTerminalOutputToViewer(_ context.Context, call *hub.Call) (any, error) {
	var (
		viewerConnectionID string
		output             models.TerminalOutput
	)

	if err := call.Bind(&viewerConnectionID, &output); err != nil {
		s.log.Error().Err(err).Msg("Error while sending terminal output to viewer")
		return nil, nil
	}

	if err := s.viewers.Clients().Client(viewerConnectionID).Send(ViewerReceiveTerminalOutput, output); err != nil {
		s.log.Error().
			Err(err).
			Str("viewer_connection_id", viewerConnectionID).
			Msg("Error while sending terminal output to viewer")
	}

	return nil, nil
}

func (s *Server) sendStreamerDownloadProgress(_ context.Context, call *hub.Call) (any, error) {
	var progress models.StreamerDownloadProgress
	if err := call.Bind(&progress); err != nil {
		s.log.Error().Err(err).Msg("Error while relaying streamer download progress")
		return nil, nil
	}

	if err := s.viewers.Clients().Client(progress.ViewerConnectionID).Send(ViewerReceiveStreamerDownloadProgress, progress); err != nil {
		s.log.Debug().
			Err(err).
			Str("viewer_connection_id", progress.ViewerConnectionID).
			Msg("Dropped streamer download progress")
	}

	return nil, nil
}
