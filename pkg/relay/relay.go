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

// Package relay implements the two hubs of the relay: the agent hub that
// managed endpoints report to, and the viewer hub operators drive sessions
// from. Each hub forwards calls to connections of the other.
package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/carverauto/relay/pkg/bridge"
	"github.com/carverauto/relay/pkg/db"
	"github.com/carverauto/relay/pkg/hub"
	"github.com/carverauto/relay/pkg/logger"
	"github.com/carverauto/relay/pkg/models"
	"github.com/carverauto/relay/pkg/session"
)

const (
	AgentHubName  = "agent"
	ViewerHubName = "viewer"
)

// Agent hub targets.
const (
	TargetUpdateDevice                 = "UpdateDevice"
	TargetSendTerminalOutputToViewer   = "SendTerminalOutputToViewer"
	TargetSendStreamerDownloadProgress = "SendStreamerDownloadProgress"
)

// Viewer hub targets.
const (
	TargetRequestStreamingSession    = "RequestStreamingSession"
	TargetGetVncSession              = "GetVncSession"
	TargetCreateTerminalSession      = "CreateTerminalSession"
	TargetSendTerminalInput          = "SendTerminalInput"
	TargetGetWindowsSessions         = "GetWindowsSessions"
	TargetSendAlertBroadcast         = "SendAlertBroadcast"
	TargetClearAlert                 = "ClearAlert"
	TargetGetCurrentAlert            = "GetCurrentAlert"
	TargetGetServerStats             = "GetServerStats"
	TargetSendDtoToAgent             = "SendDtoToAgent"
	TargetGetWebSocketBridgeOrigin   = "GetWebSocketBridgeOrigin"
	TargetCheckIfServerAdministrator = "CheckIfServerAdministrator"
	TargetGetIceServers              = "GetIceServers"
	TargetGetAgentAppSettings        = "GetAgentAppSettings"
	TargetSendAgentAppSettings       = "SendAgentAppSettings"
)

// Reverse calls on agents.
const (
	AgentCreateStreamingSession  = "CreateStreamingSession"
	AgentCreateTerminalSession   = "CreateTerminalSession"
	AgentReceiveTerminalInput    = "ReceiveTerminalInput"
	AgentGetWindowsSessions      = "GetWindowsSessions"
	AgentUninstallAgent          = "UninstallAgent"
	AgentReceiveDto              = "ReceiveDto"
	AgentGetAgentAppSettings     = "GetAgentAppSettings"
	AgentReceiveAgentAppSettings = "ReceiveAgentAppSettings"
)

// Reverse calls on viewers.
const (
	ViewerReceiveDeviceUpdate             = "ReceiveDeviceUpdate"
	ViewerReceiveServerStats              = "ReceiveServerStats"
	ViewerReceiveTerminalOutput           = "ReceiveTerminalOutput"
	ViewerReceiveStreamerDownloadProgress = "ReceiveStreamerDownloadProgress"
	ViewerReceiveAlertBroadcast           = "ReceiveAlertBroadcast"
)

// Failure reasons returned to callers.
const (
	reasonNoTenants        = "No tenants found."
	reasonInvalidTenant    = "Invalid tenant ID."
	reasonUpdateFailed     = "An error occurred while updating the device."
	reasonAgentUnreachable = "Agent could not be reached."
	reasonUnauthorized     = "Unauthorized."
	reasonSessionRefused   = "Failed to request a streaming session from the agent."
	reasonAlertFailed      = "Failed to store the alert."
	reasonNoAlert          = "No alert is currently set."
	reasonStatsFailed      = "Failed to read server stats."
	reasonBadRequest       = "The request could not be read."
	reasonGetAppSettings   = "Failed to get agent app settings."
	reasonSendAppSettings  = "Failed to send agent app settings."
)

// PresencePublisher receives device online/offline transitions.
type PresencePublisher interface {
	PublishDevicePresence(ctx context.Context, device models.Device, state models.PresenceState) error
}

// Config is the subset of the relay configuration the hubs read.
type Config struct {
	Development bool
	Hub         models.HubConfig
	PublicURL   string
	CheckOrigin func(r *http.Request) bool
}

// Deps are the collaborators a Server is built from. Bridge and Events may
// be nil; the rest of the optional fields get defaults.
type Deps struct {
	Config  Config
	Devices db.DeviceRepository
	Tenants db.TenantStore
	Alerts  db.AlertStore
	Broker  *session.Broker
	Bridge  *bridge.Discovery
	Events  PresencePublisher
	ICE     *ICEProvider
	Counter *ConnectionCounter
	Stats   *StatsProvider
	Logger  logger.Logger
	Now     func() time.Time
}

// Server owns the agent and viewer hubs.
type Server struct {
	cfg     Config
	devices db.DeviceRepository
	tenants db.TenantStore
	alerts  db.AlertStore
	broker  *session.Broker
	bridge  *bridge.Discovery
	events  PresencePublisher
	ice     *ICEProvider
	counter *ConnectionCounter
	stats   *StatsProvider
	log     logger.Logger
	now     func() time.Time

	agents  *hub.Hub
	viewers *hub.Hub
}

// New wires both hubs and registers their targets.
func New(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	if deps.Logger == nil {
		deps.Logger = logger.NewTestLogger()
	}

	if deps.Broker == nil {
		deps.Broker = session.NewBroker(deps.Logger)
	}

	if deps.Counter == nil {
		deps.Counter = &ConnectionCounter{}
	}

	if deps.Stats == nil {
		deps.Stats = NewStatsProvider(deps.Counter, deps.Devices, deps.Tenants, deps.Logger)
	}

	if deps.ICE == nil {
		deps.ICE = NewICEProvider(models.ICEConfig{})
	}

	s := &Server{
		cfg:     deps.Config,
		devices: deps.Devices,
		tenants: deps.Tenants,
		alerts:  deps.Alerts,
		broker:  deps.Broker,
		bridge:  deps.Bridge,
		events:  deps.Events,
		ice:     deps.ICE,
		counter: deps.Counter,
		stats:   deps.Stats,
		log:     deps.Logger,
		now:     deps.Now,
	}

	s.agents = hub.New(AgentHubName, s.hubOptions(hub.RoleAgent))
	s.viewers = hub.New(ViewerHubName, s.hubOptions(hub.RoleViewer))

	s.registerAgentHub()
	s.registerViewerHub()

	return s
}

// Counter exposes the live connection counts.
func (s *Server) Counter() *ConnectionCounter { return s.counter }

func (s *Server) hubOptions(role hub.Role) hub.Options {
	return hub.Options{
		Role:           role,
		Logger:         s.log,
		InvokeTimeout:  time.Duration(s.cfg.Hub.InvokeTimeout),
		SendQueueSize:  s.cfg.Hub.SendQueueSize,
		MaxMessageSize: s.cfg.Hub.MaxMessageSize,
		PongWait:       time.Duration(s.cfg.Hub.PongWait),
		CheckOrigin:    s.cfg.CheckOrigin,
		Now:            s.now,
	}
}

func (s *Server) AgentHub() *hub.Hub { return s.agents }

func (s *Server) ViewerHub() *hub.Hub { return s.viewers }

// ServeAgent terminates an agent websocket. Agents are not authenticated at
// the transport; UpdateDevice validates the tenant they claim.
func (s *Server) ServeAgent(w http.ResponseWriter, r *http.Request) {
	s.agents.ServeWS(w, r, nil)
}

// ServeViewer terminates a viewer websocket for an authenticated identity.
func (s *Server) ServeViewer(w http.ResponseWriter, r *http.Request, identity *models.Claims) {
	s.viewers.ServeWS(w, r, identity)
}

// Close drops every connection on both hubs.
func (s *Server) Close() {
	s.agents.Close()
	s.viewers.Close()
}

// pushStats sends fresh server stats to the administrators group.
func (s *Server) pushStats(ctx context.Context) {
	stats, err := s.stats.GetServerStats(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Error while sending updated connection counts to admins")
		return
	}

	s.viewers.Clients().Group(hub.ServerAdministratorsGroup).Send(ViewerReceiveServerStats, stats)
}

// releaseSessions frees the streaming sessions a closing connection took
// part in.
func (s *Server) releaseSessions(state *hub.ConnState) {
	for _, id := range state.OwnedSessions() {
		if s.broker.Release(id, state.ID()) {
			s.log.Debug().
				Str("session_id", id.String()).
				Str("connection_id", state.ID()).
				Msg("Released streaming session on disconnect")
		}

		state.ReleaseSession(id)
	}
}

// viewerGroups are the viewer groups a device's updates fan out to.
func viewerGroups(device models.Device) []string {
	groups := make([]string, 0, len(device.TagIDs)+2)
	groups = append(groups, hub.RoleGroup(device.TenantID, models.RoleDeviceSuperUser))

	for _, tag := range device.TagIDs {
		groups = append(groups, hub.TagGroup(device.TenantID, tag))
	}

	return append(groups, hub.ServerAdministratorsGroup)
}

// agentGroups are the agent groups a device's connection belongs to.
func agentGroups(device models.Device) []string {
	groups := make([]string, 0, len(device.TagIDs)+2)
	groups = append(groups,
		hub.TenantDevicesGroup(device.TenantID),
		hub.DeviceGroup(device.TenantID, device.ID),
	)

	for _, tag := range device.TagIDs {
		groups = append(groups, hub.TagGroup(device.TenantID, tag))
	}

	return groups
}

func (s *Server) broadcastDevice(device models.Device) int {
	return s.viewers.Clients().Groups(viewerGroups(device)...).Send(ViewerReceiveDeviceUpdate, device)
}

func (s *Server) publishPresence(ctx context.Context, device models.Device, state models.PresenceState) {
	if s.events == nil {
		return
	}

	if err := s.events.PublishDevicePresence(ctx, device, state); err != nil {
		s.log.Warn().
			Err(err).
			Str("device_id", device.ID.String()).
			Str("state", string(state)).
			Msg("Failed to publish device presence event")
	}
}
