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
	"time"

	"github.com/google/uuid"
)

// StreamerSessionRequest asks an agent to launch a streamer for a viewer.
type StreamerSessionRequest struct {
	SessionID                uuid.UUID `json:"session_id"`
	WebSocketURI             string    `json:"websocket_uri"`
	TargetSystemSession      int       `json:"target_system_session"`
	TargetProcessID          int       `json:"target_process_id,omitempty"`
	ViewerConnectionID       string    `json:"viewer_connection_id"`
	DeviceID                 uuid.UUID `json:"device_id"`
	NotifyUserOnSessionStart bool      `json:"notify_user_on_session_start"`
	ViewerName               string    `json:"viewer_name,omitempty"`
}

// TerminalSessionRequest asks an agent to open a shell.
type TerminalSessionRequest struct {
	TerminalID         uuid.UUID `json:"terminal_id"`
	ViewerConnectionID string    `json:"viewer_connection_id"`
}

// TerminalSessionRequestResult reports the shell the agent started.
type TerminalSessionRequestResult struct {
	Shell string `json:"shell"`
}

// TerminalInput is a chunk of keystrokes forwarded to an agent shell.
type TerminalInput struct {
	TerminalID uuid.UUID `json:"terminal_id"`
	Input      string    `json:"input"`
}

// TerminalOutputKind distinguishes stdout, stderr and exit notices.
type TerminalOutputKind int

const (
	TerminalOutputStandard TerminalOutputKind = iota
	TerminalOutputError
	TerminalOutputExit
)

// TerminalOutput is a chunk of shell output relayed back to a viewer.
type TerminalOutput struct {
	TerminalID uuid.UUID          `json:"terminal_id"`
	Output     string             `json:"output"`
	Kind       TerminalOutputKind `json:"kind"`
	Timestamp  time.Time          `json:"timestamp"`
}

// StreamerDownloadProgress is reported while an agent fetches or patches
// the streamer binary. Progress runs 0.0 to 1.0; a negative value marks an
// indeterminate phase.
type StreamerDownloadProgress struct {
	StreamingSessionID uuid.UUID `json:"streaming_session_id"`
	ViewerConnectionID string    `json:"viewer_connection_id"`
	Progress           float64   `json:"progress"`
	Message            string    `json:"message"`
}

// Indeterminate reports whether the progress value carries no ratio.
func (p StreamerDownloadProgress) Indeterminate() bool {
	return p.Progress < 0
}

// WindowsSessionType mirrors the console/RDP split of interactive sessions.
type WindowsSessionType int

const (
	WindowsSessionConsole WindowsSessionType = iota
	WindowsSessionRDP
)

// WindowsSession is one interactive OS session on an agent.
type WindowsSession struct {
	ID       int                `json:"id"`
	Name     string             `json:"name"`
	Type     WindowsSessionType `json:"type"`
	Username string             `json:"username"`
}

// AlertSeverity orders alerts for display.
type AlertSeverity int

const (
	AlertInformation AlertSeverity = iota
	AlertWarning
	AlertError
)

// AlertBroadcast is the banner pushed to every viewer.
type AlertBroadcast struct {
	Message  string        `json:"message"`
	Severity AlertSeverity `json:"severity"`
}

// DtoType tags an opaque payload relayed to agents.
type DtoType int

const (
	DtoNone                    DtoType = 0
	DtoStreamingSessionRequest DtoType = 2
	DtoGetWindowsSessions      DtoType = 3
	DtoTerminalSessionRequest  DtoType = 5
	DtoCloseTerminalRequest    DtoType = 7
	DtoPowerStateChange        DtoType = 8
	DtoTerminalInput           DtoType = 9
	DtoWakeDevice              DtoType = 13
	DtoCloseStreamingSession   DtoType = 19
	DtoInvokeCtrlAltDel        DtoType = 20
	DtoTriggerAgentUpdate      DtoType = 22
)

// DtoWrapper carries a payload the relay does not interpret.
type DtoWrapper struct {
	DtoType DtoType `json:"dto_type"`
	Payload []byte  `json:"payload"`
}

// IceServer is a STUN/TURN entry handed to viewers for WebRTC.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// AgentAppOptions are the agent's persisted appsettings values an operator
// can read and change remotely.
type AgentAppOptions struct {
	DeviceID       uuid.UUID `json:"device_id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	ServerURI      string    `json:"server_uri"`
	VncPort        int       `json:"vnc_port,omitempty"`
	AutoRunVnc     bool      `json:"auto_run_vnc"`
	AuthorizedKeys []string  `json:"authorized_keys,omitempty"`
}

// AgentAppSettings is the agent's settings document.
type AgentAppSettings struct {
	AppOptions AgentAppOptions `json:"app_options"`
}
