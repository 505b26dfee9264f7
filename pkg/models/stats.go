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

import "time"

// ServerStats is pushed to administrators after every connect and disconnect.
type ServerStats struct {
	AgentCount    int64     `json:"agent_count"`
	ViewerCount   int64     `json:"viewer_count"`
	TotalDevices  int64     `json:"total_devices"`
	OnlineDevices int64     `json:"online_devices"`
	TotalTenants  int64     `json:"total_tenants"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	Timestamp     time.Time `json:"timestamp"`
}
