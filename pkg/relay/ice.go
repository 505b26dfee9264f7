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
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // coTURN's REST credential scheme is defined over HMAC-SHA1
	"encoding/base64"
	"fmt"
	"slices"
	"time"

	"github.com/carverauto/relay/pkg/models"
)

const defaultTurnCredentialTTL = 30 * time.Minute

// ICEProvider hands viewers their STUN/TURN list. With a shared secret the
// TURN entries get short-lived credentials in the coTURN REST format.
type ICEProvider struct {
	cfg models.ICEConfig
	now func() time.Time
}

func NewICEProvider(cfg models.ICEConfig) *ICEProvider {
	return &ICEProvider{cfg: cfg, now: time.Now}
}

// Servers returns the static entries followed by a credentialed TURN entry
// for user, when TURN is configured.
func (p *ICEProvider) Servers(user string) []models.IceServer {
	servers := make([]models.IceServer, 0, len(p.cfg.Servers)+1)

	for _, s := range p.cfg.Servers {
		s.URLs = slices.Clone(s.URLs)
		servers = append(servers, s)
	}

	if p.cfg.TurnSecret == "" || len(p.cfg.TurnURLs) == 0 {
		return servers
	}

	ttl := time.Duration(p.cfg.TurnCredentialTTL)
	if ttl <= 0 {
		ttl = defaultTurnCredentialTTL
	}

	username, credential := TurnCredentials(p.cfg.TurnSecret, user, p.now().Add(ttl))

	return append(servers, models.IceServer{
		URLs:       slices.Clone(p.cfg.TurnURLs),
		Username:   username,
		Credential: credential,
	})
}

// TurnCredentials derives the username "<expiry-unix>:<user>" and its
// base64 HMAC-SHA1 under secret.
func TurnCredentials(secret, user string, expires time.Time) (string, string) {
	username := fmt.Sprintf("%d:%s", expires.Unix(), user)

	mac := hmac.New(sha1.New, []byte(secret))
	_, _ = mac.Write([]byte(username))

	return username, base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
