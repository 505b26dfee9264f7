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
	"crypto/sha1" //nolint:gosec // matches the credential scheme under test
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/carverauto/relay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnCredentials(t *testing.T) {
	expires := time.Unix(1700000000, 0)

	username, credential := TurnCredentials("s3cret", "alice", expires)
	assert.Equal(t, "1700000000:alice", username)

	mac := hmac.New(sha1.New, []byte("s3cret"))
	_, _ = mac.Write([]byte(username))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), credential)

	_, other := TurnCredentials("different", "alice", expires)
	assert.NotEqual(t, credential, other)
}

func TestICEProviderServers(t *testing.T) {
	stun := models.IceServer{URLs: []string{"stun:stun.example.com:3478"}}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("static only", func(t *testing.T) {
		p := NewICEProvider(models.ICEConfig{Servers: []models.IceServer{stun}})

		servers := p.Servers("alice")
		require.Len(t, servers, 1)
		assert.Equal(t, stun, servers[0])
	})

	t.Run("secret without urls adds nothing", func(t *testing.T) {
		p := NewICEProvider(models.ICEConfig{Servers: []models.IceServer{stun}, TurnSecret: "s"})
		assert.Len(t, p.Servers("alice"), 1)
	})

	t.Run("credentialed turn entry", func(t *testing.T) {
		p := NewICEProvider(models.ICEConfig{
			Servers:    []models.IceServer{stun},
			TurnURLs:   []string{"turn:turn.example.com:3478"},
			TurnSecret: "s",
		})
		p.now = func() time.Time { return now }

		servers := p.Servers("alice")
		require.Len(t, servers, 2)

		turn := servers[1]
		assert.Equal(t, []string{"turn:turn.example.com:3478"}, turn.URLs)
		assert.True(t, strings.HasSuffix(turn.Username, ":alice"))

		wantUser, wantCred := TurnCredentials("s", "alice", now.Add(defaultTurnCredentialTTL))
		assert.Equal(t, wantUser, turn.Username)
		assert.Equal(t, wantCred, turn.Credential)
	})

	t.Run("configured ttl", func(t *testing.T) {
		p := NewICEProvider(models.ICEConfig{
			TurnURLs:          []string{"turn:turn.example.com:3478"},
			TurnSecret:        "s",
			TurnCredentialTTL: models.Duration(time.Hour),
		})
		p.now = func() time.Time { return now }

		servers := p.Servers("bob")
		require.Len(t, servers, 1)

		wantUser, _ := TurnCredentials("s", "bob", now.Add(time.Hour))
		assert.Equal(t, wantUser, servers[0].Username)
	})

	t.Run("returned urls are copies", func(t *testing.T) {
		p := NewICEProvider(models.ICEConfig{Servers: []models.IceServer{stun}})

		p.Servers("alice")[0].URLs[0] = "mutated"
		assert.Equal(t, "stun:stun.example.com:3478", p.Servers("alice")[0].URLs[0])
	})
}

func TestConnectionCounter(t *testing.T) {
	c := &ConnectionCounter{}

	assert.Equal(t, int64(1), c.IncrementAgents())
	assert.Equal(t, int64(2), c.IncrementAgents())
	assert.Equal(t, int64(1), c.DecrementAgents())
	assert.Equal(t, int64(1), c.IncrementViewers())
	assert.Equal(t, int64(0), c.DecrementViewers())

	assert.Equal(t, int64(1), c.Agents())
	assert.Equal(t, int64(0), c.Viewers())
}
