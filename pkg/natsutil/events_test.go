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

package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/carverauto/relay/pkg/logger"
	"github.com/carverauto/relay/pkg/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTestFixture = errors.New("fixture error")

type published struct {
	subject string
	payload []byte
}

type fakeJetStream struct {
	msgs []published
	err  error
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.msgs = append(f.msgs, published{subject: subject, payload: payload})

	return &jetstream.PubAck{Stream: "events", Sequence: uint64(len(f.msgs))}, nil
}

func TestEnsureSubjectList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		subjects []string
		subject  string
		want     []string
	}{
		{
			name:    "adds subject when list empty",
			subject: "events.devices.>",
			want:    []string{"events.devices.>"},
		},
		{
			name:     "keeps list when wildcard matches",
			subjects: []string{"events.>"},
			subject:  "events.devices.>",
			want:     []string{"events.>"},
		},
		{
			name:     "keeps list when identical",
			subjects: []string{"events.devices.>"},
			subject:  "events.devices.>",
			want:     []string{"events.devices.>"},
		},
		{
			name:     "appends when unmatched",
			subjects: []string{"logs.syslog.*"},
			subject:  "events.devices.>",
			want:     []string{"logs.syslog.*", "events.devices.>"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ensureSubjectList(append([]string(nil), tc.subjects...), tc.subject)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatchesSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pattern  string
		subject  string
		expected bool
	}{
		{"exact match", "events.devices.online", "events.devices.online", true},
		{"single wildcard", "events.*.online", "events.devices.online", true},
		{"greater wildcard", "events.>", "events.devices.online", true},
		{"greater wildcard needs a token", "events.devices.>", "events.devices", false},
		{"no match length", "events.*", "events.devices.online", false},
		{"no match tokens", "logs.syslog.*", "events.devices.online", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, matchesSubject(tc.pattern, tc.subject))
		})
	}
}

func TestIsStreamMissingErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"jetstream no stream response", jetstream.ErrNoStreamResponse, true},
		{"jetstream stream not found", jetstream.ErrStreamNotFound, true},
		{"nats no stream response", nats.ErrNoStreamResponse, true},
		{"nats stream not found", nats.ErrStreamNotFound, true},
		{"nats no responders", nats.ErrNoResponders, true},
		{"other error", errTestFixture, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, isStreamMissingErr(tc.err))
		})
	}
}

func TestPublishDevicePresence(t *testing.T) {
	js := &fakeJetStream{}
	p := NewEventPublisher(js, "events", "events.devices", logger.NewTestLogger())

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	device := models.Device{ID: uuid.New(), TenantID: uuid.New()}
	device.Name = "build-01"
	device = device.WithOnline("conn-1", at).WithPublicIP(net.ParseIP("203.0.113.9"))

	require.NoError(t, p.PublishDevicePresence(context.Background(), device, models.PresenceOnline))
	require.Len(t, js.msgs, 1)
	assert.Equal(t, "events.devices.online", js.msgs[0].subject)

	var event struct {
		models.CloudEvent
		Data models.DevicePresenceEventData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(js.msgs[0].payload, &event))

	assert.Equal(t, "1.0", event.SpecVersion)
	assert.Equal(t, "com.carverauto.relay.device.presence.online", event.Type)
	assert.Equal(t, "events.devices.online", event.Subject)
	assert.Equal(t, device.ID, event.Data.DeviceID)
	assert.Equal(t, device.TenantID, event.Data.TenantID)
	assert.Equal(t, "build-01", event.Data.Name)
	assert.Equal(t, "conn-1", event.Data.ConnectionID)
	assert.Equal(t, "203.0.113.9", event.Data.PublicIPV4)
	assert.True(t, at.Equal(event.Data.Timestamp))
}

func TestPublishDevicePresenceError(t *testing.T) {
	js := &fakeJetStream{err: errTestFixture}
	p := NewEventPublisher(js, "events", "events.devices", logger.NewTestLogger())

	err := p.PublishDevicePresence(context.Background(), models.Device{ID: uuid.New()}, models.PresenceOffline)
	require.ErrorIs(t, err, errTestFixture)
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *EventPublisher

	require.NoError(t, p.PublishDevicePresence(context.Background(), models.Device{}, models.PresenceOnline))
	assert.Empty(t, p.Stream())
}

func TestTLSConfigRequiresKeyPair(t *testing.T) {
	_, err := TLSConfig(nil)
	require.ErrorIs(t, err, ErrMTLSRequired)

	_, err = TLSConfig(&models.TLSConfig{CAFile: "/tmp/ca.pem"})
	require.ErrorIs(t, err, ErrMTLSRequired)
}
