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

// Package natsutil publishes relay events to NATS JetStream.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carverauto/relay/pkg/logger"
	"github.com/carverauto/relay/pkg/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	eventSource      = "serviceradar/relay"
	presenceTypeBase = "com.carverauto.relay.device.presence."
	clientName       = "serviceradar-relay"
)

// streamPublisher is the slice of jetstream.JetStream the publisher needs.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher provides methods for publishing CloudEvents to NATS JetStream.
// A nil *EventPublisher is valid and publishes nothing.
type EventPublisher struct {
	js      streamPublisher
	stream  string
	subject string
	log     logger.Logger
	now     func() time.Time
}

// NewEventPublisher creates an EventPublisher that publishes under subject.
func NewEventPublisher(js streamPublisher, streamName, subject string, log logger.Logger) *EventPublisher {
	return &EventPublisher{
		js:      js,
		stream:  streamName,
		subject: subject,
		log:     log,
		now:     time.Now,
	}
}

// Stream is the JetStream stream events land in.
func (p *EventPublisher) Stream() string {
	if p == nil {
		return ""
	}

	return p.stream
}

// PresenceSubject is the subject a presence transition is published on.
func (p *EventPublisher) PresenceSubject(state models.PresenceState) string {
	return p.subject + "." + string(state)
}

// PublishDevicePresence publishes a device.presence.<state> event.
func (p *EventPublisher) PublishDevicePresence(ctx context.Context, device models.Device, state models.PresenceState) error {
	if p == nil {
		return nil
	}

	at := p.now().UTC()
	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            presenceTypeBase + string(state),
		DataContentType: "application/json",
		Subject:         p.PresenceSubject(state),
		Time:            &at,
		Data:            models.NewPresenceEventData(device, state, at),
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal device presence event: %w", err)
	}

	ack, err := p.js.Publish(ctx, event.Subject, eventBytes)
	if err != nil {
		return fmt.Errorf("failed to publish device presence event: %w", err)
	}

	if p.log != nil {
		p.log.Debug().
			Str("event_id", event.ID).
			Str("subject", event.Subject).
			Uint64("seq", ack.Sequence).
			Msg("Published device presence event")
	}

	return nil
}

// Connect dials NATS with the configured credentials and returns a publisher
// bound to the configured stream. The caller owns the returned connection.
func Connect(ctx context.Context, cfg models.NATSConfig, log logger.Logger) (*EventPublisher, *nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(clientName),
		nats.Timeout(time.Duration(cfg.Timeout)),
		nats.MaxReconnects(-1),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}

	if cfg.TLS != nil {
		tlsConf, err := TLSConfig(cfg.TLS)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")

	publisher, err := CreateEventPublisher(ctx, nc, cfg.Stream, cfg.Subject, log)
	if err != nil {
		nc.Close()

		return nil, nil, err
	}

	return publisher, nc, nil
}

// CreateEventPublisher ensures the stream exists and covers subject.>, then
// returns a publisher for it.
func CreateEventPublisher(ctx context.Context, nc *nats.Conn, streamName, subject string, log logger.Logger) (*EventPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	wanted := subject + ".>"

	stream, err := js.Stream(ctx, streamName)

	switch {
	case err == nil:
		cfg := stream.CachedInfo().Config
		subjects := ensureSubjectList(cfg.Subjects, wanted)

		if len(subjects) != len(cfg.Subjects) {
			cfg.Subjects = subjects
			if _, err = js.UpdateStream(ctx, cfg); err != nil {
				return nil, fmt.Errorf("failed to add subject %s to stream %s: %w", wanted, streamName, err)
			}

			log.Info().Str("stream", streamName).Str("subject", wanted).Msg("Added subject to NATS stream")
		}
	case isStreamMissingErr(err):
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{wanted},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}

		log.Info().Str("stream", streamName).Msg("Created NATS JetStream stream")
	default:
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	return NewEventPublisher(js, streamName, subject, log), nil
}

// ensureSubjectList appends subject unless an existing pattern covers it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, pattern := range subjects {
		if matchesSubject(pattern, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether the NATS pattern covers subject. A
// subject that is itself a wildcard only matches an equal or wider pattern.
func matchesSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}

		if i >= len(st) {
			return false
		}

		if tok != "*" && tok != st[i] {
			return false
		}
	}

	return len(pt) == len(st)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
