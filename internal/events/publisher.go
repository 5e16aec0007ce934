// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

// Package events implements the security.Bus collaborator on NATS JetStream
// through Watermill. Publishes are fire-and-forget from the core's
// perspective: failures are logged and counted, never surfaced to the
// security operation that triggered them.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/corvexa/watchtower/internal/logging"
	"github.com/corvexa/watchtower/internal/metrics"
	"github.com/corvexa/watchtower/internal/security"
)

// PublisherConfig configures the NATS publisher.
type PublisherConfig struct {
	// URL is the NATS server address.
	URL string

	// SubjectPrefix prefixes all published subjects (default "watchtower").
	SubjectPrefix string

	// MaxReconnects and ReconnectWait tune connection recovery.
	MaxReconnects int
	ReconnectWait time.Duration

	// BreakerFailureThreshold is the number of consecutive publish failures
	// before the transport breaker opens. Zero disables the breaker.
	BreakerFailureThreshold uint32

	// BreakerTimeout is how long the transport breaker stays open.
	BreakerTimeout time.Duration
}

// DefaultPublisherConfig returns sensible defaults.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:                     url,
		SubjectPrefix:           "watchtower",
		MaxReconnects:           60,
		ReconnectWait:           2 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerTimeout:          30 * time.Second,
	}
}

// Publisher implements security.Bus over a Watermill NATS publisher. A
// gobreaker circuit breaker protects the publish path so a dead broker
// cannot stall detection operations with repeated connection attempts.
type Publisher struct {
	publisher      message.Publisher
	circuitBreaker *gobreaker.CircuitBreaker[interface{}]
	subjectPrefix  string

	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates a resilient Watermill NATS publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	logger := watermill.NewStdLogger(false, false)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	p := &Publisher{
		publisher:     pub,
		subjectPrefix: cfg.SubjectPrefix,
	}
	if p.subjectPrefix == "" {
		p.subjectPrefix = "watchtower"
	}

	if cfg.BreakerFailureThreshold > 0 {
		p.circuitBreaker = gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
			Name:    "nats-publisher",
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
			},
		})
	}

	return p, nil
}

// Publish implements security.Bus. The topic tuple maps onto the NATS
// subject "<prefix>.<event>[.<contract>]"; the payload is JSON-encoded with
// the topic carried in message metadata.
func (p *Publisher) Publish(ctx context.Context, topic security.Topic, payload any) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		metrics.EventPublishFailures.WithLabelValues(topic.Event).Inc()
		logging.Error().Err(err).Str("event", topic.Event).Msg("marshal event payload")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("domain", topic.Domain)
	msg.Metadata.Set("event", topic.Event)
	if topic.Contract != "" {
		msg.Metadata.Set("contract", topic.Contract)
	}
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set("correlation_id", id)
	}
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)

	subject := p.subject(topic)
	if p.circuitBreaker != nil {
		_, err = p.circuitBreaker.Execute(func() (interface{}, error) {
			return nil, p.publisher.Publish(subject, msg)
		})
	} else {
		err = p.publisher.Publish(subject, msg)
	}
	if err != nil {
		metrics.EventPublishFailures.WithLabelValues(topic.Event).Inc()
		logging.Error().Err(err).
			Str("subject", subject).
			Str("event", topic.Event).
			Msg("publish event")
	}
}

// subject builds the NATS subject for a topic. Contract names are sanitized
// so they cannot inject subject hierarchy tokens.
func (p *Publisher) subject(topic security.Topic) string {
	parts := []string{p.subjectPrefix, topic.Event}
	if topic.Contract != "" {
		parts = append(parts, sanitizeToken(topic.Contract))
	}
	return strings.Join(parts, ".")
}

func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '_'
		default:
			return r
		}
	}, s)
}

// Close shuts the publisher down. Publishes after Close are dropped.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

var _ security.Bus = (*Publisher)(nil)
