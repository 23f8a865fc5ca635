// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-voice-dialogue-service/internal/models"
	"ai-voice-dialogue-service/internal/observability/metrics"
)

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes dialogue events to separate Kafka topics: completed
// turns go to the turn topic, interruptions to the control topic.
type Publisher struct {
	writerTurns   messageWriter
	writerControl messageWriter
	principal     string
	topicTurns    string
	topicControl  string
	enabled       bool
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicTurns   string
	TopicControl string
	Principal    string
	Enabled      bool
}

// New creates a new Kafka event publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:    cfg.Principal,
			topicTurns:   cfg.TopicTurns,
			topicControl: cfg.TopicControl,
			enabled:      false,
			metrics:      m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTurns", cfg.TopicTurns).
		Str("topicControl", cfg.TopicControl).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTurns:   newWriter(cfg.TopicTurns),
		writerControl: newWriter(cfg.TopicControl),
		principal:     cfg.Principal,
		topicTurns:    cfg.TopicTurns,
		topicControl:  cfg.TopicControl,
		enabled:       true,
		metrics:       m,
	}
}

// PublishTurn publishes a completed user or assistant turn, keyed by
// session so one conversation stays on one partition.
func (p *Publisher) PublishTurn(ctx context.Context, event models.TurnEvent) error {
	return p.publish(ctx, p.writerTurns, p.topicTurns, event.EventType, event.SessionID, event)
}

// PublishInterruption publishes a barge-in to the control topic.
func (p *Publisher) PublishInterruption(ctx context.Context, event models.InterruptionEvent) error {
	return p.publish(ctx, p.writerControl, p.topicControl, event.EventType, event.SessionID, event)
}

// publish writes one event to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTurns != nil {
		if e := p.writerTurns.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing turn writer")
			err = e
		}
	}
	if p.writerControl != nil {
		if e := p.writerControl.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing control writer")
			err = e
		}
	}
	return err
}
