// Package sinks holds the event consumers wired into the Dispatcher.
package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"nip05d/internal/events"
)

// Log writes every event as a structured log line.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Handle(ctx context.Context, e events.Event) error {
	attrs := []any{
		"event_id", e.ID.String(),
		"event_type", string(e.Type),
		"identity_key", e.IdentityKey,
	}
	if e.Name != "" {
		attrs = append(attrs, "name", e.Name)
	}
	if e.OldName != "" || e.NewName != "" {
		attrs = append(attrs, "old_name", e.OldName, "new_name", e.NewName)
	}
	if e.PaymentHash != "" {
		attrs = append(attrs, "payment_hash", e.PaymentHash)
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}
	l.logger.InfoContext(ctx, "identity event", attrs...)
	return nil
}

// Producer is the subset of *kgo.Client used to publish.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Kafka publishes events as JSON records keyed by identity key, so every
// event for one party lands on one partition in order.
type Kafka struct {
	producer Producer
	topic    string
}

func NewKafka(producer Producer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Handle(ctx context.Context, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(e.IdentityKey),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	return nil
}

// Notifier renders and delivers a direct message to the party. Delivery lives
// outside this service.
type Notifier interface {
	Notify(ctx context.Context, e events.Event) error
}

// Notify forwards the events a party should hear about to a Notifier.
type Notify struct {
	notifier Notifier
}

func NewNotify(notifier Notifier) *Notify {
	return &Notify{notifier: notifier}
}

func (n *Notify) Name() string { return "notify" }

func (n *Notify) Handle(ctx context.Context, e events.Event) error {
	if !e.Type.Notifies() {
		return nil
	}
	return n.notifier.Notify(ctx, e)
}

// WebhookNotifier posts each notifiable event as JSON to an external message
// service, which owns templating and delivery.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client}
}

func (w *WebhookNotifier) Notify(ctx context.Context, e events.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: unexpected status %d", resp.StatusCode)
	}
	return nil
}
