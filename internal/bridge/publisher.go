// Package bridge republishes canonical events onto Kafka so out-of-process
// consumers (UI, job engine) can read the same streams the in-process bus
// serves. Optional; the core never depends on it.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/ajaxm-zz/orko/internal/marketdata"
)

// topicPrefix namespaces every bridge topic.
const topicPrefix = "marketdata."

// envelope is the wire form of one canonical event.
type envelope struct {
	Exchange     string          `json:"exchange"`
	Base         string          `json:"base"`
	Counter      string          `json:"counter"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Error        string          `json:"error,omitempty"`
	TsUnixMillis int64           `json:"ts_unix_millis"`
}

// Publisher forwards bus events to Kafka.
type Publisher struct {
	client *kgo.Client
	logger *zap.Logger
	done   chan struct{}

	publishCount int64
	errorCount   int64
}

// NewPublisher connects a producer to the given brokers.
func NewPublisher(brokers []string, clientID string, logger *zap.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("bridge: creating kafka client: %w", err)
	}

	p := &Publisher{client: client, logger: logger, done: make(chan struct{})}
	logger.Info("bridge publisher initialized", zap.Strings("brokers", brokers))
	go p.logStats()
	return p, nil
}

// Run forwards events from the stream until the context ends or the stream
// closes. Intended for a wildcard bus subscription.
func (p *Publisher) Run(ctx context.Context, stream *marketdata.BusSubscription) {
	defer stream.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.C():
			if !ok {
				return
			}
			if err := p.publish(ctx, ev); err != nil {
				atomic.AddInt64(&p.errorCount, 1)
				p.logger.Error("bridge publish failed",
					zap.String("subscription", ev.Subscription.String()),
					zap.Error(err),
				)
			}
		}
	}
}

// TopicFor maps a data type onto its bridge topic.
func TopicFor(t marketdata.MarketDataType) string {
	return topicPrefix + strings.ToLower(string(t))
}

func (p *Publisher) publish(ctx context.Context, ev marketdata.Event) error {
	e := envelope{
		Exchange:     ev.Subscription.Spec.Exchange,
		Base:         ev.Subscription.Spec.Base,
		Counter:      ev.Subscription.Spec.Counter,
		Type:         string(ev.Subscription.Type),
		TsUnixMillis: ev.Timestamp.UnixMilli(),
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	if ev.Payload != nil {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshaling payload: %w", err)
		}
		e.Payload = payload
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	record := &kgo.Record{
		Topic: TopicFor(ev.Subscription.Type),
		Key:   []byte(ev.Subscription.Spec.String()),
		Value: data,
	}

	produceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.client.ProduceSync(produceCtx, record).FirstErr(); err != nil {
		return fmt.Errorf("producing: %w", err)
	}
	atomic.AddInt64(&p.publishCount, 1)
	return nil
}

// Close shuts the producer and its stats goroutine down.
func (p *Publisher) Close() {
	close(p.done)
	if p.client != nil {
		p.client.Close()
	}
}

func (p *Publisher) logStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		published := atomic.LoadInt64(&p.publishCount)
		errors := atomic.LoadInt64(&p.errorCount)
		p.logger.Info("bridge stats",
			zap.Int64("published", published),
			zap.Int64("errors", errors),
		)
	}
}
