// Package kafka wraps segmentio/kafka-go with a writer-per-topic client, grounded on
// the teacher's pkg/infra/kafka/client.go. The SASL/TLS plumbing the teacher carries
// for its managed-cluster deployment is dropped here (see DESIGN.md) -- this server
// only ever talks to a PLAINTEXT bootstrap.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Config holds the bootstrap configuration for the Kafka client.
type Config struct {
	BootstrapServers string
}

// Client caches one kafka-go Writer per topic and lazily dials readers on demand.
type Client struct {
	mu      sync.Mutex
	brokers []string
	dialer  *kafkago.Dialer
	writers map[string]*kafkago.Writer
}

func NewClient(cfg Config) *Client {
	return &Client{
		brokers: strings.Split(cfg.BootstrapServers, ","),
		dialer: &kafkago.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
		writers: make(map[string]*kafkago.Writer),
	}
}

func (c *Client) writer(topic string) *kafkago.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.writers[topic]; ok {
		return w
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(c.brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafkago.RequireOne,
	}
	c.writers[topic] = w
	return w
}

// Publish marshals value to JSON and writes it to topic under the given key.
func (c *Client) Publish(ctx context.Context, topic, key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka.Publish: marshal: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now(),
	}

	if err := c.writer(topic).WriteMessages(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "kafka.Publish: write failed", "topic", topic, "key", key, "error", err)
		return fmt.Errorf("kafka.Publish: write: %w", err)
	}

	return nil
}

// NewReader opens a reader for topic under the given consumer group.
func (c *Client) NewReader(topic, groupID string) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  c.brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
		Dialer:   c.dialer,
	})
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, w := range c.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
