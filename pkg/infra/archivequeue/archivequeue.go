// Package archivequeue decouples the turn pump's End() from the configured
// ArchiveSink: Dispatcher publishes a finished session's record to Kafka instead of
// writing it directly, and a background Consumer drains the topic into the real
// sink, logging and retrying failures instead of propagating them back into the
// session. Grounded on the teacher's pkg/infra/kafka consumer loop shape.
package archivequeue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
	out "github.com/frontierwars/session-engine/pkg/domain/session/ports/out"
	"github.com/frontierwars/session-engine/pkg/infra/kafka"
)

// Dispatcher is the ArchiveSink the Session Manager is actually wired with: Archive
// is fire-and-forget over Kafka, while reads pass through to the underlying sink
// since a read has no queue to drain first.
type Dispatcher struct {
	client *kafka.Client
	sink   out.ArchiveSink
}

func NewDispatcher(client *kafka.Client, sink out.ArchiveSink) *Dispatcher {
	return &Dispatcher{client: client, sink: sink}
}

func (d *Dispatcher) Archive(ctx context.Context, record entities.SessionRecord) error {
	return d.client.Publish(ctx, kafka.TopicArchiveRequests, record.SessionID.String(), record)
}

func (d *Dispatcher) ReadGameRecord(ctx context.Context, id uuid.UUID) (*entities.SessionRecord, error) {
	return d.sink.ReadGameRecord(ctx, id)
}

func (d *Dispatcher) GameRecordExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return d.sink.GameRecordExists(ctx, id)
}

// Consumer drains TopicArchiveRequests into the underlying ArchiveSink. A failed
// write is logged and retried once a second until it succeeds or ctx is cancelled;
// the message is committed only after a successful write, so the consumer never
// moves past a record it has not archived.
type Consumer struct {
	client *kafka.Client
	sink   out.ArchiveSink
}

func NewConsumer(client *kafka.Client, sink out.ArchiveSink) *Consumer {
	return &Consumer{client: client, sink: sink}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, groupID string) error {
	reader := c.client.NewReader(kafka.TopicArchiveRequests, groupID)
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			slog.ErrorContext(ctx, "archivequeue: fetch failed", "error", err)
			continue
		}

		var record entities.SessionRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			slog.ErrorContext(ctx, "archivequeue: failed to decode session record, dropping", "error", err)
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		for {
			err := c.sink.Archive(ctx, record)
			if err == nil {
				break
			}
			slog.ErrorContext(ctx, "archivequeue: sink write failed, will retry", "session_id", record.SessionID, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "archivequeue: commit failed", "error", err)
		}
	}
}
