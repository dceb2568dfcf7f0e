// Package objectstore provides the production ArchiveSink: it serializes a finished
// session's record to JSON and hands it to an injected narrow object-store client,
// rather than importing an S3 SDK directly -- the object store itself is an
// out-of-scope external collaborator.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
)

// Client is the narrow surface this package needs from an object store. A concrete
// adapter (S3, GCS, local disk) is wired in at boot time; this package never knows
// which one it is talking to.
type Client interface {
	Put(ctx context.Context, key string, reader io.ReadSeeker) (string, error)
	GetByID(ctx context.Context, key string) (io.Reader, error)
	Head(ctx context.Context, key string) (bool, error)
}

// Sink is the production ArchiveSink, matching the shape of the teacher's blob
// adapters (Put/GetByID over a string key) but over JSON-encoded session records
// instead of replay files.
type Sink struct {
	client Client
}

func NewSink(client Client) *Sink {
	return &Sink{client: client}
}

func recordKey(id uuid.UUID) string {
	return id.String() + ".json"
}

func (s *Sink) Archive(ctx context.Context, record entities.SessionRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		slog.ErrorContext(ctx, "objectstore.Archive: failed to marshal session record", "session_id", record.SessionID, "error", err)
		return fmt.Errorf("objectstore.Archive: marshal session record: %w", err)
	}

	key := recordKey(record.SessionID)

	uri, err := s.client.Put(ctx, key, bytes.NewReader(body))
	if err != nil {
		slog.ErrorContext(ctx, "objectstore.Archive: failed to put session record", "session_id", record.SessionID, "error", err)
		return fmt.Errorf("objectstore.Archive: put session record: %w", err)
	}

	slog.InfoContext(ctx, "objectstore.Archive: stored session record", "session_id", record.SessionID, "uri", uri)

	return nil
}

func (s *Sink) ReadGameRecord(ctx context.Context, id uuid.UUID) (*entities.SessionRecord, error) {
	reader, err := s.client.GetByID(ctx, recordKey(id))
	if err != nil {
		slog.ErrorContext(ctx, "objectstore.ReadGameRecord: failed to fetch session record", "session_id", id, "error", err)
		return nil, fmt.Errorf("objectstore.ReadGameRecord: fetch session record: %w", err)
	}

	var record entities.SessionRecord
	if err := json.NewDecoder(reader).Decode(&record); err != nil {
		return nil, fmt.Errorf("objectstore.ReadGameRecord: decode session record: %w", err)
	}

	return &record, nil
}

func (s *Sink) GameRecordExists(ctx context.Context, id uuid.UUID) (bool, error) {
	exists, err := s.client.Head(ctx, recordKey(id))
	if err != nil {
		slog.ErrorContext(ctx, "objectstore.GameRecordExists: head check failed", "session_id", id, "error", err)
		return false, fmt.Errorf("objectstore.GameRecordExists: head check: %w", err)
	}

	return exists, nil
}
