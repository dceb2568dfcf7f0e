// Package memory provides a dev/test ArchiveSink that keeps finalized session
// records in a process-local map. Nothing survives a restart; wire objectstore
// for anything that needs to.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
)

// Sink is an in-memory, mutex-guarded ArchiveSink keyed by session id.
type Sink struct {
	mu      sync.Mutex
	records map[uuid.UUID]entities.SessionRecord
}

func NewSink() *Sink {
	return &Sink{
		records: make(map[uuid.UUID]entities.SessionRecord),
	}
}

func (s *Sink) Archive(ctx context.Context, record entities.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.SessionID] = record

	slog.InfoContext(ctx, "memory.Archive: stored session record", "session_id", record.SessionID)

	return nil
}

func (s *Sink) ReadGameRecord(ctx context.Context, id uuid.UUID) (*entities.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("memory.ReadGameRecord: no record for session %s", id)
	}

	return &record, nil
}

func (s *Sink) GameRecordExists(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[id]
	return ok, nil
}
