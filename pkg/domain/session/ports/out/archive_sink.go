package out

import (
	"context"

	"github.com/google/uuid"

	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
)

// ArchiveSink is the narrow contract the Session Server depends on for persistence of
// finalized records. Concrete implementations (in-memory for dev, object-store for
// prod) are boot-time choices wired in cmd/worker/main.go; the session never knows
// which one it is talking to.
type ArchiveSink interface {
	Archive(ctx context.Context, record entities.SessionRecord) error
	ReadGameRecord(ctx context.Context, id uuid.UUID) (*entities.SessionRecord, error)
	GameRecordExists(ctx context.Context, id uuid.UUID) (bool, error)
}
