package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
)

func TestSinkArchiveRoundTrip(t *testing.T) {
	sink := NewSink()
	ctx := context.Background()

	id := uuid.New()
	record := entities.SessionRecord{SessionID: id}

	exists, err := sink.GameRecordExists(ctx, id)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, sink.Archive(ctx, record))

	exists, err = sink.GameRecordExists(ctx, id)
	require.NoError(t, err)
	require.True(t, exists)

	got, err := sink.ReadGameRecord(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, got.SessionID)
}

func TestSinkReadMissingRecordErrors(t *testing.T) {
	sink := NewSink()

	_, err := sink.ReadGameRecord(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestSinkArchiveIsIdempotentOverwrite(t *testing.T) {
	sink := NewSink()
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, sink.Archive(ctx, entities.SessionRecord{SessionID: id, Roster: nil}))
	require.NoError(t, sink.Archive(ctx, entities.SessionRecord{SessionID: id, Roster: []entities.RosterEntry{{PersistentID: "p1"}}}))

	got, err := sink.ReadGameRecord(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Roster, 1)
}
