package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
)

type fakeClient struct {
	objects map[string][]byte
	headErr error
	putErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte)}
}

func (f *fakeClient) Put(ctx context.Context, key string, reader io.ReadSeeker) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.objects[key] = body
	return "memory://" + key, nil
}

func (f *fakeClient) GetByID(ctx context.Context, key string) (io.Reader, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return bytes.NewReader(body), nil
}

func (f *fakeClient) Head(ctx context.Context, key string) (bool, error) {
	if f.headErr != nil {
		return false, f.headErr
	}
	_, ok := f.objects[key]
	return ok, nil
}

func TestSinkArchiveRoundTrip(t *testing.T) {
	client := newFakeClient()
	sink := NewSink(client)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, sink.Archive(ctx, entities.SessionRecord{SessionID: id}))

	exists, err := sink.GameRecordExists(ctx, id)
	require.NoError(t, err)
	require.True(t, exists)

	got, err := sink.ReadGameRecord(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, got.SessionID)
}

func TestSinkGameRecordExistsFalseForUnknownID(t *testing.T) {
	sink := NewSink(newFakeClient())

	exists, err := sink.GameRecordExists(context.Background(), uuid.New())
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSinkArchivePropagatesClientError(t *testing.T) {
	client := newFakeClient()
	client.putErr = errors.New("bucket unreachable")
	sink := NewSink(client)

	err := sink.Archive(context.Background(), entities.SessionRecord{SessionID: uuid.New()})
	require.Error(t, err)
}
