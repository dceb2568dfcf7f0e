package shard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestWorkerIndexIsStableAndBounded(t *testing.T) {
	id := uuid.New()
	first := WorkerIndex(id, 4)
	assert.Equal(t, first, WorkerIndex(id, 4), "hashing the same id twice must agree")
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 4)
}

func TestWorkerIndexSingleWorkerAlwaysZero(t *testing.T) {
	assert.Equal(t, 0, WorkerIndex(uuid.New(), 0))
	assert.Equal(t, 0, WorkerIndex(uuid.New(), 1))
}

func TestGenerateSessionIDHashesToRequestedWorker(t *testing.T) {
	const numWorkers = 5
	for workerID := 0; workerID < numWorkers; workerID++ {
		id := GenerateSessionID(workerID, numWorkers)
		assert.Equal(t, workerID, WorkerIndex(id, numWorkers))
	}
}

func newPrefixedRouter(workerID int) *mux.Router {
	r := mux.NewRouter()
	r.Use(PathPrefixMiddleware(workerID))
	r.HandleFunc("/w{worker}/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func TestPathPrefixMiddlewareAdmitsMatchingWorker(t *testing.T) {
	r := newPrefixedRouter(2)

	req := httptest.NewRequest(http.MethodGet, "/w2/ping", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPathPrefixMiddlewareRejectsMismatchedWorker(t *testing.T) {
	r := newPrefixedRouter(2)

	req := httptest.NewRequest(http.MethodGet, "/w3/ping", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrimWorkerPrefix(t *testing.T) {
	assert.Equal(t, "/api/create_game/abc", TrimWorkerPrefix("/w4/api/create_game/abc", 4))
	assert.Equal(t, "/nope", TrimWorkerPrefix("/nope", 4), "a path without the prefix is left untouched")
}
