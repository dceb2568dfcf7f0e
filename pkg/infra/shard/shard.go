package shard

import (
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// WorkerIndex is the pure sharding function: hash(sessionID) mod numWorkers. Its
// callers are the create_game endpoint (SessionController.CreateGame), the
// Matchmaking Poller (GenerateSessionID and its assignment check), and
// GenerateSessionID itself. The Ranked Coordinator does not call it: ranked session
// ids are random uuids.
func WorkerIndex(sessionID uuid.UUID, numWorkers int) int {
	if numWorkers <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(sessionID[:])
	return int(h.Sum32() % uint32(numWorkers))
}

// GenerateSessionID mints a fresh session id that hashes to workerID, so the
// Matchmaking Poller can announce a session id in its check-in that this worker is
// guaranteed to accept when the matchmaker later assigns it back.
func GenerateSessionID(workerID, numWorkers int) uuid.UUID {
	for {
		candidate := uuid.New()
		if WorkerIndex(candidate, numWorkers) == workerID {
			return candidate
		}
	}
}

// PathPrefixMiddleware enforces that every request's leading "/wN/" path segment
// matches this worker's id, 404ing on mismatch -- so a session-creation or WebSocket
// join request routed to the wrong worker fails loudly instead of silently operating
// on a session that does not exist here.
func PathPrefixMiddleware(workerID int) mux.MiddlewareFunc {
	prefix := "/w" + strconv.Itoa(workerID) + "/"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, prefix) {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TrimWorkerPrefix strips the leading "/wN" segment so downstream route matching
// operates on the logical path.
func TrimWorkerPrefix(path string, workerID int) string {
	prefix := "/w" + strconv.Itoa(workerID)
	return strings.TrimPrefix(path, prefix)
}
