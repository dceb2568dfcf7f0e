// Package routing assembles the Worker Host's gorilla/mux router, grounded on the
// teacher's cmd/rest-api/routing/router.go: a global middleware chain wrapping every
// request, then route-specific auth/admin wrapping per endpoint.
package routing

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/frontierwars/session-engine/cmd/worker/controllers"
	"github.com/frontierwars/session-engine/cmd/worker/middlewares"
	"github.com/frontierwars/session-engine/pkg/infra/metrics"
	"github.com/frontierwars/session-engine/pkg/infra/shard"
)

// Dependencies bundles everything the router needs to wire a route table; built in
// main.go and handed in whole so this package stays free of container/DI machinery.
type Dependencies struct {
	WorkerID   int
	NumWorkers int

	Session *controllers.SessionController
	Archive *controllers.ArchiveController
	Ranked  *controllers.RankedController

	SessionWS SessionWebSocketUpgrader
	RankedWS  RankedWebSocketUpgrader

	Auth      *middlewares.AuthMiddleware
	Admin     *middlewares.AdminMiddleware
	RateLimit *middlewares.RateLimitMiddleware
	CORS      *middlewares.CORSMiddleware
}

// SessionWebSocketUpgrader and RankedWebSocketUpgrader are the minimal surface this
// package needs from the two concrete WebSocket handlers, so routing does not import
// pkg/infra/websocket or the verifier-specific controller types directly.
type SessionWebSocketUpgrader interface {
	UpgradeConnection(ctx context.Context) http.HandlerFunc
}

type RankedWebSocketUpgrader interface {
	UpgradeConnection(ctx context.Context) http.HandlerFunc
}

// NewRouter builds the full route table for one worker. Every path is rooted at
// /w{N} per §4.8/§4.10; PathPrefixMiddleware 404s anything that does not match this
// worker's shard.
func NewRouter(ctx context.Context, d Dependencies) *mux.Router {
	root := mux.NewRouter()

	root.Use(middlewares.ErrorMiddleware)
	root.Use(metrics.Middleware)
	root.Use(d.CORS.Handler)
	root.Use(d.RateLimit.Handler)

	// /metrics is scraped directly against this worker's own port, never through the
	// /wN/ shard-prefixed API surface, so it sits outside PathPrefixMiddleware.
	root.HandleFunc("/metrics", metrics.Handler().ServeHTTP).Methods(http.MethodGet)

	w := root.PathPrefix(fmt.Sprintf("/w%d", d.WorkerID)).Subrouter()
	w.Use(shard.PathPrefixMiddleware(d.WorkerID))

	w.Handle("/api/create_game/{id}", http.HandlerFunc(
		d.Session.CreateGame(d.Admin.Verify))).Methods(http.MethodPost)

	w.Handle("/api/start_game/{id}", d.Auth.RequireAuth(
		d.Session.StartGame())).Methods(http.MethodPost)

	w.Handle("/api/game/{id}", d.Auth.RequireAuth(
		d.Session.UpdateGame())).Methods(http.MethodPut)

	w.HandleFunc("/api/game/{id}/exists", d.Session.GameExists()).Methods(http.MethodGet)
	w.HandleFunc("/api/game/{id}", d.Session.GetGame()).Methods(http.MethodGet)

	w.HandleFunc("/api/archive_singleplayer_game", d.Archive.ArchiveSingleplayerGame()).Methods(http.MethodPost)

	w.Handle("/api/kick_player/{g}/{c}", d.Admin.RequireAdmin(
		d.Session.KickPlayer())).Methods(http.MethodPost)

	w.HandleFunc("/stream", d.SessionWS.UpgradeConnection(ctx)).Methods(http.MethodGet)

	w.Handle("/ranked/queue/join", d.Auth.RequireAuth(d.Ranked.JoinQueue())).Methods(http.MethodPost)
	w.Handle("/ranked/queue/leave", d.Auth.RequireAuth(d.Ranked.LeaveQueue())).Methods(http.MethodPost)
	w.Handle("/ranked/ticket", d.Auth.RequireAuth(d.Ranked.TicketStatus())).Methods(http.MethodGet)
	w.Handle("/ranked/accept", d.Auth.RequireAuth(d.Ranked.AcceptMatch())).Methods(http.MethodPost)
	w.Handle("/ranked/decline", d.Auth.RequireAuth(d.Ranked.DeclineMatch())).Methods(http.MethodPost)
	w.HandleFunc("/ranked/stream", d.RankedWS.UpgradeConnection(ctx)).Methods(http.MethodGet)

	return root
}
