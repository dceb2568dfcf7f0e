package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/frontierwars/session-engine/cmd/worker/controllers"
	"github.com/frontierwars/session-engine/cmd/worker/middlewares"
	"github.com/frontierwars/session-engine/cmd/worker/routing"

	"github.com/frontierwars/session-engine/pkg/domain/ranked/coordinator"
	sessionout "github.com/frontierwars/session-engine/pkg/domain/session/ports/out"

	sessionentities "github.com/frontierwars/session-engine/pkg/domain/session/entities"
	"github.com/frontierwars/session-engine/pkg/domain/session/manager"
	"github.com/frontierwars/session-engine/pkg/domain/session/services"
	"github.com/frontierwars/session-engine/pkg/infra/archive/memory"
	"github.com/frontierwars/session-engine/pkg/infra/archivequeue"
	"github.com/frontierwars/session-engine/pkg/infra/auth"
	db "github.com/frontierwars/session-engine/pkg/infra/db/mongodb"
	"github.com/frontierwars/session-engine/pkg/infra/kafka"
	"github.com/frontierwars/session-engine/pkg/infra/poller"
	"github.com/frontierwars/session-engine/pkg/infra/websocket"

	"github.com/google/uuid"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.InfoContext(ctx, "no .env file loaded, relying on process environment", "error", err)
	}

	workerID := envInt("WORKER_ID", 0)
	numWorkers := envInt("WORKER_SHARD_COUNT", 1)
	port := env("WORKER_PORT", "8080")
	turnInterval := time.Duration(envInt("TURN_INTERVAL_MS", 200)) * time.Millisecond
	maxSessionDuration := 4 * time.Hour

	mongoClient, mongoDB := mustMongo(ctx)
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			slog.Error("error disconnecting mongo client", "error", err)
		}
	}()

	kafkaClient := kafka.NewClient(kafka.Config{BootstrapServers: env("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")})
	defer kafkaClient.Close()

	rankedRepo := db.NewRankedMongoDBRepository(mongoDB)

	archiveSink := buildArchiveSink()
	archiveDispatcher := archivequeue.NewDispatcher(kafkaClient, archiveSink)
	archiveConsumer := archivequeue.NewConsumer(kafkaClient, archiveSink)
	go func() {
		if err := archiveConsumer.Run(ctx, "worker-"+strconv.Itoa(workerID)); err != nil {
			slog.ErrorContext(ctx, "archive consumer stopped", "error", err)
		}
	}()

	rankedHub := websocket.NewRankedHub()
	go rankedHub.Run(ctx)

	// rc is forward-declared so the SessionManager's onFinished callback can close
	// over it; the two components are mutually referential by construction.
	var rc *coordinator.RankedCoordinator

	sessionMgr := manager.NewSessionManager(archiveDispatcher, turnInterval, maxSessionDuration,
		func(sessionID uuid.UUID, s *services.SessionServer) {
			if rc != nil {
				rc.SessionFinished(sessionID, s)
			}
		})
	go sessionMgr.Run(ctx)

	rc = coordinator.NewRankedCoordinator(coordinator.NewRankedCoordinatorParams{
		Repo:       rankedRepo,
		SessionMgr: sessionMgr,
		Publish:    rankedHub,
		WorkerID:   strconv.Itoa(workerID),
	})

	if tickets, err := rankedRepo.ListTickets(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to rehydrate matchmaking queue", "error", err)
	} else {
		rc.Queue().RestoreTickets(tickets)
		slog.InfoContext(ctx, "rehydrated matchmaking queue", "ticket_count", len(tickets))
	}

	verifier := auth.NewJWTVerifier([]byte(env("JWT_SECRET", "")), env("JWT_ISSUER", "frontierwars-session-engine"))

	sessionWS := websocket.NewSessionWebSocketHandler(sessionMgr, verifier)
	rankedWS := controllers.NewRankedWebSocketHandler(rankedHub, verifier)

	sessionCtrl := controllers.NewSessionController(sessionMgr, workerID, numWorkers)
	archiveCtrl := controllers.NewArchiveController(archiveDispatcher)
	rankedCtrl := controllers.NewRankedController(rc)

	deps := routing.Dependencies{
		WorkerID:   workerID,
		NumWorkers: numWorkers,

		Session: sessionCtrl,
		Archive: archiveCtrl,
		Ranked:  rankedCtrl,

		SessionWS: sessionWS,
		RankedWS:  rankedWS,

		Auth:      middlewares.NewAuthMiddleware(verifier),
		Admin:     middlewares.NewAdminMiddleware(env("ADMIN_HEADER_NAME", "X-Admin-Token"), env("ADMIN_HEADER_TOKEN", "")),
		RateLimit: middlewares.NewRateLimitMiddleware(envInt("RATE_LIMIT_PER_MINUTE", 600), envInt("RATE_LIMIT_BURST", 60)),
		CORS:      middlewares.NewCORSMiddleware(),
	}

	router := routing.NewRouter(ctx, deps)

	scheduler := startBrooms(ctx, rc, rankedRepo)
	defer scheduler.Stop()

	if matchmakerURL := env("EXTERNAL_MATCHMAKER_URL", ""); matchmakerURL != "" {
		mp := poller.NewMatchmakingPoller(matchmakerURL, strconv.Itoa(workerID), workerID, numWorkers, sessionMgr,
			func() sessionentities.SessionConfig {
				return sessionentities.SessionConfig{GameType: sessionentities.GameTypePublic, MaxPlayers: 8}
			})
		go mp.Run(ctx)
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-shutdownChan
		slog.InfoContext(ctx, "received shutdown signal", "signal", sig.String())

		slog.InfoContext(ctx, "waiting for kubernetes endpoint update")
		time.Sleep(5 * time.Second)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		slog.InfoContext(ctx, "shutting down server gracefully")
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "server shutdown error", "error", err)
		}

		cancel()
		slog.InfoContext(ctx, "server shutdown complete")
	}()

	slog.InfoContext(ctx, "starting worker host", "worker_id", workerID, "num_workers", numWorkers, "port", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.ErrorContext(ctx, "server error", "error", err)
		os.Exit(1)
	}
}

// startBrooms schedules the coordinator's periodic maintenance sweeps with
// robfig/cron/v3, using its seconds-resolution parser since the accept-timeout sweep
// (every 5 s) and the matchmaking recalculation (every 10 s) run sub-minute.
func startBrooms(ctx context.Context, rc *coordinator.RankedCoordinator, repo interface {
	PruneStaleDodgePenalties(ctx context.Context, olderThan time.Duration) (int, error)
}) *cron.Cron {
	c := cron.New(cron.WithSeconds())

	if _, err := c.AddFunc("*/5 * * * * *", func() {
		rc.Accept().SweepTimeouts(time.Now().UTC())
	}); err != nil {
		slog.ErrorContext(ctx, "failed to schedule accept-timeout sweep", "error", err)
	}

	if _, err := c.AddFunc("*/10 * * * * *", func() {
		rc.Queue().RecalculateMatches()
	}); err != nil {
		slog.ErrorContext(ctx, "failed to schedule matchmaking recalculation", "error", err)
	}

	if _, err := c.AddFunc("0 * * * * *", func() {
		rc.OrphanGameSweep(ctx)
	}); err != nil {
		slog.ErrorContext(ctx, "failed to schedule orphan game sweep", "error", err)
	}

	if _, err := c.AddFunc("0 */5 * * * *", func() {
		rc.StaleTicketSweep(ctx)
	}); err != nil {
		slog.ErrorContext(ctx, "failed to schedule stale ticket sweep", "error", err)
	}

	if _, err := c.AddFunc("0 0 * * * *", func() {
		n := rc.Accept().PruneStaleDodgeEntries(time.Now().UTC())
		pruned, err := repo.PruneStaleDodgePenalties(ctx, 30*24*time.Hour)
		if err != nil {
			slog.ErrorContext(ctx, "failed to prune persisted dodge penalties", "error", err)
			return
		}
		slog.InfoContext(ctx, "pruned dodge penalty ledger", "in_memory", n, "persisted", pruned)
	}); err != nil {
		slog.ErrorContext(ctx, "failed to schedule dodge-ledger prune", "error", err)
	}

	c.Start()
	return c
}

func buildArchiveSink() sessionout.ArchiveSink {
	backend := env("ARCHIVE_BACKEND", "memory")
	if backend != "memory" {
		// objectstore.NewSink requires a concrete object-store client (S3/GCS/disk)
		// that is an out-of-scope external collaborator this server never
		// constructs itself; fall back to memory rather than fail boot.
		slog.Warn("archive backend requested but not wired, falling back to memory", "requested", backend)
	}
	return memory.NewSink()
}

func mustMongo(ctx context.Context) (*mongo.Client, *mongo.Database) {
	uri := env("MONGO_URI", "mongodb://localhost:27017")
	dbName := env("MONGO_DB_NAME", "session_engine")

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to mongo", "error", err)
		panic(err)
	}

	return client, client.Database(dbName)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
