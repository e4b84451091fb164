// Command syncengine is the single process that runs every §spec module:
// webhook ingestion, the sync worker pool, the poller, the digest
// scheduler/dispatcher, the admin API, and the conversation core. It
// mirrors the teacher's control_plane/main.go wiring shape — plain
// construct-then-wire, leader-gated background loops started from
// coordination callbacks, a startup banner, log.Fatal on listener failure —
// generalized from FluxForge's agent control plane to this CRM sync
// pipeline's components.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/adminapi"
	"github.com/romiteld/crm-sync-engine/internal/artifact"
	"github.com/romiteld/crm-sync-engine/internal/bus"
	"github.com/romiteld/crm-sync-engine/internal/config"
	"github.com/romiteld/crm-sync-engine/internal/conversation"
	"github.com/romiteld/crm-sync-engine/internal/coordination"
	"github.com/romiteld/crm-sync-engine/internal/dedup"
	"github.com/romiteld/crm-sync-engine/internal/dispatch"
	"github.com/romiteld/crm-sync-engine/internal/idempotency"
	"github.com/romiteld/crm-sync-engine/internal/logging"
	"github.com/romiteld/crm-sync-engine/internal/poller"
	"github.com/romiteld/crm-sync-engine/internal/role"
	"github.com/romiteld/crm-sync-engine/internal/scheduler"
	"github.com/romiteld/crm-sync-engine/internal/store"
	"github.com/romiteld/crm-sync-engine/internal/syncworker"
	"github.com/romiteld/crm-sync-engine/internal/vendorclient"
	"github.com/romiteld/crm-sync-engine/internal/webhook"
)

const (
	busStreamSuffix  = "events"
	schedulerLockKey = "leader:scheduler"
	pollerLockKey    = "leader:poller"
	leaseTTL         = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "syncengine: config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(os.Getenv("DEV_MODE") == "true", cfg.NodeID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "syncengine: logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runMigrations(cfg.PostgresDSN); err != nil {
		log.Fatal("apply migrations", zap.Error(err))
	}

	pgStore, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect to postgres", zap.Error(err))
	}
	defer pgStore.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	roles := role.NewResolver(pgStore, log)
	if cfg.RoleMapBootstrap != nil {
		if err := roles.Bootstrap(ctx, cfg.RoleMapBootstrap); err != nil {
			log.Fatal("bootstrap role map", zap.Error(err))
		}
	}

	redisBus := bus.NewRedisBus(redisClient, cfg.BusMaxDeliveries, cfg.BusMaxLifetime)
	streamName := cfg.BusStreamPrefix + ":" + busStreamSuffix
	if err := redisBus.EnsureGroup(ctx, streamName, cfg.BusConsumerGroup); err != nil {
		log.Fatal("ensure bus consumer group", zap.Error(err))
	}

	dedupCache := dedup.New(redisClient, cfg.BusStreamPrefix+":dedup", cfg.DedupTTL)
	applier := syncworker.NewApplier(pgStore, log)
	workerPool := syncworker.NewPool(pgStore, redisBus, applier, streamName, cfg.BusConsumerGroup, cfg.NodeID, cfg.SyncWorkerConcurrency, cfg.BusMaxDeliveries, log)

	lookupSet, err := artifact.NewLookupSet(cfg.LookupTablePath, log)
	if err != nil {
		log.Fatal("load lookup tables", zap.Error(err))
	}
	defer lookupSet.Close()

	builder := artifact.NewBuilder(pgStore, lookupSet, 90*24*time.Hour, log)
	idemStore := idempotency.New(redisClient, cfg.BusStreamPrefix+":idem", time.Hour, log)

	var transports []dispatch.Transport
	transports = append(transports, dispatch.NewWebhookTransport(cfg.WebhookTransportURL, &http.Client{Timeout: 10 * time.Second}))
	if cfg.SlackBotToken != "" {
		transports = append(transports, dispatch.NewSlackTransport(cfg.SlackBotToken))
	}
	dispatcher := dispatch.New(pgStore, roles, builder, idemStore, transports, cfg.MaxDeliveryRetries, log)
	sched := scheduler.New(pgStore, dispatcher, cfg.SchedulerTick, cfg.SchedulerClaimLimit, cfg.SchedulerConcurrency, log)

	vendorClient := vendorclient.NewHTTPClient(cfg.VendorBaseURL, cfg.VendorAPIKey, cfg.VendorTimeout)
	poll := poller.New(pgStore, vendorClient, applier, cfg.PollInterval, cfg.PollerPageSize, log)

	coordinator := coordination.NewRedisCoordinator(redisClient, pgStore)
	schedulerElector := coordination.NewLeaderElector(coordinator, pgStore, cfg.NodeID, schedulerLockKey, leaseTTL, log)
	schedulerElector.SetCallbacks(func(leaderCtx context.Context) { sched.Run(leaderCtx) }, func() {})
	go schedulerElector.Run(ctx)

	pollerElector := coordination.NewLeaderElector(coordinator, pgStore, cfg.NodeID, pollerLockKey, leaseTTL, log)
	pollerElector.SetCallbacks(func(leaderCtx context.Context) { poll.Run(leaderCtx) }, func() {})
	go pollerElector.Run(ctx)

	go func() {
		if err := workerPool.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("sync worker pool exited", zap.Error(err))
		}
	}()

	memory := conversation.NewMemory(pgStore, redisClient, cfg.BusStreamPrefix+":convo")
	clarifier := conversation.NewClarifier(pgStore, cfg.ClarificationTTL, cfg.ClarificationFuzzyThreshold)
	core := buildConversationCore(cfg, pgStore, clarifier, memory, log)
	go runHousekeeping(ctx, pgStore, memory, clarifier, cfg, log)

	webhookReceiver := webhook.NewReceiver(pgStore, dedupCache, redisBus, streamName, cfg.WebhookSharedSecret, cfg.DedupTTL, log)
	webhookRouter := chi.NewRouter()
	webhookReceiver.Routes(webhookRouter)
	webhookRouter.Post("/chat/{userID}", chatHandler(core, log))
	webhookRouter.Handle("/metrics", promhttp.Handler())

	tokens := adminapi.NewTokenIssuer(cfg.AdminJWTSecret, cfg.AdminTokenTTL)
	hub := adminapi.NewStreamHub(log)
	adminServer := adminapi.NewServer(pgStore, redisBus, tokens, hub, log)
	adminRouter := chi.NewRouter()
	adminServer.Routes(adminRouter)

	webhookHTTP := &http.Server{Addr: cfg.WebhookListenAddr, Handler: webhookRouter}
	adminHTTP := &http.Server{Addr: cfg.AdminListenAddr, Handler: adminRouter}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = webhookHTTP.Shutdown(shutdownCtx)
		_ = adminHTTP.Shutdown(shutdownCtx)
	}()

	fmt.Printf("crm-sync-engine starting: node=%s webhook=%s admin=%s\n", cfg.NodeID, cfg.WebhookListenAddr, cfg.AdminListenAddr)

	go func() {
		if err := adminHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("admin http server", zap.Error(err))
		}
	}()

	if err := webhookHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("webhook http server", zap.Error(err))
	}
}

// buildConversationCore wires a best-effort Anthropic classifier behind the
// never-failing keyword fallback (§5: the conversation module must degrade
// gracefully, never hard-fail, when the classifier is unavailable).
func buildConversationCore(cfg *config.Config, st store.Store, clarifier *conversation.Clarifier, memory *conversation.Memory, log *zap.Logger) *conversation.Core {
	primary := conversation.NewAnthropicClassifier(cfg.AnthropicAPIKey)
	fallback := conversation.NewKeywordClassifier()
	answerer := conversation.NewStoreAnswerer(st)
	return conversation.NewCore(primary, fallback, clarifier, memory, answerer, cfg.IntentConfidenceThreshold, log)
}

// runHousekeeping periodically reaps old conversation turns, expired
// clarification sessions, and completed webhook events, the same
// "background GC ticker" shape as the teacher's runMetricsCollector loop in
// control_plane/main.go.
func runHousekeeping(ctx context.Context, st store.Store, memory *conversation.Memory, clarifier *conversation.Clarifier, cfg *config.Config, log *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := memory.GCOlderThan(ctx, cfg.ConversationMemoryRetention); err != nil {
				log.Warn("conversation turn GC failed", zap.Error(err))
			} else if n > 0 {
				log.Info("reaped old conversation turns", zap.Int64("count", n))
			}
			if n, err := clarifier.ReapExpired(ctx); err != nil {
				log.Warn("clarification session reap failed", zap.Error(err))
			} else if n > 0 {
				log.Info("reaped expired clarification sessions", zap.Int64("count", n))
			}
			if n, err := st.GCSuccessfulWebhookEvents(ctx, cfg.WebhookEventRetention); err != nil {
				log.Warn("webhook event GC failed", zap.Error(err))
			} else if n > 0 {
				log.Info("reaped completed webhook events", zap.Int64("count", n))
			}
		}
	}
}

func chatHandler(core *conversation.Core, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		reply, err := core.HandleMessage(r.Context(), userID, string(body))
		if err != nil {
			log.Error("conversation core failed", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(reply))
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()
	return store.Migrate(db)
}
