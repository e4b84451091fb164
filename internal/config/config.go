// Package config loads the process-wide configuration struct once at
// startup and passes it by explicit dependency injection, never through
// ambient mutable globals (see SPEC_FULL.md §A and spec.md §9).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/romiteld/crm-sync-engine/internal/store"
)

// Config is the single source of truth for every tunable spec.md §6 names.
type Config struct {
	// Webhook ingestion
	WebhookSharedSecret string        `validate:"required,min=16"`
	DedupTTL            time.Duration `validate:"required"`

	// Reconciliation
	PollInterval       time.Duration `validate:"required"`
	SchedulerTick      time.Duration `validate:"required"`
	MaxDeliveryRetries int           `validate:"required,min=1"`

	// Conversation
	ClarificationTTL           time.Duration `validate:"required"`
	ConversationMemoryRetention time.Duration `validate:"required"`

	// Webhook event retention — successful rows are GC'd after this long
	// (spec.md §3).
	WebhookEventRetention time.Duration `validate:"required"`

	// Storage
	PostgresDSN string `validate:"required"`
	RedisAddr   string `validate:"required"`
	RedisPassword string
	RedisDB     int

	// Admin / auth
	AdminJWTSecret string        `validate:"required,min=32"`
	AdminAPIKey    string        `validate:"required,min=16"`
	AdminTokenTTL  time.Duration `validate:"required"`

	// Bus
	BusStreamPrefix   string        `validate:"required"`
	BusConsumerGroup  string        `validate:"required"`
	BusMaxLifetime    time.Duration `validate:"required"`
	BusMaxDeliveries  int64         `validate:"required,min=1"`

	// Dispatcher transport credentials (opaque to the core; see §6).
	SlackBotToken    string
	WebhookTransportURL string

	// Intent classifier
	AnthropicAPIKey            string
	IntentConfidenceThreshold  float64 `validate:"gte=0,lte=1"`
	ClarificationFuzzyThreshold float64 `validate:"gte=0,lte=1"`

	// Lookup tables (employer equivalence, AUM buckets) — hot-reloadable.
	LookupTablePath string `validate:"required"`

	// Vendor CRM REST API the Poller sweeps (spec.md §4.3).
	VendorBaseURL string        `validate:"required"`
	VendorAPIKey  string        `validate:"required"`
	VendorTimeout time.Duration `validate:"required"`

	// HTTP listen addresses.
	WebhookListenAddr string `validate:"required"`
	AdminListenAddr   string `validate:"required"`

	PollerPageSize     int `validate:"required,min=1"`
	SchedulerClaimLimit int `validate:"required,min=1"`
	SchedulerConcurrency int `validate:"required,min=1"`
	SyncWorkerConcurrency int `validate:"required,min=1"`

	// RoleMapBootstrap seeds Postgres's role_map on startup (§6), parsed
	// from "email:role,email:role" pairs.
	RoleMapBootstrap map[string]store.Role

	NodeID string `validate:"required"`
}

// Load reads every recognized key from the environment and validates the
// result, failing fast on a malformed or missing required value rather than
// starting in a half-configured state.
func Load() (*Config, error) {
	cfg := &Config{
		WebhookSharedSecret:         os.Getenv("WEBHOOK_SHARED_SECRET"),
		DedupTTL:                    durationEnv("DEDUP_TTL", 600*time.Second),
		PollInterval:                durationEnv("POLL_INTERVAL", 15*time.Minute),
		SchedulerTick:               durationEnv("SCHEDULER_TICK", 30*time.Second),
		MaxDeliveryRetries:          intEnv("MAX_DELIVERY_RETRIES", 5),
		ClarificationTTL:            durationEnv("CLARIFICATION_TTL", 5*time.Minute),
		ConversationMemoryRetention: durationEnv("CONVERSATION_MEMORY_RETENTION", 30*24*time.Hour),
		WebhookEventRetention:       durationEnv("WEBHOOK_EVENT_RETENTION", 30*24*time.Hour),
		PostgresDSN:                 os.Getenv("POSTGRES_DSN"),
		RedisAddr:                   envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:               os.Getenv("REDIS_PASSWORD"),
		RedisDB:                     intEnv("REDIS_DB", 0),
		AdminJWTSecret:              os.Getenv("ADMIN_JWT_SECRET"),
		AdminAPIKey:                 os.Getenv("ADMIN_API_KEY"),
		AdminTokenTTL:               durationEnv("ADMIN_TOKEN_TTL", 24*time.Hour),
		BusStreamPrefix:             envOr("BUS_STREAM_PREFIX", "crmsync"),
		BusConsumerGroup:            envOr("BUS_CONSUMER_GROUP", "syncworkers"),
		BusMaxLifetime:              durationEnv("BUS_MAX_LIFETIME", time.Hour),
		BusMaxDeliveries:            int64Env("BUS_MAX_DELIVERIES", 5),
		SlackBotToken:               os.Getenv("SLACK_BOT_TOKEN"),
		WebhookTransportURL:         os.Getenv("WEBHOOK_TRANSPORT_URL"),
		AnthropicAPIKey:             os.Getenv("ANTHROPIC_API_KEY"),
		IntentConfidenceThreshold:   floatEnv("INTENT_CONFIDENCE_THRESHOLD", 0.8),
		ClarificationFuzzyThreshold: floatEnv("CLARIFICATION_FUZZY_THRESHOLD", 0.8),
		LookupTablePath:             envOr("LOOKUP_TABLE_PATH", "/etc/crmsync/lookup-tables.json"),
		RoleMapBootstrap:            roleMapEnv("ROLE_MAP_BOOTSTRAP"),
		NodeID:                      envOr("NODE_ID", hostnameOrFallback()),
		VendorBaseURL:               os.Getenv("VENDOR_BASE_URL"),
		VendorAPIKey:                os.Getenv("VENDOR_API_KEY"),
		VendorTimeout:               durationEnv("VENDOR_TIMEOUT", 15*time.Second),
		WebhookListenAddr:           envOr("WEBHOOK_LISTEN_ADDR", ":8080"),
		AdminListenAddr:             envOr("ADMIN_LISTEN_ADDR", ":8081"),
		PollerPageSize:              intEnv("POLLER_PAGE_SIZE", 100),
		SchedulerClaimLimit:         intEnv("SCHEDULER_CLAIM_LIMIT", 50),
		SchedulerConcurrency:        intEnv("SCHEDULER_CONCURRENCY", 8),
		SyncWorkerConcurrency:       intEnv("SYNC_WORKER_CONCURRENCY", 8),
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func int64Env(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// roleMapEnv parses "email:role,email:role" pairs, skipping malformed
// entries rather than failing startup over one typo'd line.
func roleMapEnv(key string) map[string]store.Role {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	out := map[string]store.Role{}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		out[parts[0]] = store.Role(parts[1])
	}
	return out
}

func hostnameOrFallback() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "node-unknown"
	}
	return h
}
