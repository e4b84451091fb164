package adminapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/bus"
	"github.com/romiteld/crm-sync-engine/internal/module"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

const defaultConflictPageSize = 50

// Server wires the admin HTTP surface: sync health, conflict review and
// resolution, DLQ inspection and replay, and the live event stream.
type Server struct {
	store  store.Store
	bus    bus.Bus
	tokens *TokenIssuer
	hub    *StreamHub
	log    *zap.Logger
}

func NewServer(st store.Store, b bus.Bus, tokens *TokenIssuer, hub *StreamHub, log *zap.Logger) *Server {
	return &Server{store: st, bus: b, tokens: tokens, hub: hub, log: log}
}

// Routes mounts every admin endpoint on router, all behind RequireBearer
// except the websocket upgrade (which authenticates the query-string token
// itself, since browsers cannot set an Authorization header on a WS
// handshake).
func (s *Server) Routes(router chi.Router) {
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		MaxAge:           300,
	}))

	router.Get("/admin/stream", s.handleStream)

	router.Group(func(r chi.Router) {
		r.Use(s.tokens.RequireBearer)
		r.Get("/admin/sync-status", s.handleSyncStatus)
		r.Get("/admin/conflicts", s.handleListConflicts)
		r.Post("/admin/conflicts/{conflictID}/resolve", s.handleResolveConflict)
		r.Get("/admin/dlq/{stream}", s.handleListDLQ)
		r.Post("/admin/dlq/{stream}/replay", s.handleReplayDLQ)
		r.Post("/admin/dlq/{stream}/purge", s.handlePurgeDLQ)
	})
}

// handleStream authenticates the websocket handshake via a "token" query
// parameter rather than an Authorization header, since browsers cannot set
// arbitrary headers on a WS upgrade request.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if _, err := s.tokens.parse(r.URL.Query().Get("token")); err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}
	s.hub.ServeWS(w, r)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.ListAllSyncMetadata(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mod, err := module.Parse(q.Get("module"))
	if err != nil {
		http.Error(w, "unknown or missing module query param", http.StatusBadRequest)
		return
	}
	unresolvedOnly := q.Get("unresolved") != "false"
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit := defaultConflictPageSize
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		limit = l
	}

	conflicts, err := s.store.ListSyncConflicts(r.Context(), mod, unresolvedOnly, offset, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}

type resolveConflictRequest struct {
	Strategy store.ResolutionStrategy `json:"strategy"`
	Notes    string                   `json:"notes"`
}

// handleResolveConflict records the operator's resolution decision,
// attributing it to the bearer token's identity rather than trusting a
// caller-supplied resolver field (§C.2: "recording the resolving
// operator's identity, never trusting a client-supplied value").
func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "missing operator identity", http.StatusUnauthorized)
		return
	}
	conflictID := chi.URLParam(r, "conflictID")

	var req resolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body: "+err.Error(), http.StatusBadRequest)
		return
	}
	switch req.Strategy {
	case store.ResolutionLastWriteWins, store.ResolutionManualReview, store.ResolutionDiscard:
	default:
		http.Error(w, "unknown resolution strategy", http.StatusBadRequest)
		return
	}

	if err := s.store.ResolveSyncConflict(r.Context(), conflictID, req.Strategy, claims.Identity, req.Notes); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.Publish(StreamEvent{Kind: "conflict_resolved", Payload: map[string]any{
		"conflict_id": conflictID,
		"resolver":    claims.Identity,
		"strategy":    req.Strategy,
	}})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	limit := int64(100)
	if l, err := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64); err == nil && l > 0 {
		limit = l
	}
	entries, err := s.bus.ListDLQ(r.Context(), stream, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleReplayDLQ requeues up to limit parked entries back onto their
// origin stream, preserving each payload byte-for-byte (§C.1).
func (s *Server) handleReplayDLQ(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	limit := int64(10)
	if l, err := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64); err == nil && l > 0 {
		limit = l
	}
	replayed, err := s.bus.ReplayDLQ(r.Context(), stream, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.Publish(StreamEvent{Kind: "dlq_replayed", Payload: map[string]any{"stream": stream, "count": replayed}})
	writeJSON(w, http.StatusOK, map[string]int{"replayed": replayed})
}

func (s *Server) handlePurgeDLQ(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	purged, err := s.bus.PurgeDLQ(r.Context(), stream)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.Publish(StreamEvent{Kind: "dlq_purged", Payload: map[string]any{"stream": stream, "count": purged}})
	writeJSON(w, http.StatusOK, map[string]int64{"purged": purged})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
