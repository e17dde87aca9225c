// ABOUTME: Gateway service struct and REST API over the conversation store
// ABOUTME: chi router exposing find/create/history/read/unread/assign plus /ws

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storeline/chatsync/internal/metrics"
	"github.com/storeline/chatsync/internal/store"
	"github.com/storeline/chatsync/internal/wire"
)

// ctxKey is the context key type for the authenticated identity.
type ctxKey int

const identityKey ctxKey = iota

// Gateway serves the conversation REST API and the realtime endpoint.
type Gateway struct {
	store  store.Store
	hub    *Hub
	tokens *TokenIssuer
	logger *slog.Logger
}

// New creates a gateway over the given store and hub.
func New(st store.Store, hub *Hub, tokens *TokenIssuer, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		store:  st,
		hub:    hub,
		tokens: tokens,
		logger: logger.With("component", "gateway"),
	}
}

// Router builds the HTTP routing tree.
func (g *Gateway) Router(metricsEnabled bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/ws", g.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(g.requireAuth)

		r.Post("/conversations", g.handleCreateConversation)
		r.Get("/conversations", g.handleListConversations)
		r.Get("/conversations/by-customer/{customerID}", g.handleFindConversation)
		r.Get("/conversations/{id}/messages", g.handleListMessages)
		r.Post("/conversations/{id}/read", g.handleMarkRead)
		r.Post("/conversations/{id}/assign", g.handleAssignAgent)
		r.Get("/customers/{customerID}/unread", g.handleUnreadCount)
	})

	return r
}

// requireAuth verifies the bearer token and stashes the identity.
func (g *Gateway) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := g.authenticate(r)
		if err != nil {
			g.writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := contextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID int64 `json:"customerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CustomerID == 0 {
		g.writeError(w, r, http.StatusBadRequest, "customerId required")
		return
	}

	identity := identityFromContext(r.Context())
	if identity.Role == wire.RoleCustomer && identity.UserID != req.CustomerID {
		g.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	conv, err := g.store.CreateConversation(r.Context(), req.CustomerID)
	if errors.Is(err, store.ErrDuplicateConversation) {
		// Find-or-create racing itself; return the existing conversation.
		conv, err = g.store.FindConversationByCustomer(r.Context(), req.CustomerID)
	}
	if err != nil {
		g.writeError(w, r, http.StatusInternalServerError, "could not create conversation")
		return
	}

	g.writeJSON(w, r, http.StatusCreated, g.toWireConversation(r, conv))
}

func (g *Gateway) handleFindConversation(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
	if err != nil {
		g.writeError(w, r, http.StatusBadRequest, "bad customer id")
		return
	}

	identity := identityFromContext(r.Context())
	if identity.Role == wire.RoleCustomer && identity.UserID != customerID {
		g.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	conv, err := g.store.FindConversationByCustomer(r.Context(), customerID)
	if errors.Is(err, store.ErrNotFound) {
		g.writeError(w, r, http.StatusNotFound, "no conversation")
		return
	}
	if err != nil {
		g.writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}

	g.writeJSON(w, r, http.StatusOK, g.toWireConversation(r, conv))
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if identity.Role != wire.RoleAgent {
		g.writeError(w, r, http.StatusForbidden, "agent only")
		return
	}

	convs, err := g.store.ListConversations(r.Context(), 200)
	if err != nil {
		g.writeError(w, r, http.StatusInternalServerError, "list failed")
		return
	}

	out := make([]*wire.Conversation, 0, len(convs))
	for _, conv := range convs {
		out = append(out, g.toWireConversation(r, conv))
	}
	g.writeJSON(w, r, http.StatusOK, out)
}

func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	convID, ok := g.conversationFromPath(w, r)
	if !ok {
		return
	}

	msgs, err := g.store.ListMessages(r.Context(), convID, 0)
	if err != nil {
		g.writeError(w, r, http.StatusInternalServerError, "history fetch failed")
		return
	}

	out := make([]*wire.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ToWire())
	}
	g.writeJSON(w, r, http.StatusOK, out)
}

func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	convID, ok := g.conversationFromPath(w, r)
	if !ok {
		return
	}

	identity := identityFromContext(r.Context())
	if err := g.store.MarkRead(r.Context(), convID, identity.Role); err != nil {
		g.writeError(w, r, http.StatusInternalServerError, "mark read failed")
		return
	}
	g.writeJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

func (g *Gateway) handleAssignAgent(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if identity.Role != wire.RoleAgent {
		g.writeError(w, r, http.StatusForbidden, "agent only")
		return
	}

	convID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		g.writeError(w, r, http.StatusBadRequest, "bad conversation id")
		return
	}

	var req struct {
		AgentID int64 `json:"agentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == 0 {
		g.writeError(w, r, http.StatusBadRequest, "agentId required")
		return
	}

	err = g.store.AssignAgent(r.Context(), convID, req.AgentID)
	if errors.Is(err, store.ErrNotFound) {
		g.writeError(w, r, http.StatusNotFound, "no conversation")
		return
	}
	if err != nil {
		g.writeError(w, r, http.StatusInternalServerError, "assign failed")
		return
	}
	g.writeJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

func (g *Gateway) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
	if err != nil {
		g.writeError(w, r, http.StatusBadRequest, "bad customer id")
		return
	}

	identity := identityFromContext(r.Context())
	if identity.Role == wire.RoleCustomer && identity.UserID != customerID {
		g.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	conv, err := g.store.FindConversationByCustomer(r.Context(), customerID)
	if errors.Is(err, store.ErrNotFound) {
		// No conversation yet means nothing unread.
		g.writeJSON(w, r, http.StatusOK, map[string]int{"unreadCount": 0})
		return
	}
	if err != nil {
		g.writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}

	count, err := g.store.UnreadCount(r.Context(), conv.ID, identity.Role)
	if err != nil {
		g.writeError(w, r, http.StatusInternalServerError, "count failed")
		return
	}
	g.writeJSON(w, r, http.StatusOK, map[string]int{"unreadCount": count})
}

// conversationFromPath parses {id} and checks the caller may access it.
func (g *Gateway) conversationFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	convID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		g.writeError(w, r, http.StatusBadRequest, "bad conversation id")
		return 0, false
	}

	identity := identityFromContext(r.Context())
	if err := g.authorizeConversation(r.Context(), identity, convID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.writeError(w, r, http.StatusNotFound, "no conversation")
		} else {
			g.writeError(w, r, http.StatusForbidden, "forbidden")
		}
		return 0, false
	}
	return convID, true
}

// toWireConversation attaches the caller-role unread count to a conversation.
func (g *Gateway) toWireConversation(r *http.Request, conv *store.Conversation) *wire.Conversation {
	identity := identityFromContext(r.Context())
	out := &wire.Conversation{
		ID:         conv.ID,
		CustomerID: conv.CustomerID,
		AgentID:    conv.AgentID,
		CreatedAt:  conv.CreatedAt,
	}
	count, err := g.store.UnreadCount(r.Context(), conv.ID, identity.Role)
	if err != nil {
		g.logger.Warn("unread count failed", "conversation_id", conv.ID, "err", err)
		return out
	}
	out.UnreadCount = count
	return out
}

func (g *Gateway) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("response encode failed", "path", r.URL.Path, "err", err)
	}
	metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(status)).Inc()
}

func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	g.writeJSON(w, r, status, map[string]string{"error": msg})
}

func contextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// identityFromContext returns the identity placed by requireAuth.
func identityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityKey).(*Identity)
	if identity == nil {
		// requireAuth guarantees presence on API routes.
		panic("identity missing from request context")
	}
	return identity
}
