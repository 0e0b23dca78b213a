package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/brainbank/osce/internal/channel"
	"github.com/brainbank/osce/internal/model"
	"github.com/brainbank/osce/internal/page"
	"github.com/brainbank/osce/internal/progress"
	"github.com/brainbank/osce/internal/store"
	"github.com/brainbank/osce/internal/tree"
)

// Config holds the HTTP surface settings.
type Config struct {
	AllowedOrigins []string
	SecureCookies  bool
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	deps     *page.Deps
	upgrader *websocket.Upgrader
	config   Config
}

// New creates a new Handler.
func New(s *store.Store, deps *page.Deps, cfg Config) *Handler {
	return &Handler{
		store:    s,
		deps:     deps,
		upgrader: channel.Upgrader(cfg.AllowedOrigins),
		config:   cfg,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.corsMiddleware())
	r.Use(h.loadUser)

	r.Get("/health", h.handleHealth)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/ws/{page}", h.handleSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/tree", h.handleTree)
		r.Get("/tree/{id}", h.handleTreeNode)
		r.With(requireUser).Get("/dashboard", h.handleDashboard)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(requireRole(model.UserRoleAdmin))
		r.Get("/users", h.handleListUsers)
		r.Post("/users", h.handleCreateUser)
		r.Post("/users/{userID}/toggle", h.handleToggleUserActive)
		r.Post("/users/{userID}/plans", h.handleGrantPlan)
		r.Post("/users/{userID}/orders/{orderID}", h.handleSetOrderStatus)
		r.Post("/cases", h.handleUploadCases)
	})
}

func (h *Handler) corsMiddleware() func(http.Handler) http.Handler {
	origins := h.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.CaseCount(r.Context())
	if err != nil {
		slog.Error("failed to count cases", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cases": n})
}

// pendingConn lets a page session be opened before the websocket upgrade,
// so access errors can still be answered with a plain HTTP status.
type pendingConn struct {
	conn *channel.Conn
}

func (p *pendingConn) Send(msgType string, data any) error {
	return p.conn.Send(msgType, data)
}

func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "page")
	out := &pendingConn{}
	sess, err := page.Open(name, h.deps, out, model.UserFromContext(r.Context()))
	switch {
	case errors.Is(err, page.ErrUnknownPage):
		http.Error(w, "unknown page", http.StatusNotFound)
		return
	case errors.Is(err, page.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	case err != nil:
		slog.Error("failed to open page", "page", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := channel.Accept(h.upgrader, w, r)
	if err != nil {
		// The upgrader has already written the HTTP error.
		slog.Warn("websocket upgrade failed", "page", name, "error", err)
		return
	}
	defer conn.Close()
	out.conn = conn

	ctx := r.Context()
	if err := sess.Start(ctx); err != nil {
		slog.Error("failed to start page", "page", name, "error", err)
		return
	}
	if err := conn.Serve(ctx, sess.Router()); err != nil {
		slog.Warn("page connection ended", "page", name, "error", err)
	}
}

// treeInputs loads what a projection needs for the request's user.
func (h *Handler) treeInputs(r *http.Request) (*tree.Projector, *tree.Structure, *tree.Structure, error) {
	ctx := r.Context()
	user := model.UserFromContext(ctx)
	rec, err := h.record(r)
	if err != nil {
		return nil, nil, nil, err
	}
	_, allowed := h.deps.Plans.AllowedTopics(ctx, user)
	all, err := h.deps.Cases.Structure(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	free, err := h.deps.Cases.FreeStructure(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return tree.NewProjector(rec, allowed.Has), all, free, nil
}

func (h *Handler) record(r *http.Request) (*model.AttemptRecord, error) {
	user := model.UserFromContext(r.Context())
	if user == nil {
		return model.NewAttemptRecord(""), nil
	}
	return h.deps.Attempts.Load(r.Context(), user.Email)
}

func (h *Handler) handleTree(w http.ResponseWriter, r *http.Request) {
	p, all, free, err := h.treeInputs(r)
	if err != nil {
		slog.Error("failed to load tree", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p.Full(all, free))
}

func (h *Handler) handleTreeNode(w http.ResponseWriter, r *http.Request) {
	p, all, free, err := h.treeInputs(r)
	if err != nil {
		slog.Error("failed to load tree", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	nodes, err := p.Expand(all, free, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, tree.ErrNotFound):
		http.Error(w, "node not found", http.StatusNotFound)
	case errors.Is(err, tree.ErrTopicLocked):
		http.Error(w, "topic locked", http.StatusForbidden)
	case err != nil:
		slog.Error("failed to expand tree", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, nodes)
	}
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	rec, err := h.record(r)
	if err != nil {
		slog.Error("failed to load attempts", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	cases, err := h.deps.Cases.Cases(r.Context())
	if err != nil {
		slog.Error("failed to list cases", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	perf := progress.New(h.deps.Location).Performance(rec, cases)
	writeJSON(w, http.StatusOK, perf)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
