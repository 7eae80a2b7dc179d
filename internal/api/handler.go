package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/memhub/internal/command"
	"github.com/nidhogg/memhub/internal/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	manager  *memory.Manager
	commands *command.Registry
	gatherer prometheus.Gatherer
	budget   memory.ContextBudget
	logger   *zap.Logger
}

// NewHandler creates a new API handler. commands and gatherer may be nil.
func NewHandler(manager *memory.Manager, commands *command.Registry, gatherer prometheus.Gatherer, budget memory.ContextBudget, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager:  manager,
		commands: commands,
		gatherer: gatherer,
		budget:   budget,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Route("/memory", func(r chi.Router) {
			r.Post("/retrieve", h.retrieve)
			r.Post("/remember", h.remember)
			r.Post("/forget", h.forget)
			r.Post("/delete", h.deleteMemories)
			r.Post("/clear", h.clear)
			r.Post("/interactions", h.interaction)
			r.Post("/extract", h.extract)
			r.Get("/{userID}/stats", h.stats)
			r.Get("/{userID}/history/{conversationID}", h.history)
		})
	})

	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	tiers := map[memory.Tier]string{}
	down := 0
	for tier, err := range h.manager.Health(r.Context()) {
		if err != nil {
			tiers[tier] = err.Error()
			down++
			continue
		}
		tiers[tier] = "ok"
	}
	status, code := "ok", http.StatusOK
	switch {
	case down == len(tiers):
		status, code = "unavailable", http.StatusServiceUnavailable
	case down > 0:
		status = "degraded"
	}
	writeJSON(w, code, map[string]interface{}{"status": status, "tiers": tiers})
}

type retrieveRequest struct {
	UserID    string   `json:"user_id"`
	Query     string   `json:"query"`
	Limit     int      `json:"limit"`
	Threshold *float64 `json:"threshold"`
	Format    bool     `json:"format"`
}

type retrieveResponse struct {
	*memory.RetrieveResult
	Context string `json:"context,omitempty"`
}

func (h *Handler) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.manager.Retrieve(r.Context(), memory.Query{
		UserID:    req.UserID,
		Text:      req.Query,
		Limit:     req.Limit,
		Threshold: req.Threshold,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := retrieveResponse{RetrieveResult: res}
	if req.Format {
		out.Context = memory.FormatContext(res.Memories, h.budget)
	}
	writeJSON(w, http.StatusOK, out)
}

type rememberRequest struct {
	UserID         string `json:"user_id"`
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id"`
	Source         string `json:"source"`
}

func (h *Handler) remember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Source == "" {
		req.Source = memory.SourceAPI
	}
	res, err := h.manager.Remember(r.Context(), req.UserID, req.Content, req.ConversationID, req.Source)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type forgetRequest struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

func (h *Handler) forget(w http.ResponseWriter, r *http.Request) {
	var req forgetRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.manager.Forget(r.Context(), req.UserID, req.Content)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type deleteRequest struct {
	UserID     string `json:"user_id"`
	Query      string `json:"query"`
	ExactMatch bool   `json:"exact_match"`
}

func (h *Handler) deleteMemories(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.manager.Delete(r.Context(), req.UserID, req.Query, req.ExactMatch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type clearRequest struct {
	UserID  string `json:"user_id"`
	Confirm bool   `json:"confirm"`
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.manager.ClearAll(r.Context(), req.UserID, req.Confirm)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type interactionRequest struct {
	UserID            string `json:"user_id"`
	ConversationID    string `json:"conversation_id"`
	UserMessage       string `json:"user_message"`
	AssistantResponse string `json:"assistant_response"`
}

// interaction stores facts from a chat turn. Messages starting with a slash
// command are dispatched to the command registry instead.
func (h *Handler) interaction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if !decode(w, r, &req) {
		return
	}
	if h.commands != nil && command.IsCommand(req.UserMessage) {
		if req.UserID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
			return
		}
		res, err := h.commands.Dispatch(r.Context(), req.UserMessage, &command.CommandContext{
			UserID:         req.UserID,
			ConversationID: req.ConversationID,
		})
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	res, err := h.manager.ProcessInteraction(r.Context(), req.UserID, req.ConversationID, req.UserMessage, req.AssistantResponse)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type extractRequest struct {
	Text string `json:"text"`
}

func (h *Handler) extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !decode(w, r, &req) {
		return
	}
	candidates := h.manager.Extract(req.Text)
	if candidates == nil {
		candidates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"candidates": candidates})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.manager.Stats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	turns, err := h.manager.History(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "conversationID"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"turns": turns})
}

// writeError maps manager errors onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, memory.ErrInvalidInput), errors.Is(err, memory.ErrConfirmationRequired):
		status = http.StatusBadRequest
	case errors.Is(err, memory.ErrNoTierAvailable), errors.Is(err, memory.ErrUnavailable):
		status = http.StatusServiceUnavailable
	default:
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
