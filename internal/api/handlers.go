package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/kitd/internal/apperr"
	"github.com/starford/kitd/internal/registry"
	"github.com/starford/kitd/internal/scriptservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *scriptservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *scriptservice.Service) *Handler {
	return &Handler{svc: svc}
}

// scriptPath extracts the script path from the URL wildcard. Script paths are
// absolute, so the leading slash is kept. Encoded slashes are decoded.
func scriptPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}
	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}
	return decoded
}

// writeErr maps service errors onto status codes.
func writeErr(w http.ResponseWriter, op string, err error, attrs ...any) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrInvalidTrigger):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("initial scan in progress"))
	default:
		slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListScripts handles GET /api/scripts.
//
//	@Summary		List indexed scripts
//	@Tags			scripts
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			kenv	query		string	false	"Filter by kenv"
//	@Success		200		{object}	ScriptListResponse
//	@Security		BearerAuth
//	@Router			/scripts [get]
func (h *Handler) ListScripts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	rows, total, err := h.svc.ListScripts(r.Context(), q.Get("kenv"), limit, offset)
	if err != nil {
		writeErr(w, "list scripts", err)
		return
	}
	writeJSON(w, http.StatusOK, ScriptListResponse{Scripts: rows, Total: total})
}

// GetScript handles GET /api/scripts/*.
//
//	@Summary		Get one script with registrations, dependents and preview
//	@Tags			scripts
//	@Produce		json
//	@Param			path	path		string	true	"Absolute script path"
//	@Success		200		{object}	ScriptDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/scripts/{path} [get]
func (h *Handler) GetScript(w http.ResponseWriter, r *http.Request) {
	path := scriptPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	detail, err := h.svc.GetScript(r.Context(), path)
	if err != nil {
		writeErr(w, "get script", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Dependents handles GET /api/scripts/dependents/*.
//
//	@Summary		List scripts that import a script, transitively
//	@Tags			scripts
//	@Produce		json
//	@Param			path	path		string	true	"Absolute script path"
//	@Success		200		{object}	DependentsResponse
//	@Security		BearerAuth
//	@Router			/scripts/dependents/{path} [get]
func (h *Handler) Dependents(w http.ResponseWriter, r *http.Request) {
	path := scriptPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	deps, err := h.svc.Dependents(r.Context(), path)
	if err != nil {
		writeErr(w, "dependents", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, DependentsResponse{Path: path, Dependents: deps})
}

// Search handles GET /api/search.
//
//	@Summary		Search scripts by name, command, description or path
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeErr(w, "search", err, slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Triggers handles GET /api/triggers/{kind}.
//
//	@Summary		List the registrations of one trigger registry
//	@Tags			triggers
//	@Produce		json
//	@Param			kind	path		string	true	"Registry kind"	Enums(shortcut, schedule, system, watch, background, snippet)
//	@Success		200		{object}	TriggersResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/triggers/{kind} [get]
func (h *Handler) Triggers(w http.ResponseWriter, r *http.Request) {
	kind := registry.Kind(chi.URLParam(r, "kind"))
	regs, err := h.svc.Triggers(r.Context(), kind)
	if err != nil {
		writeErr(w, "triggers", err, slog.String("kind", string(kind)))
		return
	}
	writeJSON(w, http.StatusOK, TriggersResponse{Kind: kind, Registrations: regs})
}

// MatchSnippet handles GET /api/snippets/match.
//
//	@Summary		Find snippets completed by the typed tail
//	@Tags			triggers
//	@Produce		json
//	@Param			tail	query		string	true	"Recently typed text"
//	@Success		200		{object}	SnippetMatchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/snippets/match [get]
func (h *Handler) MatchSnippet(w http.ResponseWriter, r *http.Request) {
	tail := r.URL.Query().Get("tail")
	if tail == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'tail' is required"))
		return
	}
	matches, err := h.svc.MatchSnippet(r.Context(), tail)
	if err != nil {
		writeErr(w, "match snippet", err)
		return
	}
	writeJSON(w, http.StatusOK, SnippetMatchResponse{Tail: tail, Matches: matches})
}

// FireSystem handles POST /api/system/{event}.
//
//	@Summary		Dispatch a system event to the scripts registered for it
//	@Tags			triggers
//	@Produce		json
//	@Param			event	path		string	true	"System event"
//	@Success		200		{object}	SystemFireResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/system/{event} [post]
func (h *Handler) FireSystem(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")
	n, err := h.svc.FireSystem(r.Context(), event)
	if err != nil {
		writeErr(w, "fire system event", err, slog.String("event", event))
		return
	}
	writeJSON(w, http.StatusOK, SystemFireResponse{Event: event, Triggered: n})
}

// Run handles POST /api/run.
//
//	@Summary		Ask the shell to run an indexed script
//	@Tags			scripts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RunRequest	true	"Script to run"
//	@Success		202		{object}	RunResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/run [post]
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	run, err := h.svc.Run(r.Context(), req.Path, req.Args)
	if err != nil {
		writeErr(w, "run", err, slog.String("path", req.Path))
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// PressShortcut handles POST /api/shortcuts/press.
//
//	@Summary		Run the script bound to a shortcut
//	@Tags			triggers
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PressRequest	true	"Accelerator"
//	@Success		202		{object}	PressResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/shortcuts/press [post]
func (h *Handler) PressShortcut(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req PressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	script, err := h.svc.PressShortcut(r.Context(), req.Accelerator)
	if err != nil {
		writeErr(w, "press shortcut", err, slog.String("accelerator", req.Accelerator))
		return
	}
	writeJSON(w, http.StatusAccepted, PressResponse{Accelerator: req.Accelerator, Script: script})
}

// Status handles GET /api/status.
//
//	@Summary		Session state rebuilt from the state files
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		writeErr(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. It reports 503 until the initial scan is
// done.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if !h.svc.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "scanning"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
