package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/obsidianstack/microclimate/pkg/types"
	"github.com/obsidianstack/microclimate/server/internal/alerts"
	"github.com/obsidianstack/microclimate/server/internal/ingest"
	"github.com/obsidianstack/microclimate/server/internal/registry"
	"github.com/obsidianstack/microclimate/server/internal/store"
)

// ResultReader is the read side of the result store.
type ResultReader interface {
	Get(ctx context.Context, key string, dst any) bool
	Mode() store.Mode
}

// Deps are the components the API reads from. Scheduler, Hub and Alerts may
// be nil, in which case /api/v1/status reports "unknown" and 0 subscribers
// and /api/v1/alerts is empty.
type Deps struct {
	Registry  registry.Lister
	Store     ResultReader
	Scheduler interface{ State() ingest.State }
	Hub       interface{ Count() int }
	Alerts    interface{ Active() []alerts.Alert }
}

// Options tunes response content.
type Options struct {
	// StaleAfter flags results older than this in /api/v1/analysis hints.
	// Zero disables the check.
	StaleAfter time.Duration
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	deps Deps
	opts Options
	mux  *http.ServeMux
	now  func() time.Time
}

// New creates a Handler and registers all routes.
func New(deps Deps, opts Options) http.Handler {
	h := &Handler{deps: deps, opts: opts, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/sources", h.listSources)
	h.mux.HandleFunc("/api/v1/analysis", h.listAnalysis)
	h.mux.HandleFunc("/api/v1/analysis/", h.getAnalysis("/api/v1/analysis/")) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/status", h.status)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)

	// Paths served by the earlier dashboard build.
	h.mux.HandleFunc("/api/webcams", h.listSources)
	h.mux.HandleFunc("/api/analysis/", h.getAnalysis("/api/analysis/"))

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// listSources returns GET /api/v1/sources, the registry as loaded now.
func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	srcs, err := h.deps.Registry.List(r.Context())
	if err != nil {
		slog.Error("api: list sources", "err", err)
		jsonErr(w, http.StatusInternalServerError, "source registry unavailable")
		return
	}

	out := make([]SourceResponse, 0, len(srcs))
	for _, s := range srcs {
		out = append(out, toSourceResponse(s))
	}
	jsonResp(w, http.StatusOK, out)
}

// getAnalysis returns GET <prefix>{id}, the stored result or a null score.
func (h *Handler) getAnalysis(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, prefix)
		if id == "" {
			h.listAnalysis(w, r)
			return
		}
		if strings.Contains(id, "/") {
			jsonErr(w, http.StatusNotFound, "not found")
			return
		}

		jsonResp(w, http.StatusOK, toAnalysisResponse(id, h.lookup(r.Context(), id)))
	}
}

// listAnalysis returns GET /api/v1/analysis, the latest result for every
// registered source in registry order.
func (h *Handler) listAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	srcs, err := h.deps.Registry.List(r.Context())
	if err != nil {
		slog.Error("api: list sources", "err", err)
		jsonErr(w, http.StatusInternalServerError, "source registry unavailable")
		return
	}

	now := h.now()
	out := make([]SourceAnalysis, 0, len(srcs))
	for _, s := range srcs {
		res := h.lookup(r.Context(), s.ID)
		out = append(out, SourceAnalysis{
			Source:   toSourceResponse(s),
			Analysis: toAnalysisResponse(s.ID, res),
			Hints:    computeHints(res, now, h.opts.StaleAfter),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// status returns GET /api/v1/status.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := StatusResponse{
		Scheduler:   "unknown",
		Store:       string(h.deps.Store.Mode()),
		GeneratedAt: h.now().UTC().Format(time.RFC3339),
	}
	if h.deps.Scheduler != nil {
		resp.Scheduler = h.deps.Scheduler.State().String()
	}
	if h.deps.Hub != nil {
		resp.Subscribers = h.deps.Hub.Count()
	}
	jsonResp(w, http.StatusOK, resp)
}

// alerts returns GET /api/v1/alerts, firing and recently resolved alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.deps.Alerts == nil {
		jsonResp(w, http.StatusOK, []alerts.Alert{})
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Alerts.Active())
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) lookup(ctx context.Context, id string) *types.AnalysisResult {
	var res types.AnalysisResult
	if !h.deps.Store.Get(ctx, types.AnalysisKey(id), &res) {
		return nil
	}
	return &res
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
