package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-tavern/relaybot/internal/handler/dispatch"
	"github.com/zhouzirui/z-tavern/relaybot/pkg/utils"
)

// SessionCounter reports how many questionnaires are in progress.
type SessionCounter interface {
	ActiveSessions() int
}

// LoopStats exposes the dispatch loop counters.
type LoopStats interface {
	Stats() dispatch.Stats
}

// Health collects what the ops endpoints report.
type Health struct {
	Sessions  SessionCounter
	Dispatch  LoopStats
	StartedAt time.Time
	Version   string
}

type healthResponse struct {
	Status         string          `json:"status"`
	Version        string          `json:"version,omitempty"`
	Uptime         string          `json:"uptime"`
	ActiveSessions int             `json:"activeSessions"`
	Dispatch       *dispatch.Stats `json:"dispatch,omitempty"`
}

// NewRouter wires the ops HTTP routes.
func NewRouter(health Health, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if health.StartedAt.IsZero() {
		health.StartedAt = time.Now()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger.With("component", "http")))
	r.Use(middleware.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/healthz", health.serve)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

func (h Health) serve(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: h.Version,
		Uptime:  time.Since(h.StartedAt).Truncate(time.Second).String(),
	}
	if h.Sessions != nil {
		resp.ActiveSessions = h.Sessions.ActiveSessions()
	}

	status := http.StatusOK
	if h.Dispatch != nil {
		stats := h.Dispatch.Stats()
		resp.Dispatch = &stats
		switch {
		case !stats.Running:
			resp.Status = "stopped"
			status = http.StatusServiceUnavailable
		case stats.LastErrorAt.After(stats.LastPollAt):
			resp.Status = "degraded"
		}
	}

	utils.RespondJSON(w, status, resp)
}

// requestLogger 用 slog 记录每个请求
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
