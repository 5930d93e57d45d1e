// Package httpapi implements the thin REST façade named in §6: enqueue
// commands, fetch history, create tool sessions, stream downloads, list
// telemetry, list/trigger monitors — plus the "/ws/agent" and "/ws/dashboard"
// WebSocket upgrade endpoints the teacher's dashboard.Server exposes as "/ws".
// No UI rendering lives here, per spec.md's explicit non-goal on the web UI.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/manlab-io/manlab/internal/audit"
	"github.com/manlab-io/manlab/internal/config"
	"github.com/manlab-io/manlab/internal/dispatch"
	"github.com/manlab-io/manlab/internal/metrics"
	"github.com/manlab-io/manlab/internal/registry"
	"github.com/manlab-io/manlab/internal/scheduler"
	"github.com/manlab-io/manlab/internal/session"
	"github.com/manlab-io/manlab/internal/store"
	"github.com/manlab-io/manlab/internal/streaming"
	"github.com/manlab-io/manlab/internal/toolsession"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server wires every injected component into one chi.Mux, following the
// teacher's dashboard.Server composition exactly (router built once in New,
// handlers as Server methods).
type Server struct {
	cfg *config.Hub
	log zerolog.Logger

	hub        *session.Hub
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	streams    *streaming.Registry

	terminals    *toolsession.Terminals
	logViewers   *toolsession.LogViewers
	fileBrowsers *toolsession.FileBrowsers
	downloads    *toolsession.Downloads

	nodes     *store.NodeRepo
	telemetry *store.TelemetryRepo
	monitors  *store.MonitorRepo
	audit     *audit.Recorder
	scheduler *scheduler.Scheduler

	tokens   *TokenIssuer
	upgrader websocket.Upgrader
	router   *chi.Mux
}

// Deps bundles every collaborator the REST façade fronts — one struct
// instead of a dozen constructor args, matching how cmd/manlab-hub will
// assemble the process.
type Deps struct {
	Hub          *session.Hub
	Registry     *registry.Registry
	Dispatcher   *dispatch.Dispatcher
	Streams      *streaming.Registry
	Terminals    *toolsession.Terminals
	LogViewers   *toolsession.LogViewers
	FileBrowsers *toolsession.FileBrowsers
	Downloads    *toolsession.Downloads
	Nodes        *store.NodeRepo
	Telemetry    *store.TelemetryRepo
	Monitors     *store.MonitorRepo
	Audit        *audit.Recorder
	Scheduler    *scheduler.Scheduler
}

func New(cfg *config.Hub, log zerolog.Logger, d Deps) *Server {
	s := &Server{
		cfg:          cfg,
		log:          log.With().Str("component", "httpapi").Logger(),
		hub:          d.Hub,
		registry:     d.Registry,
		dispatcher:   d.Dispatcher,
		streams:      d.Streams,
		terminals:    d.Terminals,
		logViewers:   d.LogViewers,
		fileBrowsers: d.FileBrowsers,
		downloads:    d.Downloads,
		nodes:        d.Nodes,
		telemetry:    d.Telemetry,
		monitors:     d.Monitors,
		audit:        d.Audit,
		scheduler:    d.Scheduler,
		tokens:       NewTokenIssuer(cfg.Auth.JWTSecret, 24*time.Hour),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRouter()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.securityHeaders)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket upgrade endpoints (§6): one for agents, one for dashboard
	// subscribers, mirroring the teacher's single "/ws" but split by peer
	// kind since this hub's Client already distinguishes them.
	r.Get("/ws/agent", s.handleWSAgent)
	r.Get("/ws/dashboard", s.handleWSDashboard)

	r.Post("/api/auth/login", s.handleLogin)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/nodes", s.handleListNodes)
		r.Get("/nodes/{nodeID}", s.handleGetNode)

		r.Route("/nodes/{nodeID}/commands", func(r chi.Router) {
			r.Post("/", s.handleEnqueueCommand)
			r.Get("/", s.handleListCommands)
		})
		r.Get("/commands/{commandID}", s.handleGetCommand)
		r.Post("/commands/{commandID}/cancel", s.handleCancelCommand)

		r.Route("/nodes/{nodeID}/telemetry", func(r chi.Router) {
			r.Get("/rollup", s.handleTelemetryRollup)
		})

		r.Route("/nodes/{nodeID}/sessions", func(r chi.Router) {
			r.Post("/terminal", s.handleCreateTerminal)
			r.Delete("/terminal/{handleID}", s.handleCloseTerminal)
			r.Get("/terminal/{handleID}/stream", s.handleTerminalStream)

			r.Post("/logviewer", s.handleCreateLogViewer)
			r.Post("/filebrowser", s.handleCreateFileBrowser)
			r.With(s.requireAdmin).Post("/filebrowser/system", s.handleCreateFileBrowserSystem)

			r.Post("/download", s.handleCreateDownload)
		})

		r.Get("/sessions/download/{handleID}/{streamID}", s.handleDownloadStream)
		r.Post("/sessions/download/{handleID}/{streamID}/cancel", s.handleCancelDownload)

		r.Route("/monitors", func(r chi.Router) {
			r.Get("/http", s.handleListHTTPMonitors)
			r.Post("/http/{configID}/trigger", s.handleTriggerHTTPMonitor)
			r.Get("/traffic", s.handleListTrafficMonitors)
			r.Post("/traffic/{configID}/trigger", s.handleTriggerTrafficMonitor)
			r.Get("/network-tools", s.handleListNetworkToolMonitors)
			r.Post("/network-tools/{configID}/trigger", s.handleTriggerNetworkToolMonitor)
			r.Get("/service", s.handleListServiceMonitors)
		})
	})

	s.router = r
}

// instrument records the REST façade's own request-count and latency
// metrics, keyed by the matched chi route pattern rather than the raw path
// so templated IDs don't explode the label cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, http.StatusText(ww.Status())).Inc()
	})
}

func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleWSAgent(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeAgent(w, r, s.upgrader)
}

func (s *Server) handleWSDashboard(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeDashboard(w, r, s.upgrader)
}
