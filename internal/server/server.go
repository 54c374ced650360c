package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/claudescope/claudescope/internal/config"
	"github.com/claudescope/claudescope/internal/db"
	"github.com/claudescope/claudescope/internal/etl"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Server is the HTTP server that serves the REST API over the
// derived store.
type Server struct {
	mu      gosync.RWMutex
	cfg     config.Config
	db      *db.DB
	syncer  *etl.Syncer
	mux     *http.ServeMux
	httpSrv *http.Server
	version VersionInfo

	// handlerDelay is injected before each timeout-wrapped
	// handler, used only by tests to guarantee handlers
	// exceed a short timeout. Zero in production.
	handlerDelay time.Duration
}

// New creates a new Server.
func New(
	cfg config.Config, database *db.DB, syncer *etl.Syncer,
	opts ...Option,
) *Server {
	s := &Server{
		cfg:    cfg,
		db:     database,
		syncer: syncer,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

func (s *Server) routes() {
	s.mux.Handle("GET /api/v1/search", s.withTimeout(s.handleSearch))
	s.mux.Handle("GET /api/v1/search/timestamps", s.withTimeout(s.handleMatchTimestamps))
	s.mux.Handle("GET /api/v1/search/range", s.withTimeout(s.handleSearchTimeRange))

	s.mux.Handle("GET /api/v1/projects", s.withTimeout(s.handleListProjects))
	s.mux.Handle("GET /api/v1/projects/{id}", s.withTimeout(s.handleGetProject))
	s.mux.Handle(
		"GET /api/v1/projects/{id}/sessions", s.withTimeout(s.handleProjectSessions),
	)

	s.mux.Handle("GET /api/v1/sessions", s.withTimeout(s.handleListSessions))
	s.mux.Handle("GET /api/v1/sessions/{id}", s.withTimeout(s.handleGetSession))
	s.mux.Handle(
		"GET /api/v1/sessions/{id}/messages", s.withTimeout(s.handleSessionMessages),
	)
	s.mux.Handle(
		"GET /api/v1/sessions/{id}/search", s.withTimeout(s.handleSessionSearch),
	)
	s.mux.Handle(
		"GET /api/v1/sessions/{id}/subagents", s.withTimeout(s.handleSessionSubagents),
	)

	s.mux.Handle("GET /api/v1/history", s.withTimeout(s.handleListHistory))
	s.mux.Handle("GET /api/v1/tasks", s.withTimeout(s.handleListTasks))
	s.mux.Handle("GET /api/v1/plans", s.withTimeout(s.handleListPlans))
	s.mux.Handle("GET /api/v1/plans/{slug}", s.withTimeout(s.handleGetPlan))
	s.mux.Handle("GET /api/v1/reports", s.withTimeout(s.handleReport))

	// Sync is a blocking full rebuild; no timeout wrapper.
	s.mux.HandleFunc("POST /api/v1/sync", s.handleTriggerSync)
	s.mux.Handle("GET /api/v1/sync/status", s.withTimeout(s.handleSyncStatus))

	s.mux.Handle("GET /api/v1/version", s.withTimeout(s.handleGetVersion))
}

func (s *Server) handleGetVersion(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.version)
}

// SetPort updates the listen port (for testing).
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Port = port
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(logMiddleware(s.mux))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	log.Printf("serving at http://%s", addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// FindAvailablePort finds an available port starting from the
// given port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set(
				"Access-Control-Allow-Methods", "GET, POST, OPTIONS",
			)
			w.Header().Set(
				"Access-Control-Allow-Headers", "Content-Type",
			)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Printf("%s %s", r.Method, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}
