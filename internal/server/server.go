// Package server exposes a small read-only status API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"automatosx/internal/agent"
	"automatosx/internal/memory"
	"automatosx/internal/provider"
	"automatosx/internal/ratelimit"
	"automatosx/internal/session"
)

// Options wires a Server. Nil components disable their endpoints.
type Options struct {
	Addr      string
	Router    *provider.Router
	Sessions  *session.Manager
	Memory    *memory.Manager
	Loader    *agent.Loader
	RateLimit ratelimit.Config
	Logger    zerolog.Logger
}

// Server serves status endpoints: health, providers, sessions, agents, and
// memory statistics.
type Server struct {
	opts    Options
	limiter *ratelimit.Limiter
	httpSrv *http.Server
	logger  zerolog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.RateLimit.Window <= 0 {
		opts.RateLimit.Window = time.Minute
	}
	if opts.RateLimit.MaxRequests <= 0 {
		opts.RateLimit.MaxRequests = 60
	}

	s := &Server{
		opts:    opts,
		limiter: ratelimit.New(opts.RateLimit),
		logger:  opts.Logger,
	}
	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the routed handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.rateLimitMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.opts.Router != nil {
		r.HandleFunc("/v1/providers", s.handleProviders).Methods(http.MethodGet)
	}
	if s.opts.Sessions != nil {
		r.HandleFunc("/v1/sessions", s.handleSessions).Methods(http.MethodGet)
	}
	if s.opts.Loader != nil {
		r.HandleFunc("/v1/agents", s.handleAgents).Methods(http.MethodGet)
	}
	if s.opts.Memory != nil {
		r.HandleFunc("/v1/memory/stats", s.handleMemoryStats).Methods(http.MethodGet)
	}
	return r
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.opts.Addr).Msg("status server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			client = r.RemoteAddr
		}

		res := s.limiter.Allow(client)
		if !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
		s.limiter.RecordSuccess(client, res.RequestID)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type providerStatus struct {
	Name      string                `json:"name"`
	Priority  int                   `json:"priority"`
	Available bool                  `json:"available"`
	Health    provider.HealthStatus `json:"health"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	available := make(map[string]bool)
	for _, p := range s.opts.Router.AvailableProviders(r.Context()) {
		available[p.Name()] = true
	}
	health := s.opts.Router.HealthStatus()

	var out []providerStatus
	for _, p := range s.opts.Router.Providers() {
		out = append(out, providerStatus{
			Name:      p.Name(),
			Priority:  p.Priority(),
			Available: available[p.Name()],
			Health:    health[p.Name()],
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	status := session.Status(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, s.opts.Sessions.List(status))
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.opts.Loader.GetAllProfiles()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.opts.Memory.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
