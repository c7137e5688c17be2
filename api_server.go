package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// APIConfig controls the collaborator HTTP surface.
type APIConfig struct {
	Listen         string
	DataDir        string
	TokenAuth      bool
	IdempotencyTTL time.Duration
	Metrics        bool
}

// APIServer serves the JSON API the assistant backend talks to.
type APIServer struct {
	ledger *Ledger
	config APIConfig
	token  string
	idem   *idempotencyCache
	server *http.Server
	addr   string
	log    *slog.Logger
}

// NewAPIServer creates an API server over ledger. Nothing listens until
// Start.
func NewAPIServer(ledger *Ledger, cfg APIConfig) *APIServer {
	ttl := cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &APIServer{
		ledger: ledger,
		config: cfg,
		idem:   newIdempotencyCache(ttl, 1024),
		log:    slog.With("component", "api"),
	}
}

// Handler builds the routed handler with its middleware chain.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = mux
	if s.token != "" {
		handler = tokenMiddleware(s.token, handler)
	}
	handler = maxBodySize(handler, 1<<20) // 1MB
	handler = s.requestID(handler)
	return handler
}

// Start launches the server in the background. With token auth enabled it
// first writes a fresh token to the cookie file.
func (s *APIServer) Start() error {
	if s.config.TokenAuth {
		token, err := generateToken()
		if err != nil {
			return err
		}
		if err := writeCookie(s.config.DataDir, token); err != nil {
			deleteCookie(s.config.DataDir)
			return fmt.Errorf("failed to write cookie: %w", err)
		}
		s.token = token
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // POST /mine seals synchronously
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		s.cleanupCookie()
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	s.addr = ln.Addr().String()
	s.log.Info("API listening", "addr", s.addr, "token_auth", s.config.TokenAuth)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr is the bound listen address, valid after Start.
func (s *APIServer) Addr() string {
	return s.addr
}

// Stop gracefully shuts down the server and removes the cookie file.
func (s *APIServer) Stop(ctx context.Context) error {
	defer s.cleanupCookie()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *APIServer) cleanupCookie() {
	if s.config.TokenAuth {
		deleteCookie(s.config.DataDir)
	}
}

// maxBodySize limits request body size to prevent OOM from large payloads.
func maxBodySize(next http.Handler, bytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, bytes)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// requestID tags every request with an X-Request-Id (the caller's, if
// given) and logs its outcome.
func (s *APIServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(withRequestID(r.Context(), id)))
		s.log.Debug("request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
