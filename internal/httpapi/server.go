package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"signalbridge/internal/bus"
	"signalbridge/internal/memory"
	"signalbridge/internal/push"
	"signalbridge/internal/store"
	"signalbridge/internal/watcher"
	"signalbridge/pkg/logx"
)

// Config configures the API server.
type Config struct {
	Port    int
	Version string
}

// Server is the HTTP surface of the bridge: ingestion, recent-event reads,
// the loopback-only push endpoint, and a couple of status views.
type Server struct {
	cfg      Config
	bus      *bus.Bus
	store    store.Store
	mem      *memory.Service
	pusher   *push.Sender
	watchers []watcher.Watcher
	log      logx.Logger

	httpServer *http.Server
}

func NewServer(cfg Config, b *bus.Bus, st store.Store, mem *memory.Service, pusher *push.Sender, watchers []watcher.Watcher, log logx.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		bus:      b,
		store:    st,
		mem:      mem,
		pusher:   pusher,
		watchers: watchers,
		log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/events/recent", s.handleRecentEvents)
	mux.HandleFunc("POST /api/events", s.handleIngest)
	mux.HandleFunc("POST /api/push", s.handlePush)
	mux.HandleFunc("GET /api/memory/today", s.handleMemoryToday)
	mux.HandleFunc("GET /api/watchers", s.handleWatchers)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the middleware-wrapped mux (used by tests).
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins serving and returns a channel that yields the terminal
// listen error, if any.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic in handler",
					logx.Any("panic", rec),
					logx.String("path", r.URL.Path),
					logx.String("stack", string(debug.Stack())))
				writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			}
		}()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rw.status),
			logx.Duration("dur", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorBody(msg string) map[string]any {
	return map[string]any{"ok": false, "error": msg}
}

// isLoopback reports whether the request originated from this host.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
