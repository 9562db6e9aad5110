// internal/worker/readiness.go
package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/computer-worker/internal/channel"
)

// ReadinessServer answers GET /ready with 204 while probe reports true and
// 503 otherwise. Every other path is 404.
type ReadinessServer struct {
	addr   string
	probe  func() bool
	logger *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewReadinessServer creates a server for addr (":8000").
func NewReadinessServer(addr string, probe func() bool, logger *zap.Logger) *ReadinessServer {
	return &ReadinessServer{
		addr:   addr,
		probe:  probe,
		logger: logger.Named("readiness"),
	}
}

// Handler returns the router.
func (s *ReadinessServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.HandleFunc("/ready", s.handleReady)
	r.NotFound(notFound)
	return r
}

func (s *ReadinessServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.probe() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("Not Found"))
}

// Start binds the listener and serves in the background.
func (s *ReadinessServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return &channel.TransportError{Op: "readiness listen", Err: err}
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Serving readiness checks.", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Readiness server stopped.", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *ReadinessServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts the server down.
func (s *ReadinessServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
		return err
	}
	return nil
}
