// internal/channel/http.go
package channel

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/xkilldash9x/computer-worker/api/schemas"
	"github.com/xkilldash9x/computer-worker/internal/config"
)

// internalServerError is the body sent when a request ends without a result.
const internalServerError = "Internal Server Error"

// HTTPChannel accepts commands as POST requests and answers in the response.
type HTTPChannel struct {
	addr    string
	cfg     config.HTTPConfig
	logger  *zap.Logger
	failure failure

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	closed   bool
}

var _ Channel = (*HTTPChannel)(nil)

// NewHTTPChannel creates a channel that will listen on addr (":8080").
func NewHTTPChannel(addr string, cfg config.HTTPConfig, logger *zap.Logger) *HTTPChannel {
	c := &HTTPChannel{
		addr:    addr,
		cfg:     cfg,
		failure: newFailure(),
		logger:  logger.Named("http_channel").With(zap.String("instance_id", uuid.NewString())),
	}
	c.logger.Info("HTTP channel created.")
	return c
}

// Addr returns the bound address once subscribed, or the configured one.
func (c *HTTPChannel) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		return c.listener.Addr().String()
	}
	return c.addr
}

// Router builds the request handler. Every POST path is a command endpoint.
func (c *HTTPChannel) Router(h Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/", c.handleCommand(h))
	r.Post("/*", c.handleCommand(h))

	if c.cfg.H2C {
		return h2c.NewHandler(r, &http2.Server{})
	}
	return r
}

// Subscribe binds the listener and serves in the background.
func (c *HTTPChannel) Subscribe(ctx context.Context, h Handler) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", c.addr)
	if err != nil {
		return &TransportError{Op: "listen", Err: err}
	}

	c.mu.Lock()
	if c.closed || c.server != nil {
		c.mu.Unlock()
		ln.Close()
		return &TransportError{Op: "subscribe", Err: errors.New("channel already subscribed or disconnected")}
	}
	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Router(h),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := c.server
	c.mu.Unlock()

	c.logger.Info("HTTP channel listening.", zap.String("addr", ln.Addr().String()), zap.Bool("h2c", c.cfg.H2C))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("HTTP channel stopped serving.", zap.Error(err))
			c.failure.report(&TransportError{Op: "serve", Err: err})
		}
	}()
	return nil
}

// Err implements Channel.
func (c *HTTPChannel) Err() <-chan error {
	return c.failure.ch
}

// Disconnect gracefully shuts the server down, waiting for in-flight requests.
func (c *HTTPChannel) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	srv := c.server
	c.mu.Unlock()

	if srv == nil {
		return nil
	}
	if c.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
		defer cancel()
	}
	c.logger.Info("Shutting down HTTP channel.")
	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
		return &TransportError{Op: "shutdown", Err: err}
	}
	return nil
}

func (c *HTTPChannel) handleCommand(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := c.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))

		var body io.Reader = r.Body
		if c.cfg.MaxBodyBytes > 0 {
			body = http.MaxBytesReader(w, r.Body, c.cfg.MaxBodyBytes)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			log.Warn("Failed to read request body.", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, schemas.HTTPError{Error: err.Error()})
			return
		}
		payload, err := schemas.CommandFromHTTPBody(data)
		if err != nil {
			log.Warn("Rejecting undecodable request body.", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, schemas.HTTPError{Error: err.Error()})
			return
		}

		msg := &httpMessage{w: w, payload: payload}
		h(r.Context(), msg)

		if !msg.guard.published() {
			log.Warn("Request finished without a result.")
			msg.guard.claim()
			writeJSON(w, http.StatusInternalServerError, schemas.HTTPError{Error: internalServerError})
		}
	}
}

// httpMessage answers in the response of the request that carried it.
type httpMessage struct {
	guard   publishGuard
	w       http.ResponseWriter
	payload json.RawMessage
}

func (m *httpMessage) ID() string { return "" }

func (m *httpMessage) Payload() json.RawMessage { return m.payload }

func (m *httpMessage) PublishScreenshot(_ context.Context, screenshot, sessionID, url string) error {
	if err := m.guard.claim(); err != nil {
		return err
	}
	return writeJSON(m.w, http.StatusOK, schemas.ScreenshotResult{
		SessionID:  sessionID,
		Screenshot: screenshot,
		URL:        url,
	})
}

func (m *httpMessage) PublishError(_ context.Context, msg string) error {
	if err := m.guard.claim(); err != nil {
		return err
	}
	return writeJSON(m.w, http.StatusInternalServerError, schemas.HTTPError{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, internalServerError, http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
