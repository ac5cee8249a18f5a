// Package ws is the WebSocket front-end for the scserver core. It owns
// the HTTP listener, the upgrade, per-connection rate limiting and the
// read loop; everything protocol-level happens in the core server it
// wraps.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	scserver "github.com/frank-dspeed/socketcluster-server"
)

const defaultPath = "/socketcluster/"

// RateLimitConfig bounds how fast one connection may send messages.
type RateLimitConfig struct {
	// MessagesPerSecond is the sustained rate allowed per connection.
	MessagesPerSecond rate.Limit
	// Burst is the number of messages that may arrive at once.
	Burst int
	// Enabled turns limiting on.
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

// ServerConfig configures the front-end.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string
	// Path is the HTTP path connections are accepted on. Defaults to
	// "/socketcluster/".
	Path string
	// RateLimit bounds inbound message rates per connection. Defaults to
	// DefaultRateLimitConfig.
	RateLimit *RateLimitConfig
	// Options configures the wrapped core server.
	Options *scserver.ServerConfig
}

// Server serves WebSocket connections and feeds them to a core server.
type Server struct {
	core       *scserver.Server
	addr       string
	path       string
	rateLimit  *RateLimitConfig
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// New builds the front-end and its core server.
func New(cfg *ServerConfig) *Server {
	if cfg == nil {
		cfg = &ServerConfig{}
	}
	path := cfg.Path
	if path == "" {
		path = defaultPath
	}
	rateLimit := cfg.RateLimit
	if rateLimit == nil {
		rateLimit = DefaultRateLimitConfig()
	}

	s := &Server{
		core:      scserver.New(cfg.Options),
		addr:      cfg.Addr,
		path:      path,
		rateLimit: rateLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced by the core's handshake
			// verification before the upgrade is attempted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	return s
}

// Core returns the wrapped core server, where listeners, middleware and
// engines live.
func (s *Server) Core() *scserver.Server {
	return s.core
}

// Handler returns an http.Handler serving the configured path. Use this
// to mount the front-end on an existing mux instead of Start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.serveWS)
	return mux
}

// Start listens on the configured address until the context is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.core.EmitReady()
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		return err
	}
}

// Stop shuts the HTTP listener down gracefully. Established sockets are
// closed by their own transport teardown.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if err := s.core.VerifyHandshake(r); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}

	transport := newTransport(conn)
	socket := s.core.HandleConnection(transport, r)

	var limiter *rate.Limiter
	if s.rateLimit.Enabled {
		limiter = rate.NewLimiter(s.rateLimit.MessagesPerSecond, s.rateLimit.Burst)
	}
	go s.readLoop(socket, transport, limiter)
}

// readLoop pulls frames off the connection and feeds them to the
// socket. It exits when the connection errors or a rate violation
// forces a policy close.
func (s *Server) readLoop(socket *scserver.Socket, transport *wsTransport, limiter *rate.Limiter) {
	for {
		_, message, err := transport.conn.ReadMessage()
		if err != nil {
			code := 1006
			reason := ""
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
				reason = closeErr.Text
			}
			socket.HandleTransportClose(code, reason)
			transport.Close(code, reason)
			return
		}

		if limiter != nil && !limiter.Allow() {
			socket.HandleTransportClose(websocket.ClosePolicyViolation, "rate limit exceeded")
			transport.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		socket.HandleMessage(message)
	}
}
