package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const maxAcceptDelay = time.Second

type Server struct {
	Addr    string             // bind address, host:port
	Manager *ConnectionManager // shared counters, never used for dispatch

	logger    *slog.Logger
	verifier  Verifier
	admission *semaphore.Weighted // nil = one goroutine per connection, unbounded
	rateLimit rate.Limit          // 0 = no per-connection rate limit
	rateBurst int

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	pending  map[net.Conn]struct{} // accepted, not yet registered with Manager
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithVerifier(v Verifier) Option {
	return func(s *Server) {
		if v != nil {
			s.verifier = v
		}
	}
}

func WithManager(m *ConnectionManager) Option {
	return func(s *Server) {
		if m != nil {
			s.Manager = m
		}
	}
}

// WithMaxConnections bounds the number of live connections; n <= 0 leaves it unbounded.
// When the bound is reached new TCP streams wait in the kernel backlog.
func WithMaxConnections(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.admission = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithRateLimit allows perSecond binary messages per connection with the given burst.
func WithRateLimit(perSecond, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 {
			s.rateLimit = rate.Limit(perSecond)
			s.rateBurst = max(burst, 1)
		}
	}
}

// constructor for Server
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		Addr:     addr,
		logger:   slog.Default(),
		verifier: AllowAll{},
		pending:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Manager == nil {
		s.Manager = NewConnectionManager(s.logger)
	}
	return s
}

// Start binds Addr and serves until the listener is closed.
// A bind failure is returned immediately.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to start websocket server: %w", err)
	}
	return s.Serve(listener)
}

// Serve runs the accept loop on an already bound listener.
// Accept errors are logged and the loop continues; it returns only once
// the listener has been closed.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return net.ErrClosed
	}
	s.listener = listener
	s.mu.Unlock()
	defer listener.Close()

	s.logger.Info("websocket_server_started",
		"addr", listener.Addr().String(),
	)

	var delay time.Duration
	for {
		if s.admission != nil {
			// background context never cancels, so Acquire cannot fail
			_ = s.admission.Acquire(context.Background(), 1)
		}

		conn, err := listener.Accept()
		if err != nil {
			s.release()
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("websocket_server_stopped")
				return err
			}
			// back off so a persistent error (e.g. EMFILE) does not spin
			delay = nextAcceptDelay(delay)
			s.logger.Error("failed_to_accept_connection",
				"error", err.Error(),
				"retry_in", delay,
			)
			time.Sleep(delay)
			continue
		}
		delay = 0
		s.Manager.recordAccepted()

		go func(conn net.Conn) {
			defer s.release()
			s.handleConnection(conn)
		}(conn)
	}
}

// handle lifecycle of a single raw stream: upgrade, then read loop
func (s *Server) handleConnection(conn net.Conn) {
	if !s.trackPending(conn) {
		conn.Close()
		return
	}

	channel, err := Upgrade(conn)
	if err != nil {
		s.untrackPending(conn)
		s.logger.Error("websocket_upgrade_failed",
			"remote_addr", conn.RemoteAddr().String(),
			"error", err.Error(),
		)
		s.Manager.recordUpgradeFailure()
		conn.Close()
		return
	}

	client := NewClientConnection(channel, s.Manager, s.verifier, s.newLimiter(), s.logger)
	// register before untracking so Close always sees the conn in one of the two sets
	s.Manager.AddConnection(client)
	s.untrackPending(conn)
	client.Listen()
	s.Manager.RemoveConnection(client)
}

// trackPending reports false once Close has been called.
func (s *Server) trackPending(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.pending[conn] = struct{}{}
	return true
}

func (s *Server) untrackPending(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, conn)
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.rateLimit == 0 {
		return nil
	}
	return rate.NewLimiter(s.rateLimit, s.rateBurst)
}

func (s *Server) release() {
	if s.admission != nil {
		s.admission.Release(1)
	}
}

// ListenAddr returns the bound address, or nil before Serve has been called.
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting and closes every accepted stream, including those
// still in the handshake. Calling it before Serve makes Serve return immediately.
// It does not wait for connection goroutines to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	listener := s.listener
	pending := make([]net.Conn, 0, len(s.pending))
	for conn := range s.pending {
		pending = append(pending, conn)
	}
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	// streams still in the handshake
	for _, conn := range pending {
		conn.Close()
	}
	s.Manager.CloseAllConnections()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	return nil
}

func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}
	return min(prev*2, maxAcceptDelay)
}
