// Package docserver serves a remote.Backend over HTTP and WebSocket so that
// devices can share one document store.
//
// Endpoints:
//
//	GET   /v1/docs/{path}          current snapshot, 404 if missing
//	PATCH /v1/docs/{path}          merge write
//	PUT   /v1/docs/{path}          create (requires If-None-Match: *), 412 if present
//	POST  /v1/batch                atomic merge write of {"writes": {path: data}}
//	GET   /v1/listen?path={path}   WebSocket, one snapshot per change
//	GET   /health                  liveness and subscriber count
//	GET   /metrics                 Prometheus metrics
//
// remote.HTTPBackend is the matching client.
package docserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rosterhq/rostersync/internal/remote"
)

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: ":8420")
	Addr string

	// OriginPatterns accepted for WebSocket upgrades (default: all)
	OriginPatterns []string

	// MaxBodyBytes limits request bodies (default: 4 MiB)
	MaxBodyBytes int64

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:           ":8420",
		OriginPatterns: []string{"*"},
		MaxBodyBytes:   4 << 20,
		Logger:         log.New(os.Stderr, "[docserver] ", log.LstdFlags),
	}
}

// listener is one connected WebSocket subscriber.
type listener struct {
	id     string
	path   string
	device string
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// Server exposes a backend to remote devices.
type Server struct {
	config   *Config
	backend  remote.Backend
	listener net.Listener
	server   *http.Server
	handler  http.Handler

	// WebSocket subscriber management
	listeners   map[string]*listener
	listenersMu sync.RWMutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	activeListeners prometheus.Gauge

	logger *log.Logger
}

// NewServer creates a document server over backend.
func NewServer(backend remote.Backend, config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.OriginPatterns == nil {
		config.OriginPatterns = defaults.OriginPatterns
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	s := &Server{
		config:    config,
		backend:   backend,
		listeners: make(map[string]*listener),
		ctx:       ctx,
		cancel:    cancel,
		registry:  reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rostersync",
			Subsystem: "docserver",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route, method and status code.",
		}, []string{"route", "method", "code"}),
		activeListeners: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rostersync",
			Subsystem: "docserver",
			Name:      "listeners",
			Help:      "Connected WebSocket subscribers.",
		}),
		logger: config.Logger,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return promhttp.InstrumentHandlerCounter(s.requests.MustCurryWith(prometheus.Labels{"route": route}), h)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(remote.DocsPrefix, s.instrument("docs", s.handleDoc))
	mux.Handle(remote.BatchPath, s.instrument("batch", s.handleBatch))
	mux.HandleFunc(remote.ListenPath, s.handleListen)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(
		prometheus.Gatherers{s.registry, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Handler returns the server's HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving on the configured address.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Document server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server. The backend is not closed.
func (s *Server) Stop() error {
	s.logger.Println("Stopping document server")

	s.cancel()
	s.DisconnectAll("Server shutting down")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Println("Document server stopped")
	return nil
}

// DisconnectAll closes every WebSocket subscriber. Clients are expected to
// reconnect.
func (s *Server) DisconnectAll(reason string) {
	s.listenersMu.Lock()
	all := make([]*listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		all = append(all, l)
	}
	s.listenersMu.Unlock()

	for _, l := range all {
		_ = l.conn.Close(websocket.StatusGoingAway, reason)
		l.cancel()
	}
}

func (s *Server) addListener(l *listener) int {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners[l.id] = l
	s.activeListeners.Set(float64(len(s.listeners)))
	return len(s.listeners)
}

func (s *Server) removeListener(l *listener) {
	s.listenersMu.Lock()
	if _, exists := s.listeners[l.id]; !exists {
		s.listenersMu.Unlock()
		return
	}
	delete(s.listeners, l.id)
	count := len(s.listeners)
	s.activeListeners.Set(float64(count))
	s.listenersMu.Unlock()

	s.logger.Printf("Listener %s on %s disconnected (total: %d)", l.id, l.path, count)
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// ListenerCount returns the current number of WebSocket subscribers
func (s *Server) ListenerCount() int {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	return len(s.listeners)
}
