// ABOUTME: WebSocket relay server
// ABOUTME: Accepts producers and consumers, serves health, stats and metrics
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Sendspin/micrelay/internal/metrics"
	"github.com/Sendspin/micrelay/pkg/discovery"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPath is the WebSocket endpoint; "/" is also accepted
	DefaultPath = "/ws"

	// DefaultSendBuffer is the per-connection outbound queue length
	DefaultSendBuffer = 64

	// DefaultReadLimit bounds inbound messages; a full 8192-sample frame is 16392 bytes
	DefaultReadLimit = 64 * 1024

	// DefaultWriteTimeout is the deadline for one WebSocket write
	DefaultWriteTimeout = 10 * time.Second

	shutdownTimeout = 5 * time.Second
)

// Config holds server configuration
type Config struct {
	Port         int // 0 picks a free port
	Name         string
	Path         string
	PingInterval time.Duration
	SendBuffer   int
	ReadLimit    int64
	WriteTimeout time.Duration

	// AuthToken, when set, is required on every WebSocket upgrade
	AuthToken string

	EnableMDNS  bool
	ServiceName string

	Relay RelayConfig
}

// Option customises a Server
type Option func(*Server)

// WithLogger sets the logger for the server and relay
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithClassifier replaces the default role classifier
func WithClassifier(c Classifier) Option {
	return func(s *Server) {
		s.classifier = c
	}
}

// Server is the relay's network front end
type Server struct {
	config     Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	classifier Classifier

	registry *Registry
	relay    *Relay
	monitor  *Monitor

	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server
	mdns       *discovery.Manager

	addr      string
	ready     chan struct{}
	startTime time.Time

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// ClientInfo describes one connection for stats and the server TUI
type ClientInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Role        string    `json:"role"`
	RemoteAddr  string    `json:"remoteAddr"`
	UserAgent   string    `json:"userAgent,omitempty"`
	Codec       string    `json:"codec"`
	Device      string    `json:"device,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
	Alive       bool      `json:"alive"`
	BytesIn     uint64    `json:"bytesIn"`
	PacketsIn   uint64    `json:"packetsIn"`
	FramesOut   uint64    `json:"framesOut"`
	Dropped     uint64    `json:"dropped"`
}

// NewServer validates config and builds a server
func NewServer(config Config, opts ...Option) (*Server, error) {
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("port must be between 0 and 65535, got %d", config.Port)
	}
	switch config.Relay.ForwardMode {
	case "", ForwardRaw, ForwardJSON:
	default:
		return nil, fmt.Errorf("unknown forward mode %q", config.Relay.ForwardMode)
	}
	if config.Name == "" {
		config.Name = "micrelay"
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Path[0] != '/' {
		return nil, fmt.Errorf("path must start with /, got %q", config.Path)
	}
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultSendBuffer
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = DefaultReadLimit
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.ServiceName == "" {
		config.ServiceName = config.Name
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices and browsers on the local network connect from any origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ready:     make(chan struct{}),
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}

	relayConfig := config.Relay
	relayConfig.Logger = s.logger
	relayConfig.Metrics = s.metrics
	if s.classifier != nil {
		relayConfig.Classifier = s.classifier
	}

	s.registry = NewRegistry()
	s.relay = NewRelay(s.registry, relayConfig)
	s.monitor = NewMonitor(s.registry, s.relay.Evict, config.PingInterval, s.metrics, s.logger)

	s.mux.HandleFunc(config.Path, s.handleWebSocket)
	if config.Path != "/" {
		s.mux.HandleFunc("/", s.handleRoot)
	}
	s.mux.HandleFunc("/health", s.withMetrics("/health", s.handleHealth))
	s.mux.HandleFunc("/stats", s.withMetrics("/stats", s.handleStats))
	s.mux.Handle("/metrics", s.metrics.Handler())

	return s, nil
}

// Handler returns the HTTP handler, for embedding or httptest
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Relay returns the routing engine
func (s *Server) Relay() *Relay {
	return s.relay
}

// Ready is closed once the listener is bound
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address once Ready is closed
func (s *Server) Addr() string {
	return s.addr
}

// Start listens and serves until Stop is called or the listener fails
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}
	s.addr = ln.Addr().String()
	close(s.ready)

	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("relay listening", "name", s.config.Name, "addr", s.addr, "path", s.config.Path)

	if s.config.EnableMDNS {
		s.mdns = discovery.NewManager(discovery.Config{
			ServiceName: s.config.ServiceName,
			Port:        ln.Addr().(*net.TCPAddr).Port,
			Path:        s.config.Path,
			Logger:      s.logger,
		})
		if err := s.mdns.Advertise(); err != nil {
			s.logger.Warn("mdns advertisement failed", "err", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.monitor.Run(gctx)
	})

	g.Go(func() error {
		select {
		case <-s.stopChan:
			s.logger.Info("relay shutting down")
		case <-gctx.Done():
		}
		s.shutdown()
		cancel()
		return nil
	})

	err = g.Wait()
	s.wg.Wait()
	s.logger.Info("relay stopped")
	return err
}

// Stop signals Start to shut down
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Server) shutdown() {
	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.mdns != nil {
		s.mdns.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown error", "err", err)
	}

	// Hijacked WebSocket connections are not tracked by http.Server
	s.relay.CloseAll()
}

// Counts returns the current connection counts
func (s *Server) Counts() Counts {
	return s.registry.Counts()
}

// Clients returns every connection ordered by connect time
func (s *Server) Clients() []ClientInfo {
	conns := s.registry.Snapshot()
	clients := make([]ClientInfo, 0, len(conns))
	for _, c := range conns {
		stats := c.Stats()
		info := ClientInfo{
			ID:          c.ID,
			Name:        c.Name(),
			Role:        c.Role().String(),
			RemoteAddr:  c.RemoteAddr,
			UserAgent:   c.UserAgent,
			Codec:       c.Codec(),
			ConnectedAt: c.ConnectedAt,
			Alive:       c.Alive(),
			BytesIn:     stats.BytesIn,
			PacketsIn:   stats.PacketsIn,
			FramesOut:   stats.FramesOut,
			Dropped:     stats.Dropped,
		}
		if d := c.Device(); d != nil {
			info.Device = d.Device
		}
		clients = append(clients, info)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].ConnectedAt.Before(clients[j].ConnectedAt)
	})
	return clients
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s relay, WebSocket endpoint %s\n", s.config.Name, s.config.Path)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.shutdownMu.RUnlock()
	defer s.wg.Done()

	if !authorized(s.config.AuthToken, r) {
		s.logger.Warn("rejected connection without valid token", "remote", r.RemoteAddr)
		s.metrics.RecordConnectionClosed("unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(s.config.ReadLimit)

	transport := newWSTransport(conn, s.config.SendBuffer, s.config.WriteTimeout)
	c := NewConn(transport, r.RemoteAddr, r.UserAgent())

	conn.SetPongHandler(func(string) error {
		s.relay.HandlePong(c)
		return nil
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		transport.writeLoop()
	}()

	s.relay.Connect(c)

	reason := "closed"
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Info("websocket read error", "conn", c.ID, "err", err)
				reason = "read_error"
			}
			break
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.relay.HandleMessage(c, true, data)
		case websocket.TextMessage:
			s.relay.HandleMessage(c, false, data)
		}
	}

	s.relay.Disconnect(c, reason)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Name          string       `json:"name"`
	UptimeSeconds int64        `json:"uptimeSeconds"`
	Clients       int          `json:"clients"`
	Producers     int          `json:"producers"`
	Consumers     int          `json:"consumers"`
	Unclassified  int          `json:"unclassified"`
	AudioPackets  uint64       `json:"audioPackets"`
	Connections   []ClientInfo `json:"connections"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts := s.registry.Counts()
	writeJSON(w, http.StatusOK, statsResponse{
		Name:          s.config.Name,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Clients:       counts.Total,
		Producers:     counts.Producers,
		Consumers:     counts.Consumers,
		Unclassified:  counts.Unclassified,
		AudioPackets:  s.registry.AudioPackets(),
		Connections:   s.Clients(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// withMetrics records request count and latency. WebSocket routes are not
// wrapped because the recorder does not implement http.Hijacker.
func (s *Server) withMetrics(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(rec.code), time.Since(start))
	}
}
