package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pendingScope/internal/engine"
)

const (
	DefaultReadLimit = 1 << 20
	readBufferSize   = 1024
	writeBufferSize  = 4096
)

// Options configures the websocket server.
type Options struct {
	// ReadLimit caps inbound frames in bytes.
	ReadLimit int64
	// WriteTimeout bounds a single outbound write.
	WriteTimeout time.Duration
	// AllowedOrigins lists accepted Origin headers. Empty or "*" accepts all.
	AllowedOrigins []string
}

// Server exposes the engine endpoints over websocket, plus health and
// metrics over plain HTTP.
type Server struct {
	engine   *engine.Engine
	gatherer prometheus.Gatherer
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewServer creates a server listening on addr. gatherer may be nil, in
// which case /metrics is not served.
func NewServer(addr string, eng *engine.Engine, gatherer prometheus.Gatherer, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	s := &Server{
		engine:   eng,
		gatherer: gatherer,
		opts:     opts,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin:     originValidator(opts.AllowedOrigins, logger),
		},
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/"+engine.EndpointPending, s.serveEndpoint(engine.EndpointPending))
	mux.HandleFunc("/"+engine.EndpointBlock, s.serveEndpoint(engine.EndpointBlock))
	mux.HandleFunc("/health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops accepting connections. Upgraded connections are closed by the
// engine's shutdown.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) serveEndpoint(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.engine.Enabled(endpoint) {
			http.Error(w, "endpoint disabled", http.StatusNotFound)
			return
		}
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Debug("websocket upgrade failed", zap.String("endpoint", endpoint), zap.Error(err))
			return
		}
		name := r.URL.Query().Get("name")
		if name == "" {
			name = r.RemoteAddr
		}

		conn := newConn(ws, s.opts.WriteTimeout)
		sub, err := s.engine.Connect(endpoint, name, conn)
		if err != nil {
			s.logger.Info("reject subscriber", zap.String("endpoint", endpoint), zap.String("name", name), zap.Error(err))
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if conn.Close(ctx) != nil {
				_ = conn.Abort()
			}
			cancel()
			return
		}
		s.logger.Info("subscriber connected",
			zap.String("endpoint", endpoint),
			zap.Uint64("id", sub.ID()),
			zap.String("name", name),
		)

		err = conn.readLoop(s.opts.ReadLimit, func(data []byte) {
			ctx, cancel := context.WithTimeout(context.Background(), conn.writeTimeout)
			defer cancel()
			if err := s.engine.Inbound(ctx, endpoint, sub.ID(), data); err != nil {
				s.logger.Debug("inbound reply failed", zap.Uint64("id", sub.ID()), zap.Error(err))
			}
		})
		s.engine.Disconnect(endpoint, sub.ID())
		s.logger.Info("subscriber disconnected",
			zap.String("endpoint", endpoint),
			zap.Uint64("id", sub.ID()),
			zap.String("reason", err.Error()),
		)
	}
}

type healthResponse struct {
	Status      string         `json:"status"`
	Subscribers map[string]int `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Subscribers: s.engine.Counts()})
}

func originValidator(allowed []string, logger *zap.Logger) func(*http.Request) bool {
	origins := make(map[string]struct{}, len(allowed))
	allowAll := len(allowed) == 0
	for _, origin := range allowed {
		origin = strings.ToLower(strings.TrimSpace(origin))
		if origin == "*" {
			allowAll = true
		}
		if origin != "" {
			origins[origin] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		if _, ok := r.Header["Origin"]; !ok || allowAll {
			return true
		}
		origin := strings.ToLower(r.Header.Get("Origin"))
		if _, ok := origins[origin]; ok {
			return true
		}
		logger.Warn("rejected websocket connection", zap.String("origin", origin))
		return false
	}
}
