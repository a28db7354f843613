package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/badgelink/internal/audit"
	"github.com/nerrad567/badgelink/internal/badge"
	"github.com/nerrad567/badgelink/internal/bridges/cloner"
	"github.com/nerrad567/badgelink/internal/infrastructure/config"
	"github.com/nerrad567/badgelink/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Cloner is the part of *cloner.Bridge the API drives.
type Cloner interface {
	Connect(ctx context.Context) error
	Disconnect() error
	WriteBadge(ctx context.Context, code badge.Code) error
	ReadBadge(ctx context.Context) (cloner.BadgeEvent, error)
	Scan(ctx context.Context) error
	PowerOff(ctx context.Context) error
	AddCode(ctx context.Context, code badge.Code) (cloner.BadgeEvent, error)
	Codes(ctx context.Context) []badge.Code
	ClearCodes(ctx context.Context) error
	Status(ctx context.Context) cloner.Status
	OnBadge(fn func(cloner.BadgeEvent))
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Cloner  Cloner
	Version string

	// History serves GET /commands. Optional.
	History audit.Repository
}

// Server is the HTTP API server.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	cloner  Cloner
	history audit.Repository
	version string
	started time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New returns a server ready to Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Cloner == nil {
		return nil, errors.New("cloner is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		cloner:  deps.Cloner,
		history: deps.History,
		version: deps.Version,
		started: time.Now(),
		hub:     NewHub(deps.Logger),
	}

	s.cloner.OnBadge(func(ev cloner.BadgeEvent) {
		s.hub.Broadcast(ChannelBadgeScanned, ev)
	})

	return s, nil
}

// Handler builds the router. ctx bounds background work such as rate
// limiter cleanup.
func (s *Server) Handler(ctx context.Context) http.Handler {
	return s.buildRouter(ctx)
}

// Start listens on cfg.Host:cfg.Port in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(srvCtx),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close stops background work and waits up to 10s for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
