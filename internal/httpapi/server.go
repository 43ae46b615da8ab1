// Package httpapi serves the lead intake endpoint, the token-protected admin
// endpoints, health and metrics.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"offerbot/internal/leads"
	"offerbot/internal/runtime/supervisor"
	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

type LeadService interface {
	Submit(ctx context.Context, in leads.Input) (leads.Result, error)
}

type AdminStore interface {
	Stats(ctx context.Context) (storage.Stats, error)
	ListConfirmations(ctx context.Context, limit int) ([]storage.Confirmation, error)
	ListClients(ctx context.Context, limit int) ([]storage.Client, error)
	Ping(ctx context.Context) error
}

type Config struct {
	Host          string
	Port          int
	AdminToken    string
	CORSOrigins   []string
	RatePerMinute int
	BodyLimit     string
}

type Option func(*Server)

func WithClock(c clockwork.Clock) Option                { return func(s *Server) { s.clk = c } }
func WithLogger(log logx.Logger) Option                 { return func(s *Server) { s.log = log } }
func WithCounters(fn func() supervisor.Counters) Option { return func(s *Server) { s.counters = fn } }

type Server struct {
	echo     *echo.Echo
	leads    LeadService
	store    AdminStore
	clk      clockwork.Clock
	log      logx.Logger
	counters func() supervisor.Counters
	limiter  *ipLimiter
	started  time.Time
	addr     string

	mu    sync.RWMutex
	token string
}

func New(cfg Config, lead LeadService, store AdminStore, opts ...Option) *Server {
	s := &Server{leads: lead, store: store, token: cfg.AdminToken}
	for _, o := range opts {
		o(s)
	}
	if s.clk == nil {
		s.clk = clockwork.NewRealClock()
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "http"))
	s.started = s.clk.Now()
	s.limiter = newIPLimiter(cfg.RatePerMinute, s.clk)
	s.addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(s.observe)
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: origins}))
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	s.echo = e
	s.registerRoutes()
	return s
}

// Apply updates the settings that can change without a restart.
func (s *Server) Apply(cfg Config) {
	s.mu.Lock()
	s.token = cfg.AdminToken
	s.mu.Unlock()
	s.limiter.setRate(cfg.RatePerMinute)
}

func (s *Server) adminToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves until ctx is done, then shuts down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.addr))
		errCh <- s.echo.Start(s.addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(sctx); err != nil {
		return err
	}
	s.log.Info("http api stopped")
	return nil
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	if code >= 500 {
		s.log.Error("request failed", logx.String("path", c.Path()), logx.Err(err))
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]any{"success": false, "message": msg})
}
