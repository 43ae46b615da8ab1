package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"offerbot/internal/metrics"
)

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/api/offer-confirmation", s.handleOfferConfirmation, s.rateLimit)

	admin := s.echo.Group("/api/admin", s.requireAdmin)
	admin.GET("/stats", s.handleStats)
	admin.GET("/confirmations", s.handleConfirmations)
	admin.GET("/users", s.handleUsers)
	admin.GET("/server-info", s.handleServerInfo)
}

// observe records per-route request metrics.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := s.clk.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		status := c.Response().Status
		metrics.HTTPRequestsTotal.WithLabelValues(route, c.Request().Method, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(s.clk.Since(start).Seconds())
		return nil
	}
}

func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.limiter.Allow(c.RealIP()) {
			s.log.Warn("lead intake rate limited", ipField(c))
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
		}
		return next(c)
	}
}

// requireAdmin accepts the token as X-Admin-Token or as a bearer token.
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		want := s.adminToken()
		if want == "" {
			return echo.NewHTTPError(http.StatusInternalServerError, "admin token is not configured")
		}
		got := c.Request().Header.Get("X-Admin-Token")
		if got == "" {
			if auth := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			s.log.Warn("admin token rejected", ipField(c), pathField(c))
			return echo.NewHTTPError(http.StatusForbidden, "invalid admin token")
		}
		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.clk.Now().UTC().Format(time.RFC3339),
	})
}
