package main

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"dex-trade-agent/internal/gas"
	"dex-trade-agent/internal/observability"
	"dex-trade-agent/internal/scheduler"
)

// statusSource is the read-only view the server exposes.
type statusSource interface {
	Snapshot() scheduler.Status
}

type regimeSource interface {
	Regime(now time.Time) gas.Regime
}

type statusServer struct {
	echo    *echo.Echo
	status  statusSource
	regime  regimeSource
	started time.Time
}

type statusResponse struct {
	scheduler.Status
	GasRegime gas.Regime `json:"gas_regime"`
	Uptime    string     `json:"uptime"`
}

func newStatusServer(status statusSource, regime regimeSource, logger zerolog.Logger) *statusServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogging(logger.With().Str("component", "http").Logger()))

	s := &statusServer{echo: e, status: status, regime: regime, started: time.Now()}

	e.GET("/health", s.health)
	e.GET("/status", s.handleStatus)
	e.GET("/positions", s.positions)
	e.GET("/metrics", echo.WrapHandler(observability.Handler()))
	return s
}

// Start blocks serving addr until Shutdown.
func (s *statusServer) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *statusServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *statusServer) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *statusServer) handleStatus(c echo.Context) error {
	resp := statusResponse{
		Status: s.status.Snapshot(),
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
	}
	if s.regime != nil {
		resp.GasRegime = s.regime.Regime(time.Now())
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *statusServer) positions(c echo.Context) error {
	positions := s.status.Snapshot().Positions
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return c.JSON(http.StatusOK, positions)
}

func requestLogging(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug().
				Str("method", c.Request().Method).
				Str("uri", c.Request().RequestURI).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Msg("request")
			return err
		}
	}
}
