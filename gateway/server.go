// Package gateway serves the read side of the staking client over HTTP and
// prepares unsigned user operations for wallets that live elsewhere. It never
// holds user keys.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/core/config"
	"github.com/AvaProtocol/ap-staking/core/staking"
	"github.com/AvaProtocol/ap-staking/pkg/erc4337/preset"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
)

type HttpJsonResp[T any] struct {
	Data T `json:"data"`
}

type Server struct {
	echo *echo.Echo

	chain   config.ChainDescriptor
	client  chainio.Client
	service *staking.Service
	builder *preset.Builder

	validate *validator.Validate
	logger   logger.Logger

	running atomic.Bool
}

type Options struct {
	Chain    config.ChainDescriptor
	Client   chainio.Client
	Service  *staking.Service
	Builder  *preset.Builder
	Gatherer prometheus.Gatherer
	Logger   logger.Logger
}

func New(opts Options) *Server {
	s := &Server{
		echo:     echo.New(),
		chain:    opts.Chain,
		client:   opts.Client,
		service:  opts.Service,
		builder:  opts.Builder,
		validate: validator.New(),
		logger:   logger.EnsureLogger(opts.Logger),
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/up", func(c echo.Context) error {
		if s.running.Load() {
			return c.String(http.StatusOK, "up")
		}
		return c.String(http.StatusServiceUnavailable, "pending...")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := e.Group("/v1")
	v1.GET("/chain", s.getChain)
	v1.GET("/accounts/:owner", s.getAccount)
	v1.GET("/stake/:user", s.getStake)
	v1.GET("/history/:user", s.getHistory)
	v1.GET("/intents/:id", s.getIntent)
	v1.POST("/userops/prepare", s.prepareUserOp)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP gateway listening", "address", addr)
		s.running.Store(true)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.running.Store(false)
		return err
	case <-ctx.Done():
	}

	s.running.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

// MarkReady flips /up without starting a listener.
func (s *Server) MarkReady() {
	s.running.Store(true)
}
