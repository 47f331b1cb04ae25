package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/core/fee"
	"github.com/trezcool/bursar/core/report"
)

type (
	// HealthCheck reports whether the backing storage is reachable.
	HealthCheck func(ctx context.Context) error

	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		FeeSvc     *fee.Service
		BillingSvc *billing.Service
		ReportSvc  *report.Service
		Validate   *validator.Validate
		Translator ut.Translator
		Health     HealthCheck // optional
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)
	s.app.GET("/health", s.health)

	v1 := s.app.Group("/v1", middleware.JWTWithConfig(jwtConfig(conf)))
	registerFeeAPI(v1, s.deps.FeeSvc, s.deps.Validate)
	registerBillingAPI(v1, s.deps.BillingSvc, s.deps.Validate)
	registerReportAPI(v1, s.deps.ReportSvc, s.deps.Validate)
}

func (s *Server) Start() {
	s.deps.Logger.Info("API listening on " + s.deps.Conf.Server.Address)
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

// Errors receives the error that stopped the server.
func (s *Server) Errors() <-chan error {
	return s.errors
}

// ShutdownSignal receives OS interrupts & internal shutdown requests.
func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}

func (s *Server) health(ctx echo.Context) error {
	if s.deps.Health != nil {
		if err := s.deps.Health(ctx.Request().Context()); err != nil {
			s.deps.Logger.Error("health check failed: "+err.Error(), err)
			return ctx.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
		}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
