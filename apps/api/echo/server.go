package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/alert"
	"github.com/lcardenasp7/conta/core/capture"
	"github.com/lcardenasp7/conta/core/fund"
	"github.com/lcardenasp7/conta/core/loan"
	"github.com/lcardenasp7/conta/core/transfer"
)

type (
	Deps struct {
		FundSvc     *fund.Service
		TransferSvc *transfer.Coordinator
		LoanSvc     *loan.Service
		AlertSvc    *alert.Evaluator
		CaptureSvc  *capture.Service
	}

	Server struct {
		app      *echo.Echo
		conf     *core.Config
		logger   core.Logger
		deps     *Deps
		shutdown chan os.Signal
		errors   chan error
	}
)

var _ http.Handler = (*Server)(nil)

func NewServer(conf *core.Config, logger core.Logger, deps *Deps) *Server {
	s := &Server{
		app:      echo.New(),
		conf:     conf,
		logger:   logger,
		deps:     deps,
		shutdown: make(chan os.Signal, 1),
		errors:   make(chan error, 1),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.conf.Debug || s.conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.logger, s.signalShutdown)
	s.app.Debug = s.conf.Debug && !s.conf.TestMode

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(jwtConfig(s.conf))

	registerAuthAPI(v1, jwt, s.conf)
	registerFundAPI(v1, jwt, s.deps.FundSvc, s.deps.AlertSvc)
	registerTransferAPI(v1, jwt, s.deps.TransferSvc, s.deps.FundSvc)
	registerLoanAPI(v1, jwt, s.deps.LoanSvc)
	registerAlertAPI(v1, jwt, s.deps.AlertSvc)
	registerCaptureAPI(v1, jwt, s.deps.CaptureSvc)
}

// Start listens until the server is shut down. Listening errors are sent to Errors.
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.Start(s.conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

func (s *Server) signalShutdown() { s.shutdown <- syscall.SIGTERM }

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.conf.AppName+" API!")
}
