package echoapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/curriculum"
	"github.com/trezcool/examinator/core/license"
	"github.com/trezcool/examinator/core/saas"
	"github.com/trezcool/examinator/core/user"
)

// AdminKeyHeader carries the static admin key of every /v1 request.
const AdminKeyHeader = "X-Admin-Key"

type (
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		Tree       *curriculum.Tree
		Curriculum *curriculum.Service
		Users      *user.Service
		Saas       *saas.Service
		Licenses   *license.Service
	}

	Server struct {
		app      *echo.Echo
		addr     string
		log      core.Logger
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ http.Handler = (*Server)(nil)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		app:      echo.New(),
		addr:     deps.Conf.Server.Address,
		log:      deps.Logger,
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup(deps)
	return s
}

func (s *Server) setup(deps ServerDeps) {
	s.app.HideBanner = true
	s.app.Debug = deps.Conf.Debug
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.log, s.signalShutdown)

	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestID())
	if !deps.Conf.TestMode {
		s.app.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:    true,
			LogURI:       true,
			LogStatus:    true,
			LogLatency:   true,
			LogRequestID: true,
			LogValuesFunc: func(ctx echo.Context, v middleware.RequestLoggerValues) error {
				s.log.Info("request",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency", v.Latency.String(),
					"request_id", v.RequestID)
				return nil
			},
		}))
	}
	// do not recover in DEV|TEST mode
	if !(deps.Conf.Debug || deps.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.GET("/", home)

	v1 := s.app.Group("/v1", adminKeyMiddleware(deps.Conf.AdminToken))
	registerCurriculumAPI(v1, deps.Tree, deps.Curriculum)
	registerSaasAPI(v1, deps.Saas, deps.Users, deps.Licenses)
	registerLicenseAPI(v1, deps.Licenses)
}

// adminKeyMiddleware only lets through requests carrying the configured admin key.
// An empty key locks the API.
func adminKeyMiddleware(adminKey string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + AdminKeyHeader,
		Validator: func(key string, ctx echo.Context) (bool, error) {
			if adminKey == "" {
				return false, nil
			}
			return subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) == 1, nil
		},
	})
}

// Start blocks until the server stops. Errors other than a graceful stop are sent to Errors().
func (s *Server) Start() {
	s.log.Info("API listening", "address", s.addr)
	if err := s.app.Start(s.addr); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

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
	signal.Stop(s.shutdown)
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Examinator API!")
}
