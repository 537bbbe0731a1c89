package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/nerrad567/chargegate/internal/audit"
	"github.com/nerrad567/chargegate/internal/auth"
	"github.com/nerrad567/chargegate/internal/charging"
	"github.com/nerrad567/chargegate/internal/dispatch"
	"github.com/nerrad567/chargegate/internal/gateway"
	"github.com/nerrad567/chargegate/internal/infrastructure/config"
	"github.com/nerrad567/chargegate/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// SignIn verifies operator credentials.
type SignIn interface {
	Authenticate(ctx context.Context, username, password string) (*auth.Operator, error)
}

// HealthChecker is implemented by the broker and database clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Gateway  config.GatewayConfig
	CSRF     config.CSRFConfig
	Legacy   config.LegacyConfig
	Logger   *logging.Logger
	Guard    *gateway.Gateway
	SignIn   SignIn
	Charging *charging.Service
	Tasks    *dispatch.TaskStore
	// Audit is optional; without it nothing is recorded and the audit view is not served.
	Audit audit.Repository
	// Hub is optional; the server creates one when nil.
	Hub *Hub
	// Checks are reported by /api/v1/health, keyed by component name.
	Checks    map[string]HealthChecker
	StaticDir string
	Version   string
}

// Server is the HTTP server of chargegate.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	paths     config.GatewayConfig
	csrf      config.CSRFConfig
	logger    *logging.Logger
	guard     *gateway.Gateway
	signIn    SignIn
	charging  *charging.Service
	tasks     *dispatch.TaskStore
	audit     audit.Repository
	hub       *Hub
	ownHub    bool
	checks    map[string]HealthChecker
	legacy    http.Handler
	staticDir string
	version   string
	server    *http.Server
	cancel    context.CancelFunc
}

// New creates a server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Guard == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.SignIn == nil {
		return nil, fmt.Errorf("operator sign-in is required")
	}
	if deps.Charging == nil || deps.Tasks == nil {
		return nil, fmt.Errorf("charging service and task store are required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		paths:     deps.Gateway,
		csrf:      deps.CSRF,
		logger:    deps.Logger,
		guard:     deps.Guard,
		signIn:    deps.SignIn,
		charging:  deps.Charging,
		tasks:     deps.Tasks,
		audit:     deps.Audit,
		hub:       deps.Hub,
		checks:    deps.Checks,
		staticDir: deps.StaticDir,
		version:   deps.Version,
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
		s.ownHub = true
	}

	legacy, err := newLegacyProxy(deps.Legacy, deps.Logger)
	if err != nil {
		return nil, err
	}
	s.legacy = legacy

	return s, nil
}

// Hub returns the live-update hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the fully wired router. Start serves it; tests use it directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start launches the listener in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.ownHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close waits up to 10 seconds for in-flight requests, then stops.
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
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// newLegacyProxy returns a reverse proxy to the legacy SOAP endpoint, or a
// handler answering 503 when no upstream is configured.
func newLegacyProxy(cfg config.LegacyConfig, logger *logging.Logger) (http.Handler, error) {
	if cfg.UpstreamURL == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeUpstreamUnavailable(w)
		}), nil
	}

	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid legacy upstream URL %q", cfg.UpstreamURL)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("legacy upstream failed", "path", r.URL.Path, "error", err)
			writeUpstreamUnavailable(w)
		},
	}
	return proxy, nil
}
