// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"toolgate/platform/auth"
	"toolgate/platform/connectors/config"
	"toolgate/platform/connectors/registry"
	"toolgate/platform/shared/logger"
)

// Version is reported by /status
const Version = "1.0.0"

// ServerName is reported by /status
const ServerName = "Toolgate MCP Gateway"

// Authenticator guards the tool routes; *auth.Gate implements it
type Authenticator interface {
	Middleware(opts ...auth.MiddlewareOption) func(http.Handler) http.Handler
}

// Options wires the server's collaborators
type Options struct {
	Config   config.ServerConfig
	Registry *registry.Registry
	Auth     Authenticator
	// Limiter is optional; nil disables rate limiting
	Limiter Limiter
	// Pool is optional; when set its stats appear in /health and /prometheus
	Pool   PoolStats
	Logger *logger.Logger
}

// Server is the HTTP front of the gateway
type Server struct {
	cfg      config.ServerConfig
	registry *registry.Registry
	auth     Authenticator
	limiter  Limiter
	pool     PoolStats
	metrics  *Metrics
	logger   *logger.Logger
	router   *mux.Router
	handler  http.Handler
}

// NewServer builds the router. It does not start listening.
func NewServer(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, errors.New("gateway: registry is required")
	}
	if opts.Auth == nil {
		return nil, errors.New("gateway: authenticator is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("gateway")
	}

	s := &Server{
		cfg:      opts.Config,
		registry: opts.Registry,
		auth:     opts.Auth,
		limiter:  opts.Limiter,
		pool:     opts.Pool,
		metrics:  NewMetrics(opts.Pool),
		logger:   opts.Logger,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})
	r.Use(s.observe)

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/about", s.handleAbout).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleDocs).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/prometheus", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/mcp").Subrouter()
	api.Use(s.auth.Middleware(auth.WithRejectHook(func(reason string) {
		s.metrics.authRejections.WithLabelValues(reason).Inc()
	})))
	api.Use(s.rateLimit)
	api.HandleFunc("/tools", s.handleListTools).Methods(http.MethodGet)
	api.HandleFunc("/tools/{connector}/{tool}", s.handleCallTool).Methods(http.MethodPost)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
	})

	s.router = r
	s.handler = withRequestID(c.Handler(r))
}

// Handler returns the full middleware chain
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics exposes the collectors, mainly for tests
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests for up to the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("", "", "Gateway listening", map[string]interface{}{
			"addr":       ln.Addr().String(),
			"connectors": s.registry.List(),
		})
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("", "", "Shutting down gateway", map[string]interface{}{"timeout": timeout.String()})
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured port and calls Serve
func (s *Server) ListenAndServe(ctx context.Context) error {
	port := s.cfg.Port
	if port == 0 {
		port = config.DefaultPort
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return s.Serve(ctx, ln)
}
