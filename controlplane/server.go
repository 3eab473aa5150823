// Package controlplane implements the loopback HTTP surface that lets local
// tools drive the visible session.
package controlplane

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/inoueakimitsu/cline/logger"
	"github.com/inoueakimitsu/cline/session"
	"github.com/inoueakimitsu/cline/sys"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 3000
)

var ErrAlreadyStarted = errors.New("control plane already started")

type options struct {
	host        string
	port        int
	token       string
	readTimeout time.Duration
	authLimit   rate.Limit
	authBurst   int
	registerer  prometheus.Registerer
}

// Option configures a Server.
type Option func(*options)

// WithHost sets the listen host. It must be a loopback address.
func WithHost(host string) Option {
	return func(o *options) { o.host = host }
}

// WithPort sets the listen port. Zero picks a free port.
func WithPort(port int) Option {
	return func(o *options) { o.port = port }
}

// WithToken sets the shared secret expected in the x-cli-token header.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

// WithReadTimeout bounds how long reading a request may take. Zero disables it.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// WithAuthRateLimit answers TOO_MANY_REQUESTS once failed token checks exceed
// perSecond with the given burst. A zero rate disables the limiter.
func WithAuthRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.authLimit = rate.Limit(perSecond)
		o.authBurst = burst
	}
}

// WithMetricsRegisterer sets where request metrics are registered. A private
// registry is used otherwise.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Server is the control-plane listener.
type Server struct {
	logger      logger.Logger
	sessions    session.Visibility
	token       string
	host        string
	port        int
	readTimeout time.Duration
	authLimiter *rate.Limiter
	metrics     *metrics
	mux         *chi.Mux

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	done       chan struct{}
}

// NewServer builds the router around sessions. It does not bind.
func NewServer(log logger.Logger, sessions session.Visibility, opts ...Option) (*Server, error) {
	o := options{host: DefaultHost, port: DefaultPort}
	for _, opt := range opts {
		opt(&o)
	}
	if !sys.IsLoopbackHost(o.host) {
		return nil, errors.Wrapf(sys.ErrNonLoopbackHost, "control plane host %q", o.host)
	}
	if o.port < 0 || o.port > 65535 {
		return nil, errors.Newf("invalid control plane port %d", o.port)
	}
	if o.token == "" {
		return nil, errors.New("control plane token is required")
	}
	if o.registerer == nil {
		o.registerer = prometheus.NewRegistry()
	}
	s := &Server{
		logger:      log.WithPrefix("[control]"),
		sessions:    sessions,
		token:       o.token,
		host:        o.host,
		port:        o.port,
		readTimeout: o.readTimeout,
		metrics:     newMetrics(o.registerer),
	}
	if o.authLimit > 0 {
		burst := o.authBurst
		if burst <= 0 {
			burst = 1
		}
		s.authLimiter = rate.NewLimiter(o.authLimit, burst)
	}
	s.mux = s.routes()
	return s, nil
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(s.headersMiddleware)
	r.Use(s.instrumentMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.preflightMiddleware)
	r.Use(s.routeMiddleware)
	r.Use(s.contentTypeMiddleware)
	r.Use(s.authMiddleware)

	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.notFound)

	// flat registration keeps /v1 and /v1/ out of the routing table
	r.Post("/v1/messages", s.handleSendMessage)
	r.Get("/v1/messages", s.handleGetMessages)
	r.Post("/v1/mode/plan", s.handleMode(session.ModePlan))
	r.Post("/v1/mode/act", s.handleMode(session.ModeAct))
	r.Post("/v1/buttons/primary", s.handleButton(session.InvokePrimaryButtonClick, "Primary"))
	r.Post("/v1/buttons/secondary", s.handleButton(session.InvokeSecondaryButtonClick, "Secondary"))
	return r
}

// Handler returns the control-plane HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the loopback listener and serves in the background. Bind
// failures are returned; serve errors after a successful bind are logged.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return ErrAlreadyStarted
	}
	addr := sys.LoopbackAddr(s.host, s.port)
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: s.readTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.done = make(chan struct{})
	srv, done := s.httpServer, s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control plane stopped: %s", err)
		}
	}()
	s.logger.Info("listening on http://%s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close gracefully stops the listener.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.httpServer, s.done
	s.httpServer = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	<-done
	return err
}
