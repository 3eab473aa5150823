// Package extension activates the control-plane core: the loopback listener
// and the callback router around the host's visible session.
package extension

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/inoueakimitsu/cline/callback"
	"github.com/inoueakimitsu/cline/config"
	"github.com/inoueakimitsu/cline/controlplane"
	"github.com/inoueakimitsu/cline/logger"
	"github.com/inoueakimitsu/cline/session"
	"github.com/inoueakimitsu/cline/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("cline/extension")

const shutdownTimeout = 5 * time.Second

type options struct {
	logger     logger.Logger
	notifier   callback.Notifier
	registerer prometheus.Registerer
}

type Option func(*options)

func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithNotifier sets how callback errors are shown to the user.
func WithNotifier(n callback.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithMetricsRegisterer sets where control-plane metrics are registered.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Extension is an activated control-plane core.
type Extension struct {
	logger    logger.Logger
	server    *controlplane.Server
	router    *callback.Router
	listening atomic.Bool
}

// Activate starts the control plane for sessions using cfg. A listener that
// cannot bind is logged and activation continues without it; only an invalid
// configuration fails activation.
func Activate(ctx context.Context, cfg config.Config, sessions session.Visibility, opts ...Option) (*Extension, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.NewConsoleLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := o.logger
	if cfg.UsesDefaultToken() {
		log.Warn("control plane is using the default token, set CLINE_TOKEN or token in the config file")
	}

	serverOpts := []controlplane.Option{
		controlplane.WithHost(cfg.Host),
		controlplane.WithPort(cfg.Port),
		controlplane.WithToken(cfg.Token),
		controlplane.WithReadTimeout(cfg.ReadTimeout.Std()),
		controlplane.WithAuthRateLimit(cfg.AuthRateLimit, cfg.AuthRateBurst),
	}
	if o.registerer != nil {
		serverOpts = append(serverOpts, controlplane.WithMetricsRegisterer(o.registerer))
	}
	server, err := controlplane.NewServer(log, sessions, serverOpts...)
	if err != nil {
		return nil, err
	}

	ext := &Extension{
		logger: log,
		server: server,
		router: callback.NewRouter(log, sessions, o.notifier),
	}
	if err := server.Start(ctx); err != nil {
		log.Error("control plane failed to start, continuing without it: %s", err)
	} else {
		ext.listening.Store(true)
	}
	return ext, nil
}

// HandleURI delivers a custom URI-scheme invocation. Failures are logged and
// returned.
func (e *Extension) HandleURI(ctx context.Context, uri string) error {
	ctx, log, span := telemetry.StartSpan(ctx, e.logger, tracer, "HandleURI")
	defer span.End()
	log.Debug("handling callback uri")
	if err := e.router.Handle(ctx, uri); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Listening reports whether the control plane bound successfully.
func (e *Extension) Listening() bool {
	return e.listening.Load()
}

// Addr returns the bound control-plane address, or nil when not listening.
func (e *Extension) Addr() net.Addr {
	return e.server.Addr()
}

// Server returns the control-plane server.
func (e *Extension) Server() *controlplane.Server {
	return e.server
}

// Deactivate stops the listener.
func (e *Extension) Deactivate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	err := e.server.Close(ctx)
	e.listening.Store(false)
	e.logger.Info("deactivated")
	return err
}
