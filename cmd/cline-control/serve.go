package main

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/inoueakimitsu/cline/controlplane"
	"github.com/inoueakimitsu/cline/env"
	"github.com/inoueakimitsu/cline/eventing"
	"github.com/inoueakimitsu/cline/extension"
	"github.com/inoueakimitsu/cline/logger"
	"github.com/inoueakimitsu/cline/session"
	"github.com/inoueakimitsu/cline/sys"
	"github.com/inoueakimitsu/cline/tui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane for one session",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("port", "", "control plane port (default 3000)")
	serveCmd.Flags().String("token", "", "shared secret clients send in x-cli-token")
	serveCmd.Flags().String("host", "", "loopback host to bind (default 127.0.0.1)")
	serveCmd.Flags().String("metrics-addr", "", "loopback address for the prometheus endpoint")
	serveCmd.Flags().String("metrics-token", "", "secret scrapers derive bearer tokens from (see token --bearer)")
	serveCmd.Flags().String("otlp-url", "", "OTLP/HTTP endpoint, telemetry is off when empty")
	serveCmd.Flags().String("otlp-token", "", "shared secret for the OTLP endpoint")
	serveCmd.Flags().Bool("no-telemetry", false, "disable telemetry")
	serveCmd.Flags().String("state-ttl", "", "lifetime of issued auth states (default 10m)")
	serveCmd.Flags().Bool("stdin-callbacks", false, "read callback URIs from stdin, one per line")
}

// tuiNotifier surfaces callback errors on the terminal.
type tuiNotifier struct {
	log logger.Logger
}

func (n tuiNotifier) ShowError(_ context.Context, message string) {
	n.log.Error("%s", message)
	tui.ShowError("%s", message)
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, log, shutdownTelemetry, err := env.NewTelemetry(ctx, cmd, "cline-control")
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	instanceOpts := []session.InstanceOption{session.WithStateTTL(cfg.StateTTL.Std())}
	if id := env.FlagOrEnv(cmd, "session-id", env.Prefix+"SESSION_ID", ""); id != "" {
		instanceOpts = append(instanceOpts, session.WithID(id))
	}
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		events := eventing.NewRedisClient(ctx, log, rdb)
		defer events.Close()
		store := redisStore(rdb, cfg)
		instanceOpts = append(instanceOpts,
			session.WithStateStore(store),
			session.WithPoster(session.NewMultiPoster(
				session.NewLogPoster(log),
				session.NewSnapshotPoster(store),
				session.NewEventingPoster(events),
			)),
		)
	}
	instance := session.NewInstance(ctx, log, instanceOpts...)
	defer instance.Close()
	registry := session.NewRegistry()
	registry.SetVisible(instance)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ext, err := extension.Activate(ctx, cfg, registry,
		extension.WithLogger(log),
		extension.WithNotifier(tuiNotifier{log}),
		extension.WithMetricsRegisterer(reg),
	)
	if err != nil {
		return err
	}

	if cfg.UsesDefaultToken() {
		tui.ShowWarning("using the default token, run %s to create one", tui.Command("token", "--write", ".env"))
	}
	if ext.Listening() {
		tui.ShowBanner("cline-control", tui.KeyValues(
			[2]string{"listening", tui.Bold(ext.Addr().String())},
			[2]string{"session", instance.ID()},
			[2]string{"mode", string(session.ModeAct)},
		), false)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, log, cfg.MetricsAddr, controlplane.MetricsHandler(log, reg, cfg.MetricsToken)) })
	}
	if stdin, _ := cmd.Flags().GetBool("stdin-callbacks"); stdin {
		g.Go(func() error { return readCallbacks(gctx, log, ext) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return ext.Deactivate(context.Background())
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveMetrics(ctx context.Context, log logger.Logger, addr string, handler http.Handler) error {
	ln, err := new(net.ListenConfig).Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	log.Info("metrics listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// readCallbacks feeds URIs from stdin to the callback router until stdin
// closes or ctx is done.
func readCallbacks(ctx context.Context, log logger.Logger, ext *extension.Extension) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line = strings.TrimSpace(line); line != "" {
				handleLine(ctx, log, ext, line)
			}
		}
	}
}

func handleLine(ctx context.Context, log logger.Logger, ext *extension.Extension, line string) {
	defer sys.RecoverPanic(log)
	_ = ext.HandleURI(ctx, line)
}
