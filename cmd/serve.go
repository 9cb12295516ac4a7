package cmd

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/webriots/coreact"
	"github.com/webriots/coreact/echo"
)

// ServeConfig is everything the serve command is configured with.
type ServeConfig struct {
	Echo        echo.Config
	LogLevel    string
	MetricsBind string
}

func newServeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var cfg ServeConfig

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server.",
		Long: `coreact serve runs the echo server.

It listens on the configured address and answers every chunk a client
sends with the chunk prefixed by the configured tag, until the client
closes its side. It stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, cfg, stderr)
		},
	}

	flags := serveCmd.Flags()
	flags.StringVarP(&cfg.Echo.Addr, "bind", "b", echo.DefaultAddr, "Address the echo server listens on.")
	flags.StringVar(&cfg.Echo.Prefix, "prefix", echo.DefaultPrefix, "Tag prepended to every echoed chunk.")
	flags.IntVar(&cfg.Echo.MaxRead, "max-read", echo.DefaultMaxRead, "Maximum bytes read per receive.")
	flags.IntVar(&cfg.Echo.Backlog, "backlog", echo.DefaultBacklog, "Listen backlog.")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error).")
	flags.StringVar(&cfg.MetricsBind, "metrics-bind", "", "Address serving Prometheus /metrics; empty disables it.")

	return serveCmd
}

// Serve runs the echo server until ctx is cancelled. Cancellation is a
// clean stop; a reactor failure is returned.
func Serve(ctx context.Context, cfg ServeConfig, stderr io.Writer) error {
	logger, err := newLogger(cfg.LogLevel, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := coreact.NewMetrics(reg)

	reactor, err := coreact.NewReactor()
	if err != nil {
		return err
	}
	defer func() { _ = reactor.Close() }()

	srv, err := echo.Listen(cfg.Echo, logger)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	if cfg.MetricsBind != "" {
		shutdown := serveMetrics(cfg.MetricsBind, reg, logger)
		defer shutdown()
	}

	sched := coreact.New(reactor, coreact.WithLogger(logger), coreact.WithMetrics(metrics))
	sched.Spawn(srv.Serve)

	err = sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("echo server stopped")
		return nil
	}
	return err
}

// serveMetrics exposes reg on its own goroutine; the loop goroutine is
// never blocked by scrapes.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(ctx)
	}
}

func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(w),
		lvl,
	)
	return zap.New(core), nil
}
