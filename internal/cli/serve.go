package cli

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/smartmove/internal/api"
	"github.com/roach88/smartmove/internal/ingest"
)

// drainTimeout bounds how long serve waits for queued telemetry on exit.
const drainTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fleet controller",
		Long: `Run the fleet controller: HTTP API, telemetry consumer, and MQTT
telemetry ingest when a broker is configured.

On SIGINT or SIGTERM the HTTP server stops accepting requests, queued
telemetry is drained, and the audit log is closed.

Example:
  smartmove serve
  smartmove serve --config smartmove.yaml --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}
	setupLogging(cfg.Log, opts.Verbose, cmd.ErrOrStderr())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := openApp(cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The consumer outlives ctx so it can drain after the signal.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- a.ctrl.Run(runCtx) }()

	ingestDone := make(chan struct{})
	if cfg.MQTT.Enabled() {
		sub := ingest.New(ingest.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
		}, a.ctrl)
		go func() {
			defer close(ingestDone)
			if err := sub.Run(ctx); err != nil {
				slog.Error("mqtt ingest failed", "broker", cfg.MQTT.Broker, "error", err)
			}
		}()
	} else {
		slog.Info("mqtt ingest disabled: no broker configured")
		close(ingestDone)
	}

	server := api.NewServer(a.ctrl,
		api.WithHealthCheck(a.store),
		api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
	)

	slog.Info("smartmove starting",
		"addr", cfg.HTTP.Addr,
		"db", cfg.Storage.DBPath,
		"audit", cfg.Storage.AuditPath,
		"zones", a.zones.Count(),
	)
	serveErr := server.ListenAndServe(ctx, cfg.HTTP.Addr)
	stop()

	<-ingestDone

	a.ctrl.Shutdown()
	select {
	case err := <-consumerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("telemetry consumer failed", "error", err)
		}
	case <-time.After(drainTimeout):
		slog.Warn("telemetry drain timed out", "pending", a.ctrl.QueueLen())
		cancelRun()
		<-consumerDone
	}

	next, _ := a.audit.Head()
	slog.Info("smartmove stopped", "audit_entries", next-1)

	if serveErr != nil {
		return WrapExitError(ExitCommandError, "http server failed", serveErr)
	}
	return nil
}
