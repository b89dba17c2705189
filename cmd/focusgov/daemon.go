package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/1broseidon/focusgov/internal/config"
	"github.com/1broseidon/focusgov/internal/control"
	"github.com/1broseidon/focusgov/internal/daemon"
	"github.com/1broseidon/focusgov/internal/ipc"
	"github.com/1broseidon/focusgov/internal/logging"
	"github.com/1broseidon/focusgov/internal/metrics"
	"github.com/1broseidon/focusgov/internal/platform"
	"github.com/1broseidon/focusgov/internal/sway"
	"github.com/1broseidon/focusgov/internal/x11"
)

func newDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the focus governor in the foreground",
		Long: "Subscribe to window events and keep every visible window's process\n" +
			"unthrottled and every hidden one throttled. SIGHUP forces a rescan.",
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	res, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg := res.Config

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	if res.File != "" {
		logger.Info("config loaded", "path", res.File)
	} else {
		logger.Info("no config file, using defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := newSource(cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	controller, err := control.New(ctx, cfg.BackendName(), cfg.PriorityControl(), cfg.QuotaControl())
	if err != nil {
		return fmt.Errorf("start %s backend: %w", cfg.BackendName(), err)
	}
	defer controller.Close()

	m := metrics.New()
	d := daemon.New(daemon.Config{
		Source:         source,
		Controller:     controller,
		Triggers:       cfg.TriggerSet(),
		Walk:           cfg.WalkOptions(),
		SkipTreeErrors: cfg.TreeFetchFailure == config.TreeFetchSkip,
		ScanOnStart:    true,
		Metrics:        m,
		Logger:         logger,
	})

	sockPath, err := socketPath(cmd)
	if err != nil {
		return err
	}
	srv := ipc.NewServer(sockPath, d, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := d.Run(gctx)
		if err != nil {
			logger.Error("dispatcher stopped", "error", err)
		}
		return err
	})
	g.Go(func() error { return srv.Serve(gctx) })
	if cfg.MetricsListen != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.MetricsListen, logger) })
	}
	if cfg.RescanInterval > 0 {
		g.Go(func() error {
			daemon.NewReconciler(cfg.RescanInterval, d.Rescan, logger).Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		forwardHangups(gctx, d, logger)
		return nil
	})

	err = g.Wait()
	logger.Info("daemon stopped")
	return err
}

// forwardHangups turns SIGHUP into a rescan.
func forwardHangups(ctx context.Context, d *daemon.Dispatcher, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, rescanning")
			d.Rescan()
		}
	}
}

func newSource(cfg *config.Config) (platform.Source, error) {
	switch cfg.Source {
	case config.SourceX11:
		return x11.NewSource(cfg.Display), nil
	default:
		path, err := sway.SocketPath(cfg.SwaySocket)
		if err != nil {
			return nil, err
		}
		return sway.New(path), nil
	}
}
