package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jes/pressuredash/internal/chart"
	"github.com/jes/pressuredash/internal/config"
	"github.com/jes/pressuredash/internal/controller"
	"github.com/jes/pressuredash/internal/logging"
	"github.com/jes/pressuredash/internal/metrics"
	"github.com/jes/pressuredash/internal/server"
	"github.com/jes/pressuredash/internal/transport"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir, cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	cmd.Flags().String("transport", transport.KindBLE, "sensor link: ble, serial, bmp390 or sim")
	cmd.Flags().String("port", "", "serial port, for --transport serial")
	cmd.Flags().String("log-level", "info", "debug, info, warn or error")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	link, err := transport.New(cfg.Transport, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	hub := server.NewHub(logger.With("component", "hub"))
	sink := chart.NewSink(hub, cfg.Chart.FrameInterval)
	ctrl := controller.New(controller.Config{
		Transport:       link,
		Chart:           sink,
		Publisher:       hub,
		Logger:          logger.With("component", "controller"),
		Metrics:         m,
		TimestampLayout: cfg.Export.TimestampLayout,
	})
	srv := server.New(server.Config{
		Dashboard: ctrl,
		Chart:     sink,
		Hub:       hub,
		Metrics:   m,
		Logger:    logger.With("component", "http"),
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sink.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = ctrl.Run(ctx)
	}()

	logger.Info("pressuredash starting", "version", version, "transport", cfg.Transport.Kind, "addr", cfg.Server.Addr)
	err = srv.Serve(ctx, cfg.Server.Addr)

	stop()
	wg.Wait()
	if cerr := ctrl.Close(); cerr != nil {
		logger.Warn("closing sensor link", "err", cerr)
	}
	logger.Info("shutdown complete")
	return err
}
