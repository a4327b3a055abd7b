package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/rolerag/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the assistant over WebSocket",
		Long:  "Serve /ws for role-scoped questions, /health and /metrics. Every message carries its own role.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().Bool("seed", false, "replace the store with the sample corpus before serving")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, "info")
	if err != nil {
		return err
	}
	defer a.Close()

	if seed, _ := cmd.Flags().GetBool("seed"); seed {
		report, err := a.seed(ctx)
		if err != nil {
			return fmt.Errorf("seeding store: %w", err)
		}
		a.logger.Info("store seeded", zap.Int("documents", report.Documents))
	}

	assistant, err := a.assistant()
	if err != nil {
		return err
	}

	addr := a.cfg.Server.Addr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.NewWSServer(assistant, server.Config{
		Addr:      addr,
		Streaming: a.cfg.UI.Streaming,
		Registry:  registry,
		Logger:    a.logger,
	})
	return srv.ListenAndServe(ctx)
}
