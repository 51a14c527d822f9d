package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"networktools/pkg/agentlog"
	"networktools/pkg/controller"
	"networktools/pkg/reconcile"
	"networktools/pkg/store"
)

var (
	runDBPath      string
	runCleanupOnly bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation service loop",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runDBPath, "db", "d", "", "path to the node's persistent store file")
	runCmd.Flags().BoolVar(&runCleanupOnly, "cleanup-only", false, "run the startup cleanup sweep once and exit, without starting the tick loop")
	runCmd.MarkFlagRequired("db")
}

func runRun(cmd *cobra.Command, args []string) error {
	loadDotEnv()
	agentlog.Init(agentlog.Config{JSONOutput: getenv("LOG_JSON", "") != ""})

	s, err := store.Open(runDBPath)
	if err != nil {
		return fmt.Errorf("open store %s: %w", runDBPath, err)
	}

	settings, ok, err := s.GetNodeSettings()
	if err != nil {
		return fmt.Errorf("load node settings: %w", err)
	}
	if !ok {
		return fmt.Errorf("node settings not initialized, run `networktools init -d %s` first", runDBPath)
	}

	if runCleanupOnly {
		reconcile.Cleanup(settings.Namespace)
		return nil
	}

	priv, err := controller.ParsePrivateKeyPEM(settings.PrivateKey)
	if err != nil {
		return fmt.Errorf("parse node private key: %w", err)
	}

	r := &reconcile.Reconciler{
		Store:      s,
		Controller: controller.New(settings.DomainPrefix, priv),
		InstallDir: getenv("INSTALL_DIR", "/opt/networktools"),
	}

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		go func() {
			if err := agentlog.ServeMetrics(addr); err != nil {
				agentlog.Logger.Error().Err(err).Str("addr", addr).Msg("metrics listener stopped")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		agentlog.Logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := reconcile.Run(ctx, r, settings.Namespace); err != nil && err != context.Canceled {
		return fmt.Errorf("service loop: %w", err)
	}
	return nil
}
