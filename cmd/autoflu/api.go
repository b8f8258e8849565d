package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BCCDC-PHL/auto-flu/pkg/api"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the status API server without scanning",
	Long:  `Serve a read-only HTTP view of analysis completion status from the output directory.`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.API == nil {
		return fmt.Errorf("api section is required in config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	srv := api.NewServer(log, cfg.API, cfg.AnalysisOutputDir)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting status API server: %w", err)
	}

	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down status API server")
	cancel()

	return srv.Stop()
}
