package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BCCDC-PHL/auto-flu/pkg/api"
	"github.com/BCCDC-PHL/auto-flu/pkg/config"
	"github.com/BCCDC-PHL/auto-flu/pkg/scanner"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously scan for ready runs and dispatch analyses",
	Long: `Scan the configured run directory on an interval, dispatching every
configured pipeline against each ready run. An interrupt drains: the
in-flight analysis completes before the process exits.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// An unreadable scan root at startup is fatal; once the loop is
	// running, the same condition aborts the process from within a cycle.
	if _, err := os.Stat(cfg.FastqByRunDir); err != nil {
		return fmt.Errorf("fastq_by_run_dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal, draining")
		cancel()
	}()

	if cfg.API != nil {
		srv := api.NewServer(log, cfg.API, cfg.AnalysisOutputDir)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting status API server: %w", err)
		}

		defer func() {
			if err := srv.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop status API server")
			}
		}()
	}

	s := scanner.New(log, cfgFile, cfg, scanner.Options{})

	return s.Watch(ctx)
}

// loadConfig loads and validates the config file given on the command line.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}
