package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/BCCDC-PHL/auto-flu/pkg/scanner"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Perform a single scan cycle and exit",
	RunE:  runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
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

	s := scanner.New(log, cfgFile, cfg, scanner.Options{})

	if err := s.RunCycle(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Drain complete, exiting")

			return nil
		}

		return err
	}

	return nil
}
