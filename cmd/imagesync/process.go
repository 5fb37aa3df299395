package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-image-sync/pkg/runner"
)

var (
	dryRun bool
	strict bool
)

func init() {
	processCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing or deleting")
	processCmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any file fails")
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one sync pass and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		rc := runner.FromConfig(cfg)
		rc.DryRun = dryRun
		r, err := runner.New(rc)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, err := r.Sync(ctx)
		if err != nil {
			return err
		}

		log.Printf("✓ Sync %s finished: %d written, %d deleted, %d up to date",
			summary.RunID, summary.Writes(), summary.Deletes(), summary.Skipped)
		for _, e := range summary.Errors {
			log.Printf("  failed: %v", e)
		}
		if strict && summary.Failed() {
			return fmt.Errorf("%d files failed", len(summary.Errors))
		}
		return nil
	},
}
