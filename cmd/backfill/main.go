// Command backfill links legacy ledger lineages to canonical subscription records.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/fatflowers/entitlement/internal/app"
	"github.com/fatflowers/entitlement/internal/app/service/backfill"
)

var (
	dryRun    bool
	batchSize int
)

var rootCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Link legacy ledger lineages to subscription records",
	Long: `Walk the legacy transaction ledger and resolve every user that has no
canonical lineage yet. The lineage with the latest expiry wins and is
written with update source "migration". Users that already have an
original transaction id are skipped.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackfill(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be linked without writing")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", backfill.DefaultBatchSize, "ledger lineages read per page")
}

func runBackfill(ctx context.Context) error {
	var runner *backfill.Runner
	a := fx.New(
		app.Infra,
		backfill.Module,
		fx.Populate(&runner),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(ctx, app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx)
	}()

	stats, err := runner.Run(ctx, backfill.Options{DryRun: dryRun, BatchSize: batchSize})
	if stats != nil {
		out, _ := json.Marshal(stats)
		fmt.Println(string(out))
	}
	return err
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
