// Package backfill links lineages found only in the legacy transaction ledger to canonical
// subscription records.
package backfill

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/app/service/entitlement"
	"github.com/fatflowers/entitlement/internal/app/service/reconcile"
	"github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/pkg/types"
)

const DefaultBatchSize = 200

// Ledger is the read side of the store the job walks.
type Ledger interface {
	Get(ctx context.Context, userID string) (*types.SubscriptionRecord, error)
	LedgerLineages(ctx context.Context, after subscription.Lineage, limit int) ([]subscription.Lineage, error)
	LedgerTransactions(ctx context.Context, l subscription.Lineage) ([]*types.TransactionRecord, error)
}

type Applier interface {
	Apply(ctx context.Context, userID string, txs []*types.TransactionRecord, mode entitlement.Mode, lineage string, opts reconcile.Options) (*types.SubscriptionRecord, error)
}

type Options struct {
	DryRun    bool
	BatchSize int
}

// Stats counts users, not lineages.
type Stats struct {
	Scanned int `json:"scanned"`
	Linked  int `json:"linked"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type Runner struct {
	ledger  Ledger
	applier Applier
	log     *zap.SugaredLogger
}

func New(ledger Ledger, applier Applier, log *zap.SugaredLogger) *Runner {
	return &Runner{ledger: ledger, applier: applier, log: log}
}

func NewRunner(sub *subscription.Service, rec *reconcile.Service, log *zap.SugaredLogger) *Runner {
	return New(sub, rec, log)
}

// Run walks every ledger lineage grouped by user. Users whose canonical record already
// carries an original transaction id are left alone; for the rest the lineage with the
// latest expiry is resolved in history mode and written with source migration.
// Per-user failures are counted and do not stop the job.
func (r *Runner) Run(ctx context.Context, opts Options) (*Stats, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	stats := &Stats{}
	var (
		cursor  subscription.Lineage
		user    string
		pending []subscription.Lineage
	)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		page, err := r.ledger.LedgerLineages(ctx, cursor, opts.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to page ledger after %s/%s: %w", cursor.UserID, cursor.OriginalTransactionID, err)
		}
		for _, l := range page {
			if l.UserID != user && len(pending) > 0 {
				r.processUser(ctx, user, pending, opts.DryRun, stats)
				pending = pending[:0]
			}
			user = l.UserID
			pending = append(pending, l)
		}
		if len(page) < opts.BatchSize {
			break
		}
		cursor = page[len(page)-1]
	}
	if len(pending) > 0 {
		r.processUser(ctx, user, pending, opts.DryRun, stats)
	}

	r.log.Infow("backfill finished",
		"dry_run", opts.DryRun,
		"scanned", stats.Scanned,
		"linked", stats.Linked,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
	return stats, nil
}

func (r *Runner) processUser(ctx context.Context, userID string, lineages []subscription.Lineage, dryRun bool, stats *Stats) {
	stats.Scanned++
	if userID == "" {
		stats.Skipped++
		return
	}

	record, err := r.ledger.Get(ctx, userID)
	if err != nil {
		stats.Failed++
		r.log.Errorw("failed to load subscription", "user_id", userID, "error", err)
		return
	}
	if record != nil && record.OriginalTransactionID != "" {
		stats.Skipped++
		return
	}

	var (
		best     string
		bestTxs  []*types.TransactionRecord
		bestExps int64 = -1
	)
	for _, l := range lineages {
		if l.OriginalTransactionID == "" {
			continue
		}
		txs, err := r.ledger.LedgerTransactions(ctx, l)
		if err != nil {
			stats.Failed++
			r.log.Errorw("failed to load ledger lineage", "user_id", userID, "original_transaction_id", l.OriginalTransactionID, "error", err)
			return
		}
		var exp int64
		for _, t := range txs {
			exp = max(exp, t.ExpiresAt())
		}
		if exp > bestExps {
			best, bestTxs, bestExps = l.OriginalTransactionID, txs, exp
		}
	}
	if best == "" || len(bestTxs) == 0 {
		stats.Skipped++
		return
	}

	if dryRun {
		stats.Linked++
		r.log.Infow("would link lineage", "user_id", userID, "original_transaction_id", best, "transactions", len(bestTxs))
		return
	}
	if _, err := r.applier.Apply(ctx, userID, bestTxs, entitlement.ModeHistory, best, reconcile.Options{Source: types.UpdateSourceMigration}); err != nil {
		stats.Failed++
		r.log.Errorw("failed to link lineage", "user_id", userID, "original_transaction_id", best, "error", err)
		return
	}
	stats.Linked++
}

var Module = fx.Options(
	fx.Provide(NewRunner),
)
