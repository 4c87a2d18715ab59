package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/app/service/entitlement"
	"github.com/fatflowers/entitlement/internal/app/service/reconcile"
	"github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/internal/platform/db/dbtest"
	"github.com/fatflowers/entitlement/internal/platform/marketplace/marketplacetest"
	"github.com/fatflowers/entitlement/internal/platform/mq"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/types"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func tx(id, otid string, purchase, expires time.Time) *types.TransactionRecord {
	return &types.TransactionRecord{
		TransactionID:         id,
		OriginalTransactionID: otid,
		ProductID:             "premium.monthly",
		PurchaseDate:          lo.ToPtr(purchase.UnixMilli()),
		ExpiresDate:           lo.ToPtr(expires.UnixMilli()),
	}
}

func setup(t *testing.T) (*subscription.Service, *reconcile.Service) {
	t.Helper()
	cfg := &config.Config{Products: []*types.Product{{ProductID: "premium.monthly", Period: types.SubscriptionPeriodMonthly}}}
	log := zap.NewNop().Sugar()
	store := subscription.NewService(cfg, dbtest.New(t), log, mq.NewEventProducerFallback(log))
	rec := reconcile.New(store, marketplacetest.New(), entitlement.New(cfg, func() time.Time { return testNow }), log)

	ctx := context.Background()
	require.NoError(t, store.RecordTransactions(ctx, "u1", []*types.TransactionRecord{
		tx("a1", "o1", testNow.AddDate(-1, 0, 0), testNow.AddDate(-1, 1, 0)),
	}, types.UpdateSourceWebhook))
	require.NoError(t, store.RecordTransactions(ctx, "u1", []*types.TransactionRecord{
		tx("b1", "o2", testNow.AddDate(0, 0, -10), testNow.AddDate(0, 0, 20)),
	}, types.UpdateSourceWebhook))
	require.NoError(t, store.RecordTransactions(ctx, "u2", []*types.TransactionRecord{
		tx("c1", "o3", testNow.AddDate(0, 0, -10), testNow.AddDate(0, 0, 20)),
	}, types.UpdateSourceWebhook))
	_, err := store.Update(ctx, "u2", &types.SubscriptionUpdate{OriginalTransactionID: lo.ToPtr("o3")}, types.UpdateSourceWebhook)
	require.NoError(t, err)
	return store, rec
}

func TestRun_LinksLatestLineage(t *testing.T) {
	store, rec := setup(t)
	ctx := context.Background()

	stats, err := New(store, rec, zap.NewNop().Sugar()).Run(ctx, Options{BatchSize: 1})
	require.NoError(t, err)
	require.Equal(t, &Stats{Scanned: 2, Linked: 1, Skipped: 1}, stats)

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "o2", got.OriginalTransactionID)
	require.Equal(t, "b1", got.LastTransactionID)
	require.Equal(t, types.UpdateSourceMigration, got.LastUpdateSource)
	require.Equal(t, types.EntitlementPremium, got.Entitlement)

	untouched, err := store.Get(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, types.UpdateSourceWebhook, untouched.LastUpdateSource)

	again, err := New(store, rec, zap.NewNop().Sugar()).Run(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, &Stats{Scanned: 2, Skipped: 2}, again)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	store, rec := setup(t)
	ctx := context.Background()

	stats, err := New(store, rec, zap.NewNop().Sugar()).Run(ctx, Options{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Linked)

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, got)
}

type failingApplier struct{ calls int }

func (f *failingApplier) Apply(context.Context, string, []*types.TransactionRecord, entitlement.Mode, string, reconcile.Options) (*types.SubscriptionRecord, error) {
	f.calls++
	return nil, errors.New("boom")
}

func TestRun_FailuresAreCounted(t *testing.T) {
	store, _ := setup(t)
	applier := &failingApplier{}

	stats, err := New(store, applier, zap.NewNop().Sugar()).Run(context.Background(), Options{BatchSize: 2})
	require.NoError(t, err)
	require.Equal(t, 1, applier.calls)
	require.Equal(t, &Stats{Scanned: 2, Skipped: 1, Failed: 1}, stats)
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	store, rec := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(store, rec, zap.NewNop().Sugar()).Run(ctx, Options{})
	require.ErrorIs(t, err, context.Canceled)
}
