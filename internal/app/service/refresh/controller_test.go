package refresh

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
	"github.com/fatflowers/entitlement/internal/platform/marketplace"
	"github.com/fatflowers/entitlement/internal/platform/marketplace/marketplacetest"
	"github.com/fatflowers/entitlement/internal/platform/mq"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/types"
)

const (
	testTTL    = 10 * time.Minute
	testWindow = 5 * time.Minute
)

type fixture struct {
	ctl        *Controller
	store      *subscription.Service
	gw         *marketplacetest.Fake
	reconciler *reconcile.Service
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Products: []*types.Product{
			{ProductID: "premium.monthly", Period: types.SubscriptionPeriodMonthly, TrialEligible: true},
		},
		TestAccounts: []*types.TestAccount{
			{UserID: "reviewer", SubscriptionType: types.SubscriptionPeriodYearly},
		},
		Refresh: config.RefreshConfig{CacheTTL: testTTL, DuplicateWindow: testWindow, MaxTrackedUsers: 10},
	}
	log := zap.NewNop().Sugar()
	store := subscription.NewService(cfg, dbtest.New(t), log, mq.NewEventProducerFallback(log))
	gw := marketplacetest.New()
	f := &fixture{store: store, gw: gw, now: time.Now()}
	clock := func() time.Time { return f.now }
	f.reconciler = reconcile.New(store, gw, entitlement.New(cfg, clock), log)
	f.ctl = NewController(cfg, store, gw, f.reconciler, NewMemorySuppressor(testWindow, 10, clock), log)
	f.ctl.now = clock
	return f
}

// seed stores identifiers for userID and returns the stored record.
func (f *fixture) seed(t *testing.T, userID string, u *types.SubscriptionUpdate) *types.SubscriptionRecord {
	t.Helper()
	rec, err := f.store.Update(context.Background(), userID, u, types.UpdateSourceSyncPurchaseInfo)
	require.NoError(t, err)
	return rec
}

func activeStatus(otid, txid string, expires time.Time, autoRenew int) []types.StatusGroup {
	return []types.StatusGroup{{
		SubscriptionGroupIdentifier: "g1",
		Items: []types.StatusItem{{
			OriginalTransactionID: otid,
			Status:                1,
			Transaction: &types.TransactionRecord{
				TransactionID:         txid,
				OriginalTransactionID: otid,
				ProductID:             "premium.monthly",
				PurchaseDate:          lo.ToPtr(expires.AddDate(0, -1, 0).UnixMilli()),
				ExpiresDate:           lo.ToPtr(expires.UnixMilli()),
			},
			Renewal: &types.RenewalRecord{OriginalTransactionID: otid, AutoRenewStatus: autoRenew},
		}},
	}}
}

func TestCheck_TestAccount(t *testing.T) {
	f := newFixture(t)
	res, err := f.ctl.Check(context.Background(), "reviewer", true)
	require.NoError(t, err)
	require.Equal(t, StateTestAccount, res.State)
	require.Equal(t, types.EntitlementPremium, res.Record.Entitlement)
	require.Equal(t, types.SubscriptionStatusActive, res.Record.SubscriptionStatus)
	require.Equal(t, types.SubscriptionPeriodYearly, *res.Record.SubscriptionType)
	require.Zero(t, f.gw.CallCount(marketplacetest.OpStatus))

	stored, err := f.store.Get(context.Background(), "reviewer")
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestCheck_EmptyUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctl.Check(context.Background(), "", false)
	require.ErrorIs(t, err, ErrEmptyUserID)
}

func TestCheck_UnverifiedIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ctl.Check(ctx, "u1", true)
	require.NoError(t, err)
	require.Equal(t, StateUnverified, res.State)
	require.Equal(t, types.EntitlementFree, res.Record.Entitlement)
	require.Equal(t, types.SubscriptionStatusUnverified, res.Record.SubscriptionStatus)

	stored, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, stored)

	// A stale record without identifiers is unverified too.
	rec := f.seed(t, "u2", &types.SubscriptionUpdate{Entitlement: lo.ToPtr(types.EntitlementFree)})
	f.now = rec.LastUpdatedAt.Add(testTTL + time.Second)
	res, err = f.ctl.Check(ctx, "u2", false)
	require.NoError(t, err)
	require.Equal(t, StateUnverified, res.State)
	require.Zero(t, f.gw.CallCount(marketplacetest.OpStatus))
}

func TestCheck_CacheTTLBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(t, "u1", &types.SubscriptionUpdate{
		OriginalTransactionID: lo.ToPtr("o1"),
		LastTransactionID:     lo.ToPtr("t1"),
	})
	f.gw.Statuses["o1"] = activeStatus("o1", "t2", rec.LastUpdatedAt.AddDate(0, 1, 0), types.AutoRenewStatusOn)

	f.now = rec.LastUpdatedAt.Add(testTTL - time.Millisecond)
	res, err := f.ctl.Check(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, StateFreshCache, res.State)
	require.Equal(t, "t1", res.Record.LastTransactionID)
	require.Zero(t, f.gw.CallCount(marketplacetest.OpStatus))

	f.now = rec.LastUpdatedAt.Add(testTTL + time.Millisecond)
	res, err = f.ctl.Check(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, StateRefreshed, res.State)
	require.Equal(t, 1, f.gw.CallCount(marketplacetest.OpStatus))
	require.Equal(t, "t2", res.Record.LastTransactionID)
	require.Equal(t, types.EntitlementPremium, res.Record.Entitlement)
	require.Equal(t, types.SubscriptionStatusActive, res.Record.SubscriptionStatus)
	require.Equal(t, types.UpdateSourceCheckSubscriptionStatus, res.Record.LastUpdateSource)
}

func TestCheck_DuplicateSuppressed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(t, "u1", &types.SubscriptionUpdate{OriginalTransactionID: lo.ToPtr("o1")})
	f.gw.Errs[marketplacetest.OpStatus] = &marketplace.Error{Op: "status", Kind: marketplace.ErrorKindUnavailable, Err: errors.New("503")}

	f.now = rec.LastUpdatedAt.Add(time.Hour)
	res, err := f.ctl.Check(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, StateDegraded, res.State)
	require.Equal(t, "o1", res.Record.OriginalTransactionID)

	f.now = f.now.Add(testWindow - time.Second)
	res, err = f.ctl.Check(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, StateDuplicateSuppressed, res.State)
	require.True(t, res.Throttled)
	require.Equal(t, "o1", res.Record.OriginalTransactionID)
	require.Equal(t, 1, f.gw.CallCount(marketplacetest.OpStatus))

	// Forcing bypasses the window.
	res, err = f.ctl.Check(ctx, "u1", true)
	require.NoError(t, err)
	require.Equal(t, StateDegraded, res.State)
	require.Equal(t, 2, f.gw.CallCount(marketplacetest.OpStatus))

	// The forced attempt restarted the window.
	f.now = f.now.Add(testWindow - time.Second)
	res, err = f.ctl.Check(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, StateDuplicateSuppressed, res.State)

	f.now = f.now.Add(testWindow)
	res, err = f.ctl.Check(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, StateDegraded, res.State)
	require.Equal(t, 3, f.gw.CallCount(marketplacetest.OpStatus))
}

func TestCheck_ForceBypassesFreshCache(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(t, "u1", &types.SubscriptionUpdate{OriginalTransactionID: lo.ToPtr("o1"), LastTransactionID: lo.ToPtr("t1")})
	f.gw.Statuses["o1"] = activeStatus("o1", "t1", rec.LastUpdatedAt.AddDate(0, 0, 20), types.AutoRenewStatusOff)
	f.now = rec.LastUpdatedAt

	res, err := f.ctl.Check(context.Background(), "u1", true)
	require.NoError(t, err)
	require.Equal(t, StateRefreshed, res.State)
	require.Equal(t, types.SubscriptionStatusCancelling, res.Record.SubscriptionStatus)
	require.False(t, res.Record.AutoRenewEnabled)
}

func TestCheck_IdentifierOnlyWriteForcesRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(t, "u1", &types.SubscriptionUpdate{
		Entitlement:           lo.ToPtr(types.EntitlementPremium),
		SubscriptionStatus:    lo.ToPtr(types.SubscriptionStatusActive),
		OriginalTransactionID: lo.ToPtr("o1"),
		LastTransactionID:     lo.ToPtr("t1"),
	})
	expires := rec.LastUpdatedAt.AddDate(0, 1, 0)
	statuses := activeStatus("o1", "t2", expires, types.AutoRenewStatusOn)
	statuses[0].Items[0].Transaction.RevocationDate = lo.ToPtr(rec.LastUpdatedAt.UnixMilli())
	f.gw.Statuses["o1"] = statuses

	// A webhook whose history fetch failed only records the newer transaction.
	persisted, err := f.reconciler.PersistIdentifiers(ctx, "u1", statuses[0].Items[0].Transaction, types.UpdateSourceWebhook)
	require.NoError(t, err)
	require.True(t, persisted.NeedsRefresh)
	require.True(t, persisted.LastUpdatedAt.Equal(rec.LastUpdatedAt))
	require.Equal(t, types.EntitlementPremium, persisted.Entitlement)

	f.now = rec.LastUpdatedAt.Add(time.Minute)
	res, err := f.ctl.Check(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, StateRefreshed, res.State)
	require.Equal(t, types.EntitlementFree, res.Record.Entitlement)
	require.Equal(t, types.SubscriptionStatusRefunded, res.Record.SubscriptionStatus)
	require.False(t, res.Record.NeedsRefresh)
	require.Equal(t, 1, f.gw.CallCount(marketplacetest.OpStatus))
}

func TestCheck_FallsBackToTransactionInfo(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(t, "u1", &types.SubscriptionUpdate{LastTransactionID: lo.ToPtr("t1")})
	f.gw.Info["t1"] = &types.TransactionRecord{
		TransactionID:         "t1",
		OriginalTransactionID: "o1",
		ProductID:             "premium.monthly",
		PurchaseDate:          lo.ToPtr(rec.LastUpdatedAt.UnixMilli()),
		ExpiresDate:           lo.ToPtr(rec.LastUpdatedAt.Add(-time.Millisecond).UnixMilli()),
	}
	f.now = rec.LastUpdatedAt.Add(time.Hour)

	res, err := f.ctl.Check(context.Background(), "u1", false)
	require.NoError(t, err)
	require.Equal(t, StateRefreshed, res.State)
	require.Equal(t, types.EntitlementFree, res.Record.Entitlement)
	require.Equal(t, types.SubscriptionStatusExpired, res.Record.SubscriptionStatus)
	require.Equal(t, "o1", res.Record.OriginalTransactionID)
	require.Zero(t, f.gw.CallCount(marketplacetest.OpStatus))
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctl.Reconcile(ctx, "nobody")
	require.ErrorIs(t, err, ErrNoLineage)

	rec := f.seed(t, "u1", &types.SubscriptionUpdate{OriginalTransactionID: lo.ToPtr("o1")})
	base := rec.LastUpdatedAt
	f.now = base
	f.gw.History["o1"] = []*types.TransactionRecord{
		{TransactionID: "t1", OriginalTransactionID: "o1", ProductID: "premium.monthly",
			PurchaseDate: lo.ToPtr(base.AddDate(0, -2, 0).UnixMilli()), ExpiresDate: lo.ToPtr(base.AddDate(0, -1, 0).UnixMilli()),
			OfferType: types.OfferTypeIntroductory, OfferDiscountType: types.OfferDiscountTypeFreeTrial},
		{TransactionID: "t2", OriginalTransactionID: "o1", ProductID: "premium.monthly",
			PurchaseDate: lo.ToPtr(base.AddDate(0, -1, 0).UnixMilli()), ExpiresDate: lo.ToPtr(base.AddDate(0, 0, 3).UnixMilli())},
	}

	out, err := f.ctl.Reconcile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "t2", out.LastTransactionID)
	require.True(t, out.HasUsedTrial)
	require.Equal(t, types.EntitlementPremium, out.Entitlement)

	res, err := f.ctl.Check(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, StateFreshCache, res.State)
}

func TestPickStatusItem(t *testing.T) {
	item := func(otid string, expires int64) types.StatusItem {
		return types.StatusItem{
			OriginalTransactionID: otid,
			Transaction:           &types.TransactionRecord{TransactionID: otid + "-tx", ExpiresDate: lo.ToPtr(expires)},
		}
	}
	tests := []struct {
		name   string
		groups []types.StatusGroup
		want   string
	}{
		{name: "empty", groups: nil, want: ""},
		{name: "matching lineage wins", groups: []types.StatusGroup{
			{Items: []types.StatusItem{item("o2", 900)}},
			{Items: []types.StatusItem{item("o1", 100)}},
		}, want: "o1-tx"},
		{name: "latest expiry without match", groups: []types.StatusGroup{
			{Items: []types.StatusItem{item("o2", 900), item("o3", 500)}},
		}, want: "o2-tx"},
		{name: "skips entries without transaction", groups: []types.StatusGroup{
			{Items: []types.StatusItem{{OriginalTransactionID: "o1"}}},
		}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickStatusItem(tt.groups, "o1")
			if tt.want == "" {
				require.Nil(t, got)
				return
			}
			require.Equal(t, tt.want, got.Transaction.TransactionID)
		})
	}
}
