package statistics

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/internal/platform/db/dbtest"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/types"
)

func seed(t *testing.T, store *subscription.Service, userID string, ent types.Entitlement, status types.SubscriptionStatus, trial bool) {
	t.Helper()
	_, err := store.Update(context.Background(), userID, &types.SubscriptionUpdate{
		Entitlement:        lo.ToPtr(ent),
		SubscriptionStatus: lo.ToPtr(status),
		HasUsedTrial:       lo.ToPtr(trial),
	}, types.UpdateSourceWebhook)
	require.NoError(t, err)
}

func TestGetEntitlementStatistic(t *testing.T) {
	db := dbtest.New(t)
	store := subscription.NewService(&config.Config{}, db, zap.NewNop().Sugar(), nil)
	seed(t, store, "u1", types.EntitlementPremium, types.SubscriptionStatusActive, true)
	seed(t, store, "u2", types.EntitlementPremium, types.SubscriptionStatusCancelling, false)
	seed(t, store, "u3", types.EntitlementFree, types.SubscriptionStatusExpired, true)

	svc := New(db)
	ctx := context.Background()

	res, err := svc.GetEntitlementStatistic(ctx, &EntitlementStatisticRequest{DataItems: []*EntitlementStatisticDataItem{
		{ID: StatisticTypeEntitlementCount},
		{ID: StatisticTypeStatusCount},
		{ID: StatisticTypeTrialUsedCount},
		{ID: StatisticTypeDailyUpdateCount},
	}})
	require.NoError(t, err)
	require.Equal(t, []EntitlementStatisticResponseDataItem{
		{Label: "FREE", Value: 1},
		{Label: "PREMIUM", Value: 2},
	}, res.DataItems[StatisticTypeEntitlementCount])
	require.Len(t, res.DataItems[StatisticTypeStatusCount], 3)
	require.Equal(t, int64(2), res.DataItems[StatisticTypeTrialUsedCount][0].Value)

	daily := res.DataItems[StatisticTypeDailyUpdateCount]
	require.Len(t, daily, 1)
	require.Equal(t, string(types.UpdateSourceWebhook), daily[0].Label)
	require.Equal(t, int64(3), daily[0].Value)
	require.Equal(t, time.Now().UTC().Format(time.DateOnly), daily[0].Date)
}

func TestGetEntitlementStatistic_Filters(t *testing.T) {
	db := dbtest.New(t)
	store := subscription.NewService(&config.Config{}, db, zap.NewNop().Sugar(), nil)
	seed(t, store, "u1", types.EntitlementPremium, types.SubscriptionStatusActive, true)
	seed(t, store, "u2", types.EntitlementTrial, types.SubscriptionStatusActive, true)
	seed(t, store, "u3", types.EntitlementFree, types.SubscriptionStatusExpired, false)

	svc := New(db)
	res, err := svc.GetEntitlementStatistic(context.Background(), &EntitlementStatisticRequest{
		Filters: types.CommonFilters{{Field: "subscription_status", Operator: types.CommonFilterOperatorEq, Values: []any{"ACTIVE"}}},
		DataItems: []*EntitlementStatisticDataItem{
			{ID: StatisticTypeEntitlementCount},
			{ID: StatisticTypeDailyWebhookCount},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.DataItems[StatisticTypeEntitlementCount], 2)
	require.Nil(t, res.DataItems[StatisticTypeDailyWebhookCount])
}

func TestEntitlementStatisticRequest_Validate(t *testing.T) {
	tests := []struct {
		name string
		req  *EntitlementStatisticRequest
	}{
		{name: "nil", req: nil},
		{name: "no items", req: &EntitlementStatisticRequest{}},
		{name: "unknown item", req: &EntitlementStatisticRequest{DataItems: []*EntitlementStatisticDataItem{{ID: "gmv"}}}},
		{name: "column not allowed", req: &EntitlementStatisticRequest{
			Filters:   types.CommonFilters{{Field: "user_id", Operator: types.CommonFilterOperatorEq, Values: []any{"u1"}}},
			DataItems: []*EntitlementStatisticDataItem{{ID: StatisticTypeStatusCount}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.req.Validate())
		})
	}
}
