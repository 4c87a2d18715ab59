package models

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/entitlement/pkg/types"
)

func TestTransaction_RoundTrip(t *testing.T) {
	tx := &types.TransactionRecord{
		TransactionID:         "2",
		OriginalTransactionID: "1",
		ProductID:             "com.example.premium.monthly",
		PurchaseDate:          lo.ToPtr(int64(1700000000000)),
		ExpiresDate:           lo.ToPtr(int64(1702592000000)),
		OfferType:             types.OfferTypeIntroductory,
		OfferDiscountType:     types.OfferDiscountTypeFreeTrial,
		AppAccountToken:       "0a123456-7890-aaaa-aaaa-aaaaaaaaaaaa",
		Environment:           types.EnvironmentProduction,
	}

	row := NewTransaction("u1", tx, types.UpdateSourceWebhook)
	require.Equal(t, types.PaymentProviderApple, row.ProviderID)
	require.Nil(t, row.RevocationDate)

	back := row.ToTransactionRecord()
	require.Equal(t, tx, back)
}

func TestTransaction_SameState(t *testing.T) {
	tx := &types.TransactionRecord{TransactionID: "2", OriginalTransactionID: "1", ProductID: "p", ExpiresDate: lo.ToPtr(int64(1700000000000))}
	a := NewTransaction("u1", tx, types.UpdateSourceWebhook)
	b := NewTransaction("u1", tx, types.UpdateSourceCheckSubscriptionStatus)
	require.True(t, a.SameState(b))

	tx.RevocationDate = lo.ToPtr(int64(1700000001000))
	c := NewTransaction("u1", tx, types.UpdateSourceWebhook)
	require.False(t, a.SameState(c))
	require.False(t, a.SameState(nil))
}

func TestSubscription_ToRecord(t *testing.T) {
	s := &Subscription{
		UserID:             "u1",
		Entitlement:        types.EntitlementPremium,
		SubscriptionStatus: types.SubscriptionStatusActive,
		SubscriptionType:   lo.ToPtr("yearly"),
		DataVersion:        types.CurrentDataVersion,
	}
	r := s.ToRecord()
	require.Equal(t, types.SubscriptionPeriodYearly, *r.SubscriptionType)
	require.Equal(t, types.EntitlementPremium, r.Entitlement)

	var nilRow *Subscription
	require.Nil(t, nilRow.ToRecord())
}
