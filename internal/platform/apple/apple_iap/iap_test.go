package apple_iap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/entitlement/pkg/types"
)

func TestReceiptInfo_ToTransaction(t *testing.T) {
	ri := &ReceiptInfo{
		ProductId:             "com.example.premium.monthly",
		TransactionId:         "2",
		OriginalTransactionId: "1",
		PurchaseDateMs:        "1700000000000",
		ExpiresDateMs:         "1700604800000",
		IsTrialPeriod:         "true",
	}
	tx := ri.ToTransaction(types.EnvironmentProduction)
	require.Equal(t, "1", tx.OriginalTransactionID)
	require.Equal(t, int64(1700604800000), tx.ExpiresAt())
	require.Equal(t, types.OfferTypeIntroductory, tx.OfferType)
	require.Equal(t, types.OfferDiscountTypeFreeTrial, tx.OfferDiscountType)
	require.False(t, tx.Revoked())

	ri.IsTrialPeriod = "false"
	ri.CancellationDateMs = "1700100000000"
	tx = ri.ToTransaction(types.EnvironmentProduction)
	require.Zero(t, tx.OfferType)
	require.True(t, tx.Revoked())
}

func TestReceipt_LatestByExpiry(t *testing.T) {
	r := &Receipt{LatestReceiptInfo: []*ReceiptInfo{
		{TransactionId: "b", ExpiresDateMs: "1700000000000"},
		{TransactionId: "c", ExpiresDateMs: "999"},
		{TransactionId: "a", ExpiresDateMs: "1800000000000"},
	}}
	out := r.LatestByExpiry()
	require.Equal(t, []string{"c", "b", "a"}, []string{out[0].TransactionId, out[1].TransactionId, out[2].TransactionId})
	require.Equal(t, "b", r.LatestReceiptInfo[0].TransactionId)
}

func TestNewStoreClient_RequiresCredentials(t *testing.T) {
	_, err := NewStoreClient(nil)
	require.Error(t, err)
	_, err = NewStoreClient(&ClientOptions{KeyID: "k"})
	require.Error(t, err)
}

func TestReceiptStatusError_Retryable(t *testing.T) {
	require.True(t, (&ReceiptStatusError{Status: 21005}).Retryable())
	require.True(t, (&ReceiptStatusError{Status: 21150}).Retryable())
	require.False(t, (&ReceiptStatusError{Status: 21003}).Retryable())
	require.Contains(t, (&ReceiptStatusError{Status: 21003}).Error(), "21003")
}
