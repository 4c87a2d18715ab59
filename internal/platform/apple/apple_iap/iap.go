package apple_iap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/awa/go-iap/appstore"
	"github.com/awa/go-iap/appstore/api"

	"github.com/fatflowers/entitlement/pkg/types"
)

type ClientOptions struct {
	KeyID        string
	KeyContent   string
	BundleID     string
	Issuer       string
	Sandbox      bool
	SharedSecret string
}

// NewStoreClient builds an App Store Server API client.
func NewStoreClient(opts *ClientOptions) (*api.StoreClient, error) {
	if opts == nil {
		return nil, errors.New("opts is nil")
	}
	if opts.KeyID == "" || opts.KeyContent == "" || opts.Issuer == "" {
		return nil, errors.New("apple iap key_id, key_content and issuer are required")
	}

	c := &api.StoreConfig{
		KeyContent: []byte(opts.KeyContent),
		KeyID:      opts.KeyID,
		BundleID:   opts.BundleID,
		Issuer:     opts.Issuer,
		Sandbox:    opts.Sandbox,
	}
	return api.NewStoreClient(c), nil
}

type ReceiptInfo struct {
	AppAccountToken       string `json:"app_account_token"`
	ProductId             string `json:"product_id"`
	TransactionId         string `json:"transaction_id"`
	OriginalTransactionId string `json:"original_transaction_id"`
	PurchaseDateMs        string `json:"purchase_date_ms"`
	ExpiresDateMs         string `json:"expires_date_ms"`
	CancellationDateMs    string `json:"cancellation_date_ms"`
	IsTrialPeriod         string `json:"is_trial_period"`
	IsInIntroOfferPeriod  string `json:"is_in_intro_offer_period"`
}

type Receipt struct {
	Status            int            `json:"status"`
	Environment       string         `json:"environment"`
	LatestReceiptInfo []*ReceiptInfo `json:"latest_receipt_info"`
}

// ToTransaction maps a legacy receipt line into the transaction shape used everywhere else.
func (r *ReceiptInfo) ToTransaction(environment string) *types.TransactionRecord {
	tx := &types.TransactionRecord{
		TransactionID:         r.TransactionId,
		OriginalTransactionID: r.OriginalTransactionId,
		ProductID:             r.ProductId,
		AppAccountToken:       r.AppAccountToken,
		PurchaseDate:          parseMillis(r.PurchaseDateMs),
		ExpiresDate:           parseMillis(r.ExpiresDateMs),
		RevocationDate:        parseMillis(r.CancellationDateMs),
		Environment:           environment,
	}
	if r.IsTrialPeriod == "true" {
		tx.OfferType = types.OfferTypeIntroductory
		tx.OfferDiscountType = types.OfferDiscountTypeFreeTrial
	} else if r.IsInIntroOfferPeriod == "true" {
		tx.OfferType = types.OfferTypeIntroductory
	}
	return tx
}

func parseMillis(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}

// LatestByExpiry returns receipt lines ordered by expiry, latest last.
func (r *Receipt) LatestByExpiry() []*ReceiptInfo {
	out := append([]*ReceiptInfo(nil), r.LatestReceiptInfo...)
	expiry := func(ri *ReceiptInfo) int64 {
		if v := parseMillis(ri.ExpiresDateMs); v != nil {
			return *v
		}
		return 0
	}
	sort.SliceStable(out, func(i, j int) bool {
		return expiry(out[i]) < expiry(out[j])
	})
	return out
}

// VerifyReceipt validates a legacy base64 receipt with the verifyReceipt endpoint.
func VerifyReceipt(ctx context.Context, receiptData string, opts *ClientOptions) (*Receipt, error) {
	if opts == nil {
		return nil, errors.New("opts is nil")
	}

	client := appstore.New()
	if opts.Sandbox {
		client.ProductionURL = client.SandboxURL
	}

	var result Receipt
	err := client.Verify(ctx, appstore.IAPRequest{
		ReceiptData:            receiptData,
		Password:               opts.SharedSecret,
		ExcludeOldTransactions: false,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to verify receipt: %w", err)
	}
	if result.Status != 0 {
		return nil, &ReceiptStatusError{Status: result.Status}
	}
	return &result, nil
}

// ReceiptStatusError carries a non-zero verifyReceipt status.
type ReceiptStatusError struct {
	Status int
}

func (e *ReceiptStatusError) Error() string {
	return fmt.Sprintf("receipt rejected with status %d", e.Status)
}

// Retryable reports statuses Apple documents as temporary (21005, 21100-21199).
func (e *ReceiptStatusError) Retryable() bool {
	return e.Status == 21005 || (e.Status >= 21100 && e.Status <= 21199)
}
