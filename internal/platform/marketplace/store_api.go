package marketplace

import (
	"context"
	"fmt"

	"github.com/awa/go-iap/appstore/api"
)

// rawStatus is one entry of the subscription status response with its envelopes still signed.
type rawStatus struct {
	GroupID               string
	OriginalTransactionID string
	Status                int
	SignedTransaction     string
	SignedRenewal         string
}

// storeAPI is the part of the App Store Server API the gateway reads. It returns signed envelopes
// only; verification always happens in the gateway.
type storeAPI interface {
	TransactionInfo(ctx context.Context, transactionID string) (string, error)
	TransactionHistory(ctx context.Context, originalTransactionID string) ([]string, error)
	SubscriptionStatuses(ctx context.Context, originalTransactionID string) ([]rawStatus, error)
}

type appleStoreAPI struct {
	client *api.StoreClient
}

func (a *appleStoreAPI) TransactionInfo(ctx context.Context, transactionID string) (string, error) {
	rsp, err := a.client.GetTransactionInfo(ctx, transactionID)
	if err != nil {
		return "", err
	}
	if rsp == nil || rsp.SignedTransactionInfo == "" {
		return "", fmt.Errorf("empty transaction info for %s", transactionID)
	}
	return rsp.SignedTransactionInfo, nil
}

func (a *appleStoreAPI) TransactionHistory(ctx context.Context, originalTransactionID string) ([]string, error) {
	pages, err := a.client.GetTransactionHistory(ctx, originalTransactionID, nil)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, page := range pages {
		if page == nil {
			continue
		}
		out = append(out, page.SignedTransactions...)
	}
	return out, nil
}

func (a *appleStoreAPI) SubscriptionStatuses(ctx context.Context, originalTransactionID string) ([]rawStatus, error) {
	rsp, err := a.client.GetALLSubscriptionStatuses(ctx, originalTransactionID, nil)
	if err != nil {
		return nil, err
	}
	if rsp == nil {
		return nil, nil
	}
	var out []rawStatus
	for _, group := range rsp.Data {
		for _, last := range group.LastTransactions {
			out = append(out, rawStatus{
				GroupID:               group.SubscriptionGroupIdentifier,
				OriginalTransactionID: last.OriginalTransactionId,
				Status:                int(last.Status),
				SignedTransaction:     last.SignedTransactionInfo,
				SignedRenewal:         last.SignedRenewalInfo,
			})
		}
	}
	return out, nil
}
