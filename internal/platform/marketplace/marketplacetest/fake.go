// Package marketplacetest provides an in-memory marketplace.Gateway for service tests.
package marketplacetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/fatflowers/entitlement/internal/platform/marketplace"
	"github.com/fatflowers/entitlement/pkg/types"
)

// Operation names used as keys of Fake.Errs and Fake.Calls.
const (
	OpVerifyPayload     = "verify_notification"
	OpVerifyTransaction = "verify_transaction"
	OpVerifyRenewal     = "verify_renewal"
	OpTransactionInfo   = "get_transaction_info"
	OpHistory           = "get_transaction_history"
	OpStatus            = "get_subscription_status"
	OpReceipt           = "verify_receipt"
)

// Fake answers from maps keyed by envelope or identifier. Unknown envelopes fail verification
// and unknown identifiers are not found.
type Fake struct {
	mu sync.Mutex

	Notifications map[string]*types.Notification
	Transactions  map[string]*types.TransactionRecord
	Renewals      map[string]*types.RenewalRecord
	Info          map[string]*types.TransactionRecord
	History       map[string][]*types.TransactionRecord
	Statuses      map[string][]types.StatusGroup
	Receipts      map[string][]*types.TransactionRecord

	// Errs forces an operation to fail.
	Errs  map[string]error
	Calls map[string]int
}

func New() *Fake {
	return &Fake{
		Notifications: map[string]*types.Notification{},
		Transactions:  map[string]*types.TransactionRecord{},
		Renewals:      map[string]*types.RenewalRecord{},
		Info:          map[string]*types.TransactionRecord{},
		History:       map[string][]*types.TransactionRecord{},
		Statuses:      map[string][]types.StatusGroup{},
		Receipts:      map[string][]*types.TransactionRecord{},
		Errs:          map[string]error{},
		Calls:         map[string]int{},
	}
}

// CallCount returns how often op was invoked.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

func (f *Fake) enter(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[op]++
	return f.Errs[op]
}

func notFound(op, key string) error {
	return &marketplace.Error{Op: op, Kind: marketplace.ErrorKindNotFound, Err: fmt.Errorf("%s not found", key)}
}

func unverified(op string) error {
	return &marketplace.Error{Op: op, Kind: marketplace.ErrorKindVerification, Err: fmt.Errorf("untrusted envelope")}
}

func (f *Fake) VerifySignedPayload(ctx context.Context, envelope string) (*types.Notification, error) {
	if err := f.enter(OpVerifyPayload); err != nil {
		return nil, err
	}
	if n, ok := f.Notifications[envelope]; ok {
		cp := *n
		return &cp, nil
	}
	return nil, unverified(OpVerifyPayload)
}

func (f *Fake) VerifyTransaction(ctx context.Context, envelope string) (*types.TransactionRecord, error) {
	if err := f.enter(OpVerifyTransaction); err != nil {
		return nil, err
	}
	if tx, ok := f.Transactions[envelope]; ok {
		cp := *tx
		return &cp, nil
	}
	return nil, unverified(OpVerifyTransaction)
}

func (f *Fake) VerifyRenewal(ctx context.Context, envelope string) (*types.RenewalRecord, error) {
	if err := f.enter(OpVerifyRenewal); err != nil {
		return nil, err
	}
	if r, ok := f.Renewals[envelope]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, unverified(OpVerifyRenewal)
}

func (f *Fake) GetTransactionInfo(ctx context.Context, transactionID string) (*types.TransactionRecord, error) {
	if err := f.enter(OpTransactionInfo); err != nil {
		return nil, err
	}
	if tx, ok := f.Info[transactionID]; ok {
		cp := *tx
		return &cp, nil
	}
	return nil, notFound(OpTransactionInfo, transactionID)
}

func (f *Fake) GetTransactionHistory(ctx context.Context, originalTransactionID string) ([]*types.TransactionRecord, error) {
	if err := f.enter(OpHistory); err != nil {
		return nil, err
	}
	if txs, ok := f.History[originalTransactionID]; ok {
		return txs, nil
	}
	return nil, notFound(OpHistory, originalTransactionID)
}

func (f *Fake) GetSubscriptionStatus(ctx context.Context, originalTransactionID string) ([]types.StatusGroup, error) {
	if err := f.enter(OpStatus); err != nil {
		return nil, err
	}
	if groups, ok := f.Statuses[originalTransactionID]; ok {
		return groups, nil
	}
	return nil, notFound(OpStatus, originalTransactionID)
}

func (f *Fake) VerifyReceipt(ctx context.Context, receiptData string) ([]*types.TransactionRecord, error) {
	if err := f.enter(OpReceipt); err != nil {
		return nil, err
	}
	if txs, ok := f.Receipts[receiptData]; ok {
		return txs, nil
	}
	return nil, &marketplace.Error{Op: OpReceipt, Kind: marketplace.ErrorKindInvalid, Err: fmt.Errorf("receipt rejected")}
}

var _ marketplace.Gateway = (*Fake)(nil)
