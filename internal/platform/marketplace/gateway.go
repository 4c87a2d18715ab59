// Package marketplace is the single boundary to the App Store: signed payload verification and
// App Store Server API reads. Every failure leaves this package as a *Error.
package marketplace

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatflowers/entitlement/pkg/types"
)

// Gateway is the marketplace abstraction consumed by the reconciliation services.
type Gateway interface {
	// VerifySignedPayload verifies a server notification envelope and its bundle/environment binding.
	VerifySignedPayload(ctx context.Context, envelope string) (*types.Notification, error)
	// VerifyTransaction verifies a signed transaction envelope.
	VerifyTransaction(ctx context.Context, envelope string) (*types.TransactionRecord, error)
	// VerifyRenewal verifies a signed renewal info envelope.
	VerifyRenewal(ctx context.Context, envelope string) (*types.RenewalRecord, error)

	GetTransactionInfo(ctx context.Context, transactionID string) (*types.TransactionRecord, error)
	// GetTransactionHistory returns every transaction of the lineage, all pages.
	GetTransactionHistory(ctx context.Context, originalTransactionID string) ([]*types.TransactionRecord, error)
	// GetSubscriptionStatus returns the latest transaction and renewal per subscription group.
	GetSubscriptionStatus(ctx context.Context, originalTransactionID string) ([]types.StatusGroup, error)
	// VerifyReceipt validates a legacy app receipt and returns its transactions.
	VerifyReceipt(ctx context.Context, receiptData string) ([]*types.TransactionRecord, error)
}

type ErrorKind string

const (
	// ErrorKindVerification covers signature, certificate chain, bundle and environment failures.
	ErrorKindVerification ErrorKind = "verification"
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindUnavailable  ErrorKind = "unavailable"
	ErrorKindInvalid      ErrorKind = "invalid"
)

// Error is the only error type returned by a Gateway.
type Error struct {
	Op        string
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("marketplace %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("marketplace %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a marketplace error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == kind
}
