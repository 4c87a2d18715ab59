package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/platform/apple/apple_iap"
	"github.com/fatflowers/entitlement/internal/platform/apple/jws"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/metrics"
	"github.com/fatflowers/entitlement/pkg/types"
)

const maxAttempts = 2

type receiptVerifier func(ctx context.Context, receiptData string) (*apple_iap.Receipt, error)

// Apple implements Gateway on top of the App Store Server API and verifyReceipt.
type Apple struct {
	iap      config.AppleIAPConfig
	timeout  time.Duration
	backoff  time.Duration
	verifier *jws.Verifier
	store    storeAPI
	receipts receiptVerifier
	logger   *zap.SugaredLogger
}

// NewApple wires the production gateway. Without API keys the remote reads fail as unavailable
// while signed payload verification keeps working.
func NewApple(cfg *config.Config, logger *zap.SugaredLogger) (*Apple, error) {
	verifier, err := jws.NewVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to init verifier: %w", err)
	}

	opts := &apple_iap.ClientOptions{
		KeyID:        cfg.AppleIAP.KeyID,
		KeyContent:   cfg.AppleIAP.KeyContent,
		BundleID:     cfg.AppleIAP.BundleID,
		Issuer:       cfg.AppleIAP.Issuer,
		Sandbox:      !cfg.AppleIAP.IsProd,
		SharedSecret: cfg.AppleIAP.SharedSecret,
	}
	var store storeAPI
	client, err := apple_iap.NewStoreClient(opts)
	if err != nil {
		logger.Warnw("app store server api disabled", "error", err)
	} else {
		store = &appleStoreAPI{client: client}
	}

	receipts := func(ctx context.Context, receiptData string) (*apple_iap.Receipt, error) {
		return apple_iap.VerifyReceipt(ctx, receiptData, opts)
	}
	return newApple(cfg, logger, verifier, store, receipts), nil
}

func newApple(cfg *config.Config, logger *zap.SugaredLogger, verifier *jws.Verifier, store storeAPI, receipts receiptVerifier) *Apple {
	return &Apple{
		iap:      cfg.AppleIAP,
		timeout:  cfg.Marketplace.Timeout,
		backoff:  cfg.Marketplace.RetryBackoff,
		verifier: verifier,
		store:    store,
		receipts: receipts,
		logger:   logger,
	}
}

func (a *Apple) VerifySignedPayload(ctx context.Context, envelope string) (*types.Notification, error) {
	const op = "verify_notification"
	n, err := a.verifier.VerifyNotification(envelope)
	if err != nil {
		return nil, verificationError(op, err)
	}
	if err := a.checkBinding(n.BundleID, n.Environment); err != nil {
		return nil, &Error{Op: op, Kind: ErrorKindVerification, Err: err}
	}
	return n, nil
}

func (a *Apple) VerifyTransaction(ctx context.Context, envelope string) (*types.TransactionRecord, error) {
	const op = "verify_transaction"
	tx, err := a.verifier.VerifyTransaction(envelope)
	if err != nil {
		return nil, verificationError(op, err)
	}
	if err := a.checkBinding(tx.BundleID, tx.Environment); err != nil {
		return nil, &Error{Op: op, Kind: ErrorKindVerification, Err: err}
	}
	return tx, nil
}

func (a *Apple) VerifyRenewal(ctx context.Context, envelope string) (*types.RenewalRecord, error) {
	const op = "verify_renewal"
	r, err := a.verifier.VerifyRenewal(envelope)
	if err != nil {
		return nil, verificationError(op, err)
	}
	if err := a.checkBinding("", r.Environment); err != nil {
		return nil, &Error{Op: op, Kind: ErrorKindVerification, Err: err}
	}
	return r, nil
}

func (a *Apple) GetTransactionInfo(ctx context.Context, transactionID string) (*types.TransactionRecord, error) {
	const op = "get_transaction_info"
	if transactionID == "" {
		return nil, &Error{Op: op, Kind: ErrorKindInvalid, Err: errors.New("transaction id is empty")}
	}
	store, err := a.storeFor(op)
	if err != nil {
		return nil, err
	}

	var signed string
	if err := a.call(ctx, op, func(ctx context.Context) error {
		var err error
		signed, err = store.TransactionInfo(ctx, transactionID)
		return err
	}); err != nil {
		return nil, err
	}
	return a.VerifyTransaction(ctx, signed)
}

func (a *Apple) GetTransactionHistory(ctx context.Context, originalTransactionID string) ([]*types.TransactionRecord, error) {
	const op = "get_transaction_history"
	if originalTransactionID == "" {
		return nil, &Error{Op: op, Kind: ErrorKindInvalid, Err: errors.New("original transaction id is empty")}
	}
	store, err := a.storeFor(op)
	if err != nil {
		return nil, err
	}

	var signed []string
	if err := a.call(ctx, op, func(ctx context.Context) error {
		var err error
		signed, err = store.TransactionHistory(ctx, originalTransactionID)
		return err
	}); err != nil {
		return nil, err
	}
	if len(signed) == 0 {
		return nil, &Error{Op: op, Kind: ErrorKindNotFound, Err: fmt.Errorf("no transactions for %s", originalTransactionID)}
	}

	out := make([]*types.TransactionRecord, 0, len(signed))
	for _, s := range signed {
		tx, err := a.VerifyTransaction(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (a *Apple) GetSubscriptionStatus(ctx context.Context, originalTransactionID string) ([]types.StatusGroup, error) {
	const op = "get_subscription_status"
	if originalTransactionID == "" {
		return nil, &Error{Op: op, Kind: ErrorKindInvalid, Err: errors.New("original transaction id is empty")}
	}
	store, err := a.storeFor(op)
	if err != nil {
		return nil, err
	}

	var raw []rawStatus
	if err := a.call(ctx, op, func(ctx context.Context) error {
		var err error
		raw, err = store.SubscriptionStatuses(ctx, originalTransactionID)
		return err
	}); err != nil {
		return nil, err
	}

	var groups []types.StatusGroup
	index := map[string]int{}
	for _, r := range raw {
		item := types.StatusItem{OriginalTransactionID: r.OriginalTransactionID, Status: r.Status}
		if r.SignedTransaction != "" {
			if item.Transaction, err = a.VerifyTransaction(ctx, r.SignedTransaction); err != nil {
				return nil, err
			}
		}
		if r.SignedRenewal != "" {
			if item.Renewal, err = a.VerifyRenewal(ctx, r.SignedRenewal); err != nil {
				return nil, err
			}
		}
		i, ok := index[r.GroupID]
		if !ok {
			i = len(groups)
			index[r.GroupID] = i
			groups = append(groups, types.StatusGroup{SubscriptionGroupIdentifier: r.GroupID})
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	if len(groups) == 0 {
		return nil, &Error{Op: op, Kind: ErrorKindNotFound, Err: fmt.Errorf("no subscription status for %s", originalTransactionID)}
	}
	return groups, nil
}

func (a *Apple) VerifyReceipt(ctx context.Context, receiptData string) ([]*types.TransactionRecord, error) {
	const op = "verify_receipt"
	if receiptData == "" {
		return nil, &Error{Op: op, Kind: ErrorKindInvalid, Err: errors.New("receipt data is empty")}
	}

	var receipt *apple_iap.Receipt
	if err := a.call(ctx, op, func(ctx context.Context) error {
		var err error
		receipt, err = a.receipts(ctx, receiptData)
		return err
	}); err != nil {
		return nil, err
	}
	if err := a.checkBinding("", receipt.Environment); err != nil {
		return nil, &Error{Op: op, Kind: ErrorKindVerification, Err: err}
	}

	lines := receipt.LatestByExpiry()
	if len(lines) == 0 {
		return nil, &Error{Op: op, Kind: ErrorKindNotFound, Err: errors.New("receipt has no subscription transactions")}
	}
	out := make([]*types.TransactionRecord, 0, len(lines))
	for _, line := range lines {
		out = append(out, line.ToTransaction(receipt.Environment))
	}
	return out, nil
}

func (a *Apple) storeFor(op string) (storeAPI, error) {
	if a.store == nil {
		return nil, &Error{Op: op, Kind: ErrorKindUnavailable, Err: errors.New("app store server api is not configured")}
	}
	return a.store, nil
}

// checkBinding rejects payloads signed for another app or for the sandbox in production.
func (a *Apple) checkBinding(bundleID, environment string) error {
	if bundleID != "" && a.iap.BundleID != "" && bundleID != a.iap.BundleID {
		return fmt.Errorf("bundle id %q does not match %q", bundleID, a.iap.BundleID)
	}
	if a.iap.IsProd && environment == types.EnvironmentSandbox && !a.iap.AllowSandbox {
		return errors.New("sandbox payload rejected in production")
	}
	return nil
}

// call runs fn with the per-call timeout and at most one retry for retryable failures.
func (a *Apple) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer metrics.ObserveBusinessProcess(metrics.BusinessMarketplace, op, start)

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			logctx.FromCtx(ctx, a.logger).Warnw("retrying marketplace call", "op", op, "error", err)
			t := time.NewTimer(a.backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return &Error{Op: op, Kind: ErrorKindUnavailable, Err: ctx.Err()}
			case <-t.C:
			}
		}

		callCtx := ctx
		cancel := func() {}
		if a.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		}
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !isRetryable(err) {
			break
		}
	}
	return classify(op, err)
}

func verificationError(op string, err error) *Error {
	if errors.Is(err, jws.ErrVerification) {
		return &Error{Op: op, Kind: ErrorKindVerification, Err: err}
	}
	return &Error{Op: op, Kind: ErrorKindInvalid, Err: err}
}

func classify(op string, err error) *Error {
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	e := &Error{Op: op, Kind: ErrorKindUnavailable, Retryable: isRetryable(err), Err: err}
	var rs *apple_iap.ReceiptStatusError
	if errors.As(err, &rs) && !rs.Retryable() {
		e.Kind = ErrorKindInvalid
	}
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) && sc.StatusCode() == http.StatusNotFound {
		e.Kind = ErrorKindNotFound
	}
	return e
}

// isRetryable treats timeouts, 429 and 5xx as transient. Library errors that know better
// answer through a Retryable method.
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	return false
}

func newGateway(cfg *config.Config, logger *zap.SugaredLogger) (Gateway, error) {
	g, err := NewApple(cfg, logger)
	if err != nil {
		return nil, err
	}
	return g, nil
}

var Module = fx.Options(
	fx.Provide(newGateway),
)
