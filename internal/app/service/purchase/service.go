// Package purchase links a client-reported purchase to the calling user.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/app/service/entitlement"
	"github.com/fatflowers/entitlement/internal/app/service/reconcile"
	"github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/internal/platform/apple/apple_iap"
	"github.com/fatflowers/entitlement/internal/platform/marketplace"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/metrics"
	"github.com/fatflowers/entitlement/pkg/types"
)

var (
	ErrMissingPurchase = errors.New("signed_transaction or receipt_data is required")
	// ErrTokenMismatch means the transaction's appAccountToken was issued for another user.
	ErrTokenMismatch = errors.New("transaction app account token does not match user")
	// ErrTransactionOwnedByOtherUser means the lineage is already linked to another user.
	ErrTransactionOwnedByOtherUser = errors.New("transaction belongs to another user")
)

type Request struct {
	UserID            string
	SignedTransaction string
	ReceiptData       string
}

// Result carries the lineage identifiers, plus the full record when purchase.response_mode is record.
type Result struct {
	TransactionID         string                    `json:"transaction_id"`
	OriginalTransactionID string                    `json:"original_transaction_id"`
	ProductID             string                    `json:"product_id"`
	ExpirationDate        *int64                    `json:"expiration_date,omitempty"`
	Subscription          *types.SubscriptionRecord `json:"subscription,omitempty"`
}

type OwnerLookup interface {
	FindUserByOriginalTransactionID(ctx context.Context, originalTransactionID string) (string, error)
}

type Reconciler interface {
	Apply(ctx context.Context, userID string, txs []*types.TransactionRecord, mode entitlement.Mode, lineage string, opts reconcile.Options) (*types.SubscriptionRecord, error)
}

type Service struct {
	cfg        *config.Config
	gateway    marketplace.Gateway
	owners     OwnerLookup
	reconciler Reconciler
	log        *zap.SugaredLogger
}

func New(cfg *config.Config, gateway marketplace.Gateway, owners OwnerLookup, reconciler Reconciler, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, gateway: gateway, owners: owners, reconciler: reconciler, log: log}
}

func NewService(cfg *config.Config, gateway marketplace.Gateway, sub *subscription.Service, rec *reconcile.Service, log *zap.SugaredLogger) *Service {
	return New(cfg, gateway, sub, rec, log)
}

// Sync verifies the purchase, checks it belongs to req.UserID and persists the resolved record.
// A signed transaction is resolved on its own; a legacy receipt is resolved over the history it carries.
func (s *Service) Sync(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.UserID == "" {
		return nil, errors.New("user id is empty")
	}
	switch {
	case req.SignedTransaction != "":
		return s.syncSigned(ctx, req.UserID, req.SignedTransaction)
	case req.ReceiptData != "":
		return s.syncReceipt(ctx, req.UserID, req.ReceiptData)
	}
	return nil, ErrMissingPurchase
}

func (s *Service) syncSigned(ctx context.Context, userID, envelope string) (*Result, error) {
	defer metrics.ObserveBusinessProcess(metrics.BusinessSync, "signed_transaction", time.Now())

	tx, err := s.gateway.VerifyTransaction(ctx, envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to verify transaction: %w", err)
	}
	if err := s.checkOwnership(ctx, userID, tx); err != nil {
		return nil, err
	}
	record, err := s.reconciler.Apply(ctx, userID, []*types.TransactionRecord{tx}, entitlement.ModeSingle, "", reconcile.Options{
		Source: types.UpdateSourceSyncPurchaseInfo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sync purchase: %w", err)
	}
	return s.result(tx, record), nil
}

func (s *Service) syncReceipt(ctx context.Context, userID, receiptData string) (*Result, error) {
	defer metrics.ObserveBusinessProcess(metrics.BusinessSync, "receipt", time.Now())

	txs, err := s.gateway.VerifyReceipt(ctx, receiptData)
	if err != nil {
		return nil, fmt.Errorf("failed to verify receipt: %w", err)
	}
	latest := latestByExpiry(txs)
	if latest == nil {
		return nil, fmt.Errorf("failed to verify receipt: %w", entitlement.ErrNoTransactions)
	}
	if err := s.checkOwnership(ctx, userID, latest); err != nil {
		return nil, err
	}
	record, err := s.reconciler.Apply(ctx, userID, txs, entitlement.ModeHistory, latest.OriginalTransactionID, reconcile.Options{
		Source: types.UpdateSourceSyncPurchaseInfo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sync receipt: %w", err)
	}
	return s.result(latest, record), nil
}

func (s *Service) checkOwnership(ctx context.Context, userID string, tx *types.TransactionRecord) error {
	log := logctx.FromCtx(ctx, s.log)
	if tx.AppAccountToken != "" && !apple_iap.TokenMatchesUser(tx.AppAccountToken, userID) {
		log.Errorw("purchase app account token mismatch",
			"user_id", userID, "transaction_id", tx.TransactionID, "app_account_token", tx.AppAccountToken)
		return ErrTokenMismatch
	}
	owner, err := s.owners.FindUserByOriginalTransactionID(ctx, tx.OriginalTransactionID)
	if err != nil {
		return fmt.Errorf("%w: %w", reconcile.ErrStore, err)
	}
	if owner != "" && owner != userID {
		log.Warnw("purchase lineage owned by another user",
			"user_id", userID, "owner_id", owner, "original_transaction_id", tx.OriginalTransactionID)
		return ErrTransactionOwnedByOtherUser
	}
	return nil
}

func (s *Service) result(tx *types.TransactionRecord, record *types.SubscriptionRecord) *Result {
	out := &Result{
		TransactionID:         tx.TransactionID,
		OriginalTransactionID: tx.OriginalTransactionID,
		ProductID:             tx.ProductID,
		ExpirationDate:        record.ExpirationDate,
	}
	if s.cfg.Purchase.ResponseMode == config.PurchaseResponseRecord {
		out.Subscription = record
	}
	return out
}

func latestByExpiry(txs []*types.TransactionRecord) *types.TransactionRecord {
	var latest *types.TransactionRecord
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		if latest == nil || tx.ExpiresAt() > latest.ExpiresAt() ||
			(tx.ExpiresAt() == latest.ExpiresAt() && tx.PurchasedAt() > latest.PurchasedAt()) {
			latest = tx
		}
	}
	return latest
}

var Module = fx.Options(
	fx.Provide(NewService),
)
