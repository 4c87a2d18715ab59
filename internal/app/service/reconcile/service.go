// Package reconcile feeds marketplace transactions through the resolver into the store.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/app/service/entitlement"
	"github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/internal/platform/marketplace"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/types"
)

// ErrStore marks failures of the subscription store, as opposed to marketplace or resolver failures.
var ErrStore = errors.New("subscription store failure")

// Store is the part of the subscription store reconciliation writes through.
type Store interface {
	Get(ctx context.Context, userID string) (*types.SubscriptionRecord, error)
	Update(ctx context.Context, userID string, u *types.SubscriptionUpdate, source types.UpdateSource) (*types.SubscriptionRecord, error)
	UpdateIdentifiers(ctx context.Context, userID string, u *types.SubscriptionUpdate, source types.UpdateSource) (*types.SubscriptionRecord, error)
	RecordTransactions(ctx context.Context, userID string, txs []*types.TransactionRecord, source types.UpdateSource) error
}

type Options struct {
	Source           types.UpdateSource
	NotificationType types.NotificationType
	Subtype          string
	Renewal          *types.RenewalRecord
}

type Service struct {
	store    Store
	gateway  marketplace.Gateway
	resolver *entitlement.Resolver
	log      *zap.SugaredLogger
}

func New(store Store, gateway marketplace.Gateway, resolver *entitlement.Resolver, log *zap.SugaredLogger) *Service {
	return &Service{store: store, gateway: gateway, resolver: resolver, log: log}
}

// Apply resolves txs against the user's prior trial flag and persists the result.
// lineage restricts history mode to one original transaction id.
func (s *Service) Apply(ctx context.Context, userID string, txs []*types.TransactionRecord, mode entitlement.Mode, lineage string, opts Options) (*types.SubscriptionRecord, error) {
	prior, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	record, err := s.resolver.Resolve(entitlement.Input{
		Transactions:          txs,
		Mode:                  mode,
		OriginalTransactionID: lineage,
		PriorHasUsedTrial:     prior != nil && prior.HasUsedTrial,
		NotificationType:      opts.NotificationType,
		Subtype:               opts.Subtype,
		Renewal:               opts.Renewal,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", mode, err)
	}

	if err := s.store.RecordTransactions(ctx, userID, txs, opts.Source); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("failed to record transactions", "user_id", userID, "error", err)
	}

	updated, err := s.store.Update(ctx, userID, record.ToUpdate(), opts.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return updated, nil
}

// ReconcileHistory fetches the whole lineage and resolves it in history mode.
func (s *Service) ReconcileHistory(ctx context.Context, userID, originalTransactionID string, opts Options) (*types.SubscriptionRecord, error) {
	txs, err := s.gateway.GetTransactionHistory(ctx, originalTransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	return s.Apply(ctx, userID, txs, entitlement.ModeHistory, originalTransactionID, opts)
}

// PersistIdentifiers writes only the lineage identifiers and expiry of tx, leaving status fields
// and last_updated_at for the next successful reconciliation.
func (s *Service) PersistIdentifiers(ctx context.Context, userID string, tx *types.TransactionRecord, source types.UpdateSource) (*types.SubscriptionRecord, error) {
	if tx == nil {
		return nil, errors.New("transaction is nil")
	}
	u := &types.SubscriptionUpdate{ExpirationDate: tx.ExpiresDate}
	if tx.OriginalTransactionID != "" {
		u.OriginalTransactionID = &tx.OriginalTransactionID
	}
	if tx.TransactionID != "" {
		u.LastTransactionID = &tx.TransactionID
	}
	if tx.ProductID != "" {
		u.ProductID = &tx.ProductID
	}
	record, err := s.store.UpdateIdentifiers(ctx, userID, u, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return record, nil
}

func newStore(svc *subscription.Service) Store { return svc }

var Module = fx.Options(
	fx.Provide(newStore, New),
)
