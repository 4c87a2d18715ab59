// Package refresh decides whether a status check is answered from the store or from the marketplace.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fatflowers/entitlement/internal/app/service/entitlement"
	"github.com/fatflowers/entitlement/internal/app/service/reconcile"
	"github.com/fatflowers/entitlement/internal/platform/marketplace"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/metrics"
	"github.com/fatflowers/entitlement/pkg/types"
)

var (
	ErrEmptyUserID = errors.New("user id is empty")
	// ErrNoLineage means the stored identifiers did not lead to any marketplace transaction.
	ErrNoLineage = errors.New("no marketplace lineage for user")
)

type State string

const (
	StateTestAccount         State = "test_account"
	StateFreshCache          State = "fresh_cache"
	StateUnverified          State = "unverified"
	StateDuplicateSuppressed State = "duplicate_suppressed"
	StateRefreshed           State = "refreshed"
	StateDegraded            State = "degraded"
)

type Result struct {
	Record *types.SubscriptionRecord
	State  State
	// Throttled is set when a recent remote attempt suppressed this one.
	Throttled bool
}

type Controller struct {
	cfg        *config.Config
	store      reconcile.Store
	gateway    marketplace.Gateway
	reconciler *reconcile.Service
	suppressor Suppressor
	log        *zap.SugaredLogger
	now        func() time.Time
	group      singleflight.Group
}

func NewController(cfg *config.Config, store reconcile.Store, gateway marketplace.Gateway, reconciler *reconcile.Service, suppressor Suppressor, log *zap.SugaredLogger) *Controller {
	return &Controller{
		cfg:        cfg,
		store:      store,
		gateway:    gateway,
		reconciler: reconciler,
		suppressor: suppressor,
		log:        log,
		now:        time.Now,
	}
}

// Check returns the user's subscription record, refreshing it from the marketplace when the
// stored copy is older than refresh.cache_ttl or forceRefresh is set.
func (c *Controller) Check(ctx context.Context, userID string, forceRefresh bool) (res *Result, err error) {
	start := time.Now()
	defer func() {
		if res != nil {
			metrics.ObserveBusinessProcess(metrics.BusinessRefresh, string(res.State), start)
		}
	}()

	if userID == "" {
		return nil, ErrEmptyUserID
	}
	log := logctx.FromCtx(ctx, c.log).With("user_id", userID)

	if acc := c.cfg.GetTestAccount(userID); acc != nil {
		return &Result{Record: c.testAccountRecord(acc), State: StateTestAccount}, nil
	}

	stored, err := c.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	if !forceRefresh && stored != nil && !stored.NeedsRefresh && c.now().Sub(stored.LastUpdatedAt) < c.cfg.Refresh.CacheTTL {
		return &Result{Record: stored, State: StateFreshCache}, nil
	}

	if !stored.HasIdentifiers() {
		return &Result{Record: types.Unverified(), State: StateUnverified}, nil
	}

	if forceRefresh {
		if err := c.suppressor.Mark(ctx, userID); err != nil {
			log.Warnw("failed to mark refresh attempt", "error", err)
		}
	} else {
		acquired, err := c.suppressor.Acquire(ctx, userID)
		if err != nil {
			log.Warnw("refresh suppressor unavailable", "error", err)
			acquired = true
		}
		if !acquired {
			log.Debugw("refresh suppressed", "state", StateDuplicateSuppressed)
			return &Result{Record: stored, State: StateDuplicateSuppressed, Throttled: true}, nil
		}
	}

	// Coalesced callers share the first caller's work, so one cancelled request must not fail the rest.
	v, err, _ := c.group.Do(userID, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx), userID, stored)
	})
	if err != nil {
		log.Warnw("subscription refresh failed, serving stored record", "state", StateDegraded, "error", err)
		return &Result{Record: stored, State: StateDegraded}, nil
	}
	record := v.(*types.SubscriptionRecord)
	log.Infow("subscription refreshed", "state", record.SubscriptionStatus, "entitlement", record.Entitlement)
	return &Result{Record: record, State: StateRefreshed}, nil
}

// refresh fetches the current transaction and renewal of the stored lineage and persists the
// single-mode resolution.
func (c *Controller) refresh(ctx context.Context, userID string, stored *types.SubscriptionRecord) (*types.SubscriptionRecord, error) {
	var (
		tx      *types.TransactionRecord
		renewal *types.RenewalRecord
	)
	if otid := stored.OriginalTransactionID; otid != "" {
		groups, err := c.gateway.GetSubscriptionStatus(ctx, otid)
		if err != nil && !marketplace.IsKind(err, marketplace.ErrorKindNotFound) {
			return nil, err
		}
		if item := pickStatusItem(groups, otid); item != nil {
			tx, renewal = item.Transaction, item.Renewal
		}
	}
	if tx == nil && stored.LastTransactionID != "" {
		var err error
		if tx, err = c.gateway.GetTransactionInfo(ctx, stored.LastTransactionID); err != nil {
			return nil, err
		}
	}
	if tx == nil {
		return nil, ErrNoLineage
	}

	return c.reconciler.Apply(ctx, userID, []*types.TransactionRecord{tx}, entitlement.ModeSingle, "", reconcile.Options{
		Source:  types.UpdateSourceCheckSubscriptionStatus,
		Renewal: renewal,
	})
}

// Reconcile rebuilds the user's record from the full history of the stored lineage.
func (c *Controller) Reconcile(ctx context.Context, userID string) (*types.SubscriptionRecord, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	stored, err := c.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if !stored.HasIdentifiers() {
		return nil, ErrNoLineage
	}

	otid := stored.OriginalTransactionID
	if otid == "" {
		tx, err := c.gateway.GetTransactionInfo(ctx, stored.LastTransactionID)
		if err != nil {
			return nil, err
		}
		otid = tx.OriginalTransactionID
	}
	if err := c.suppressor.Mark(ctx, userID); err != nil {
		logctx.FromCtx(ctx, c.log).Warnw("failed to mark refresh attempt", "user_id", userID, "error", err)
	}
	return c.reconciler.ReconcileHistory(ctx, userID, otid, reconcile.Options{Source: types.UpdateSourceCheckSubscriptionStatus})
}

// pickStatusItem prefers the entry of the stored lineage and otherwise the latest-expiring entry,
// which covers a customer who moved to another subscription group.
func pickStatusItem(groups []types.StatusGroup, otid string) *types.StatusItem {
	var match, latest *types.StatusItem
	for gi := range groups {
		for ii := range groups[gi].Items {
			item := &groups[gi].Items[ii]
			if item.Transaction == nil {
				continue
			}
			if item.OriginalTransactionID == otid && (match == nil || item.Transaction.ExpiresAt() > match.Transaction.ExpiresAt()) {
				match = item
			}
			if latest == nil || item.Transaction.ExpiresAt() > latest.Transaction.ExpiresAt() {
				latest = item
			}
		}
	}
	if match != nil {
		return match
	}
	return latest
}

func (c *Controller) testAccountRecord(acc *types.TestAccount) *types.SubscriptionRecord {
	rec := &types.SubscriptionRecord{
		Entitlement:        lo.Ternary(acc.Entitlement != "", acc.Entitlement, types.EntitlementPremium),
		SubscriptionStatus: lo.Ternary(acc.Status != "", acc.Status, types.SubscriptionStatusActive),
		HasUsedTrial:       acc.HasUsedTrial,
		LastUpdatedAt:      c.now().UTC(),
		DataVersion:        types.CurrentDataVersion,
	}
	rec.AutoRenewEnabled = rec.Entitlement.HasAccess()
	if acc.SubscriptionType != "" {
		rec.SubscriptionType = lo.ToPtr(acc.SubscriptionType)
	}
	return rec
}
