package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/internal/platform/mq"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/tool"
	"github.com/fatflowers/entitlement/pkg/types"
)

var ErrInvalidUpdate = errors.New("invalid subscription update")

// lastUpdatedAtMonotonic keeps the newer of the stored and incoming stamps.
const lastUpdatedAtMonotonic = "CASE WHEN subscription.last_updated_at > excluded.last_updated_at " +
	"THEN subscription.last_updated_at ELSE excluded.last_updated_at END"

// Service is the store adapter for canonical subscription records and the transaction ledger.
type Service struct {
	cfg       *config.Config
	db        *gorm.DB
	log       *zap.SugaredLogger
	publisher mq.Publisher
	now       func() time.Time
}

func NewService(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger, publisher mq.Publisher) *Service {
	return &Service{cfg: cfg, db: db, log: log, publisher: publisher, now: time.Now}
}

// Get returns the stored record for userID, or nil when the user has none.
func (s *Service) Get(ctx context.Context, userID string) (*types.SubscriptionRecord, error) {
	row, err := s.getRow(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	return row.ToRecord(), nil
}

func (s *Service) getRow(ctx context.Context, tx *gorm.DB, userID string) (*models.Subscription, error) {
	var row models.Subscription
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &row, nil
}

// Update merges the non-nil fields of u into the user's record and returns the merged record.
// has_used_trial is only ever written as true and last_updated_at never moves backwards.
func (s *Service) Update(ctx context.Context, userID string, u *types.SubscriptionUpdate, source types.UpdateSource) (*types.SubscriptionRecord, error) {
	return s.update(ctx, userID, u, source, true)
}

// UpdateIdentifiers merges u like Update but leaves last_updated_at alone and sets
// needs_refresh, so the next check reconciles remotely. Update clears the flag.
func (s *Service) UpdateIdentifiers(ctx context.Context, userID string, u *types.SubscriptionUpdate, source types.UpdateSource) (*types.SubscriptionRecord, error) {
	return s.update(ctx, userID, u, source, false)
}

func (s *Service) update(ctx context.Context, userID string, u *types.SubscriptionUpdate, source types.UpdateSource, touch bool) (*types.SubscriptionRecord, error) {
	if userID == "" || u == nil || !source.Valid() {
		return nil, fmt.Errorf("%w: user_id=%q source=%q", ErrInvalidUpdate, userID, source)
	}

	row, columns := s.mergeRow(userID, u, source)
	row.NeedsRefresh = !touch
	assignments := clause.AssignmentColumns(append(columns, "needs_refresh"))
	if touch {
		assignments = append(assignments, clause.Assignment{
			Column: clause.Column{Name: "last_updated_at"},
			Value:  gorm.Expr(lastUpdatedAtMonotonic),
		})
	}

	var before, after *models.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if before, err = s.getRow(ctx, tx, userID); err != nil {
			return err
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: assignments,
		}).Create(row).Error; err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}

		if after, err = s.getRow(ctx, tx, userID); err != nil {
			return err
		}
		if after == nil {
			return fmt.Errorf("subscription for %s missing after upsert", userID)
		}

		log := &models.SubscriptionLog{
			ID:     tool.GenerateUUIDV7(),
			UserID: userID,
			Reason: source,
			Before: datatypes.NewJSONType(before.ToRecord()),
			After:  datatypes.NewJSONType(after.ToRecord()),
			Extra:  datatypes.JSONMap{"trace_id": logctx.TraceID(ctx)},
		}
		if err := tx.Create(log).Error; err != nil {
			return fmt.Errorf("failed to save subscription log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	record := after.ToRecord()
	logctx.FromCtx(ctx, s.log).Infow("subscription updated",
		"user_id", userID,
		"source", source,
		"entitlement", record.Entitlement,
		"state", record.SubscriptionStatus,
	)
	s.handleSubscriptionChange(ctx, userID, before.ToRecord(), record, source)
	return record, nil
}

// mergeRow builds the insert row and the list of columns an existing row takes from it.
func (s *Service) mergeRow(userID string, u *types.SubscriptionUpdate, source types.UpdateSource) (*models.Subscription, []string) {
	row := &models.Subscription{
		ID:                 tool.GenerateUUIDV7(),
		UserID:             userID,
		Entitlement:        types.EntitlementFree,
		SubscriptionStatus: types.SubscriptionStatusNeverSubscribed,
		LastUpdatedAt:      s.now().UTC(),
		LastUpdateSource:   source,
		DataVersion:        types.CurrentDataVersion,
	}
	columns := []string{"last_update_source", "data_version", "updated_at"}

	if u.Entitlement != nil {
		row.Entitlement = *u.Entitlement
		columns = append(columns, "entitlement")
	}
	if u.SubscriptionStatus != nil {
		row.SubscriptionStatus = *u.SubscriptionStatus
		columns = append(columns, "subscription_status")
	}
	if u.HasUsedTrial != nil && *u.HasUsedTrial {
		row.HasUsedTrial = true
		columns = append(columns, "has_used_trial")
	}
	if u.AutoRenewEnabled != nil {
		row.AutoRenewEnabled = *u.AutoRenewEnabled
		columns = append(columns, "auto_renew_enabled")
	}
	if u.SubscriptionType != nil {
		row.SubscriptionType = lo.ToPtr(string(*u.SubscriptionType))
		columns = append(columns, "subscription_type")
	}
	if u.ExpirationDate != nil {
		row.ExpirationDate = lo.ToPtr(*u.ExpirationDate)
		columns = append(columns, "expiration_date")
	}
	if v := lo.FromPtr(u.OriginalTransactionID); v != "" {
		row.OriginalTransactionID = v
		columns = append(columns, "original_transaction_id")
	}
	if v := lo.FromPtr(u.LastTransactionID); v != "" {
		row.LastTransactionID = v
		columns = append(columns, "last_transaction_id")
	}
	if v := lo.FromPtr(u.ProductID); v != "" {
		row.ProductID = v
		columns = append(columns, "product_id")
	}
	return row, columns
}

// FindUserByOriginalTransactionID maps a lineage to its owner. The canonical record is
// authoritative; the ledger is consulted only when store.legacy_lookup_fallback is on.
func (s *Service) FindUserByOriginalTransactionID(ctx context.Context, originalTransactionID string) (string, error) {
	if originalTransactionID == "" {
		return "", nil
	}

	var row models.Subscription
	err := s.db.WithContext(ctx).
		Where("original_transaction_id = ?", originalTransactionID).
		Order("last_updated_at desc").
		First(&row).Error
	if err == nil {
		return row.UserID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to find subscription owner: %w", err)
	}

	if !s.cfg.Store.LegacyLookupFallback {
		return "", nil
	}
	var ledger models.Transaction
	err = s.db.WithContext(ctx).
		Where("provider_id = ? AND original_transaction_id = ?", types.PaymentProviderApple, originalTransactionID).
		Order("created_at desc").
		First(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to find ledger owner: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Warnw("owner resolved from ledger fallback",
		"original_transaction_id", originalTransactionID, "user_id", ledger.UserID)
	return ledger.UserID, nil
}

var listFilterFields = map[string]bool{
	"user_id":                 true,
	"entitlement":             true,
	"subscription_status":     true,
	"subscription_type":       true,
	"original_transaction_id": true,
	"last_update_source":      true,
	"expiration_date":         true,
	"last_updated_at":         true,
}

// List returns subscriptions matching filters, newest update first, plus the total count.
func (s *Service) List(ctx context.Context, filters types.CommonFilters, from, size int) ([]*models.Subscription, int64, error) {
	for _, f := range filters {
		if err := f.Validate(listFilterFields); err != nil {
			return nil, 0, err
		}
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	from = max(from, 0)

	query := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Subscription{}).Where(filters)
	}
	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	var rows []*models.Subscription
	if err := query().Order("last_updated_at desc").Offset(from).Limit(size).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return rows, total, nil
}
