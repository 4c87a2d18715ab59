package subscription

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/tool"
	"github.com/fatflowers/entitlement/pkg/types"
)

// RecordTransactions upserts txs into the ledger keyed by (provider, transaction_id).
// Rows whose marketplace facts changed get a before/after transaction log.
func (s *Service) RecordTransactions(ctx context.Context, userID string, txs []*types.TransactionRecord, source types.UpdateSource) error {
	if userID == "" || len(txs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range txs {
			if t == nil || t.TransactionID == "" {
				continue
			}
			if err := s.upsertTransaction(ctx, tx, models.NewTransaction(userID, t, source), source); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) upsertTransaction(ctx context.Context, tx *gorm.DB, item *models.Transaction, reason types.UpdateSource) error {
	var original models.Transaction
	err := tx.Where("provider_id = ? AND transaction_id = ?", item.ProviderID, item.TransactionID).First(&original).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load original transaction: %w", err)
	}

	var before *models.Transaction
	if original.ID != "" {
		if original.SameState(item) {
			return nil
		}
		item.ID = original.ID
		item.CreatedAt = original.CreatedAt
		before = &original
		if original.UserID != item.UserID {
			logctx.FromCtx(ctx, s.log).Warnw("ledger transaction moved between users",
				"transaction_id", item.TransactionID, "from", original.UserID, "to", item.UserID)
		}
	} else {
		item.ID = tool.GenerateUUIDV7()
	}

	if before == nil {
		if err := tx.Create(item).Error; err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}
		return nil
	}
	if err := tx.Save(item).Error; err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	log := &models.TransactionLog{
		ID:            tool.GenerateUUIDV7(),
		UserID:        item.UserID,
		ProviderID:    item.ProviderID,
		TransactionID: item.TransactionID,
		Reason:        reason,
		Before:        datatypes.NewJSONType(before),
		After:         datatypes.NewJSONType(item),
	}
	if err := tx.Create(log).Error; err != nil {
		return fmt.Errorf("failed to save transaction log: %w", err)
	}
	return nil
}

// Lineage is one (user, original transaction) pair found in the ledger.
type Lineage struct {
	UserID                string
	OriginalTransactionID string
}

// LedgerLineages pages through ledger lineages ordered by user id then lineage id,
// starting strictly after the given cursor.
func (s *Service) LedgerLineages(ctx context.Context, after Lineage, limit int) ([]Lineage, error) {
	var out []Lineage
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("user_id, original_transaction_id").
		Where("provider_id = ?", types.PaymentProviderApple).
		Where("(user_id > ?) OR (user_id = ? AND original_transaction_id > ?)", after.UserID, after.UserID, after.OriginalTransactionID).
		Group("user_id, original_transaction_id").
		Order("user_id, original_transaction_id").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger lineages: %w", err)
	}
	return out, nil
}

// LedgerTransactions returns the ledger view of one lineage.
func (s *Service) LedgerTransactions(ctx context.Context, l Lineage) ([]*types.TransactionRecord, error) {
	var rows []*models.Transaction
	err := s.db.WithContext(ctx).
		Where("provider_id = ? AND user_id = ? AND original_transaction_id = ?", types.PaymentProviderApple, l.UserID, l.OriginalTransactionID).
		Order("purchase_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger transactions: %w", err)
	}
	out := make([]*types.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToTransactionRecord())
	}
	return out, nil
}
