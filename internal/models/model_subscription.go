package models

import (
	"time"

	"github.com/fatflowers/entitlement/pkg/types"
)

// Subscription is the canonical per-user subscription record. One row per user;
// original_transaction_id doubles as the reverse index from a marketplace lineage to its owner.
type Subscription struct {
	ID                 string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID             string                   `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex" json:"user_id"`
	Entitlement        types.Entitlement        `gorm:"column:entitlement;type:varchar(32);not null" json:"entitlement"`
	SubscriptionStatus types.SubscriptionStatus `gorm:"column:subscription_status;type:varchar(32);not null" json:"subscription_status"`
	// HasUsedTrial only ever moves from false to true.
	HasUsedTrial     bool    `gorm:"column:has_used_trial;not null;default:false" json:"has_used_trial"`
	AutoRenewEnabled bool    `gorm:"column:auto_renew_enabled;not null;default:false" json:"auto_renew_enabled"`
	SubscriptionType *string `gorm:"column:subscription_type;type:varchar(16);default:null" json:"subscription_type"`
	// ExpirationDate is epoch milliseconds.
	ExpirationDate        *int64             `gorm:"column:expiration_date;type:bigint;default:null" json:"expiration_date"`
	OriginalTransactionID string             `gorm:"column:original_transaction_id;type:varchar(64);not null;default:'';index" json:"original_transaction_id"`
	LastTransactionID     string             `gorm:"column:last_transaction_id;type:varchar(64);not null;default:''" json:"last_transaction_id"`
	ProductID             string             `gorm:"column:product_id;type:varchar(128);not null;default:''" json:"product_id"`
	LastUpdatedAt         time.Time          `gorm:"column:last_updated_at;not null" json:"last_updated_at"`
	LastUpdateSource      types.UpdateSource `gorm:"column:last_update_source;type:varchar(32);not null" json:"last_update_source"`
	DataVersion           int                `gorm:"column:data_version;not null;default:0" json:"data_version"`
	// NeedsRefresh is set by identifier-only writes and cleared by the next full reconciliation.
	NeedsRefresh bool      `gorm:"column:needs_refresh;not null;default:false" json:"needs_refresh"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// ToRecord converts the row to the domain record.
func (s *Subscription) ToRecord() *types.SubscriptionRecord {
	if s == nil {
		return nil
	}
	r := &types.SubscriptionRecord{
		Entitlement:           s.Entitlement,
		SubscriptionStatus:    s.SubscriptionStatus,
		HasUsedTrial:          s.HasUsedTrial,
		AutoRenewEnabled:      s.AutoRenewEnabled,
		ExpirationDate:        s.ExpirationDate,
		OriginalTransactionID: s.OriginalTransactionID,
		LastTransactionID:     s.LastTransactionID,
		ProductID:             s.ProductID,
		LastUpdatedAt:         s.LastUpdatedAt,
		LastUpdateSource:      s.LastUpdateSource,
		DataVersion:           s.DataVersion,
		NeedsRefresh:          s.NeedsRefresh,
	}
	if s.SubscriptionType != nil {
		p := types.SubscriptionPeriod(*s.SubscriptionType)
		r.SubscriptionType = &p
	}
	return r
}
