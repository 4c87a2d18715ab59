package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/entitlement/pkg/types"
)

// SubscriptionLog records every write to a subscription record.
// Use case: troubleshooting.
type SubscriptionLog struct {
	ID     string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string `gorm:"column:user_id;type:varchar(64);index:idx_subscription_log_user_id_id,priority:1;not null" json:"user_id"`
	// Reason is the update source that produced the write.
	Reason types.UpdateSource `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	// Before is null for the first write of a user.
	Before    datatypes.JSONType[*types.SubscriptionRecord] `gorm:"column:before;type:jsonb;default:'null'" json:"before"`
	After     datatypes.JSONType[*types.SubscriptionRecord] `gorm:"column:after;type:jsonb;default:'null'" json:"after"`
	Extra     datatypes.JSONMap                             `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time                                     `json:"created_at"`
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
