package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/entitlement/pkg/types"
)

// TransactionLog records ledger rows whose marketplace facts changed (refunds, extended expiry).
type TransactionLog struct {
	ID            string                           `gorm:"column:id;primary_key;type:uuid"`
	UserID        string                           `gorm:"column:user_id;type:varchar(64);index:idx_transaction_log_user_id_id,priority:1;not null"`
	ProviderID    types.PaymentProvider            `gorm:"column:provider_id;type:varchar(64);not null"`
	TransactionID string                           `gorm:"column:transaction_id;type:varchar(64);not null"`
	Reason        types.UpdateSource               `gorm:"column:reason;type:varchar(64);not null"`
	Before        datatypes.JSONType[*Transaction] `gorm:"column:before;type:jsonb;default:'null'"`
	After         datatypes.JSONType[*Transaction] `gorm:"column:after;type:jsonb;default:'null'"`
	CreatedAt     time.Time                        `json:"created_at"`
}

func (TransactionLog) TableName() string {
	return "transaction_log"
}
