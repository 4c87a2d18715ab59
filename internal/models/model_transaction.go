package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/entitlement/pkg/types"
)

type TransactionExtra struct {
	AppAccountToken   string `json:"app_account_token,omitempty"`
	OfferDiscountType string `json:"offer_discount_type,omitempty"`
	Environment       string `json:"environment,omitempty"`
	BundleID          string `json:"bundle_id,omitempty"`
}

// Transaction is the per-transaction ledger. Rows written before the canonical
// subscription record existed are the input of the backfill job.
type Transaction struct {
	ID                    string                `gorm:"column:id;primary_key;type:uuid" json:"id"`
	UserID                string                `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	ProviderID            types.PaymentProvider `gorm:"column:provider_id;type:varchar(64);not null;uniqueIndex:unique_provider_id_transaction_id,priority:1" json:"provider_id"`
	TransactionID         string                `gorm:"column:transaction_id;type:varchar(64);not null;uniqueIndex:unique_provider_id_transaction_id,priority:2" json:"transaction_id"`
	OriginalTransactionID string                `gorm:"column:original_transaction_id;type:varchar(64);not null;index" json:"original_transaction_id"`
	ProductID             string                `gorm:"column:product_id;type:varchar(128);not null" json:"product_id"`
	OfferType             int                   `gorm:"column:offer_type;not null;default:0" json:"offer_type"`
	PurchaseAt            *time.Time            `gorm:"column:purchase_at;default:null" json:"purchase_at"`
	ExpireAt              *time.Time            `gorm:"column:expire_at;default:null" json:"expire_at"`
	RevocationDate        *time.Time            `gorm:"column:revocation_date;default:null" json:"revocation_date"`
	Source                types.UpdateSource    `gorm:"column:source;type:varchar(32)" json:"source"`

	Extra     datatypes.JSONType[*TransactionExtra] `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time                             `json:"created_at"`
	UpdatedAt time.Time                             `json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transaction"
}

// NewTransaction maps a decoded marketplace transaction onto a ledger row. ID is left empty.
func NewTransaction(userID string, tx *types.TransactionRecord, source types.UpdateSource) *Transaction {
	row := &Transaction{
		UserID:                userID,
		ProviderID:            types.PaymentProviderApple,
		TransactionID:         tx.TransactionID,
		OriginalTransactionID: tx.OriginalTransactionID,
		ProductID:             tx.ProductID,
		OfferType:             tx.OfferType,
		PurchaseAt:            millisToTime(tx.PurchaseDate),
		ExpireAt:              millisToTime(tx.ExpiresDate),
		RevocationDate:        millisToTime(tx.RevocationDate),
		Source:                source,
	}
	row.Extra = datatypes.NewJSONType(&TransactionExtra{
		AppAccountToken:   tx.AppAccountToken,
		OfferDiscountType: tx.OfferDiscountType,
		Environment:       tx.Environment,
		BundleID:          tx.BundleID,
	})
	return row
}

// ToTransactionRecord rebuilds the marketplace view of the row.
func (t *Transaction) ToTransactionRecord() *types.TransactionRecord {
	if t == nil {
		return nil
	}
	tx := &types.TransactionRecord{
		TransactionID:         t.TransactionID,
		OriginalTransactionID: t.OriginalTransactionID,
		ProductID:             t.ProductID,
		OfferType:             t.OfferType,
		PurchaseDate:          timeToMillis(t.PurchaseAt),
		ExpiresDate:           timeToMillis(t.ExpireAt),
		RevocationDate:        timeToMillis(t.RevocationDate),
	}
	if extra := t.Extra.Data(); extra != nil {
		tx.AppAccountToken = extra.AppAccountToken
		tx.OfferDiscountType = extra.OfferDiscountType
		tx.Environment = extra.Environment
		tx.BundleID = extra.BundleID
	}
	return tx
}

// SameState reports whether two ledger rows carry the same marketplace facts.
func (t *Transaction) SameState(other *Transaction) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.UserID == other.UserID &&
		t.ProductID == other.ProductID &&
		t.OfferType == other.OfferType &&
		sameTime(t.ExpireAt, other.ExpireAt) &&
		sameTime(t.RevocationDate, other.RevocationDate)
}

func millisToTime(ms *int64) *time.Time {
	if ms == nil || *ms <= 0 {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

func timeToMillis(t *time.Time) *int64 {
	if t == nil || t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
