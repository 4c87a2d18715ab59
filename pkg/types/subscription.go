package types

import "time"

type Entitlement string

const (
	EntitlementFree    Entitlement = "FREE"
	EntitlementTrial   Entitlement = "TRIAL"
	EntitlementPremium Entitlement = "PREMIUM"
)

// HasAccess reports whether the entitlement unlocks paid features.
func (e Entitlement) HasAccess() bool {
	return e == EntitlementTrial || e == EntitlementPremium
}

type SubscriptionStatus string

const (
	SubscriptionStatusNeverSubscribed SubscriptionStatus = "NEVER_SUBSCRIBED"
	SubscriptionStatusActive          SubscriptionStatus = "ACTIVE"
	// SubscriptionStatusCancelling keeps the current entitlement until the expiration date.
	SubscriptionStatusCancelling SubscriptionStatus = "CANCELLING"
	SubscriptionStatusCancelled  SubscriptionStatus = "CANCELLED"
	SubscriptionStatusExpired    SubscriptionStatus = "EXPIRED"
	SubscriptionStatusRefunded   SubscriptionStatus = "REFUNDED"
	SubscriptionStatusUnverified SubscriptionStatus = "UNVERIFIED"
)

type UpdateSource string

const (
	UpdateSourceWebhook                 UpdateSource = "webhook"
	UpdateSourceSyncPurchaseInfo        UpdateSource = "syncPurchaseInfo"
	UpdateSourceCheckSubscriptionStatus UpdateSource = "checkSubscriptionStatus"
	UpdateSourceMigration               UpdateSource = "migration"
)

func (s UpdateSource) Valid() bool {
	switch s {
	case UpdateSourceWebhook, UpdateSourceSyncPurchaseInfo, UpdateSourceCheckSubscriptionStatus, UpdateSourceMigration:
		return true
	}
	return false
}

type SubscriptionPeriod string

const (
	SubscriptionPeriodMonthly SubscriptionPeriod = "monthly"
	SubscriptionPeriodYearly  SubscriptionPeriod = "yearly"
)

// CurrentDataVersion is stamped on every write of a subscription record.
const CurrentDataVersion = 2

// SubscriptionRecord is the canonical per-user subscription state.
type SubscriptionRecord struct {
	Entitlement           Entitlement         `json:"entitlement"`
	SubscriptionStatus    SubscriptionStatus  `json:"subscription_status"`
	HasUsedTrial          bool                `json:"has_used_trial"`
	AutoRenewEnabled      bool                `json:"auto_renew_enabled"`
	SubscriptionType      *SubscriptionPeriod `json:"subscription_type"`
	ExpirationDate        *int64              `json:"expiration_date"`
	OriginalTransactionID string              `json:"original_transaction_id,omitempty"`
	LastTransactionID     string              `json:"last_transaction_id,omitempty"`
	ProductID             string              `json:"product_id,omitempty"`
	LastUpdatedAt         time.Time           `json:"last_updated_at"`
	LastUpdateSource      UpdateSource        `json:"last_update_source,omitempty"`
	DataVersion           int                 `json:"data_version"`
	// NeedsRefresh marks stored status as older than the lineage identifiers beside it.
	NeedsRefresh bool `json:"needs_refresh,omitempty"`
}

// HasIdentifiers reports whether the record links back to a marketplace lineage.
func (r *SubscriptionRecord) HasIdentifiers() bool {
	return r != nil && (r.OriginalTransactionID != "" || r.LastTransactionID != "")
}

// ToUpdate converts a resolved record into a full partial update. Empty identifiers stay absent.
func (r *SubscriptionRecord) ToUpdate() *SubscriptionUpdate {
	if r == nil {
		return nil
	}
	u := &SubscriptionUpdate{
		Entitlement:        &r.Entitlement,
		SubscriptionStatus: &r.SubscriptionStatus,
		HasUsedTrial:       &r.HasUsedTrial,
		AutoRenewEnabled:   &r.AutoRenewEnabled,
		SubscriptionType:   r.SubscriptionType,
		ExpirationDate:     r.ExpirationDate,
	}
	if r.OriginalTransactionID != "" {
		u.OriginalTransactionID = &r.OriginalTransactionID
	}
	if r.LastTransactionID != "" {
		u.LastTransactionID = &r.LastTransactionID
	}
	if r.ProductID != "" {
		u.ProductID = &r.ProductID
	}
	return u
}

// SubscriptionUpdate is a partial subscription record; nil fields are not written.
type SubscriptionUpdate struct {
	Entitlement           *Entitlement
	SubscriptionStatus    *SubscriptionStatus
	HasUsedTrial          *bool
	AutoRenewEnabled      *bool
	SubscriptionType      *SubscriptionPeriod
	ExpirationDate        *int64
	OriginalTransactionID *string
	LastTransactionID     *string
	ProductID             *string
}

// Unverified is returned when no marketplace identifiers are on file for a user.
func Unverified() *SubscriptionRecord {
	return &SubscriptionRecord{
		Entitlement:        EntitlementFree,
		SubscriptionStatus: SubscriptionStatusUnverified,
		DataVersion:        CurrentDataVersion,
	}
}
