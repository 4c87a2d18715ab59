package types

import "time"

// Offer types reported on a transaction.
const (
	OfferTypeIntroductory = 1
	OfferTypePromotional  = 2
	OfferTypeCode         = 3
	OfferTypeWinBack      = 4
)

const OfferDiscountTypeFreeTrial = "FREE_TRIAL"

const (
	EnvironmentSandbox    = "Sandbox"
	EnvironmentProduction = "Production"
)

// TransactionRecord is a decoded marketplace transaction. Dates are epoch milliseconds.
type TransactionRecord struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	BundleID              string `json:"bundleId,omitempty"`
	PurchaseDate          *int64 `json:"purchaseDate,omitempty"`
	ExpiresDate           *int64 `json:"expiresDate,omitempty"`
	OfferType             int    `json:"offerType,omitempty"`
	OfferDiscountType     string `json:"offerDiscountType,omitempty"`
	RevocationDate        *int64 `json:"revocationDate,omitempty"`
	AppAccountToken       string `json:"appAccountToken,omitempty"`
	Environment           string `json:"environment,omitempty"`
	Type                  string `json:"type,omitempty"`
}

func (t *TransactionRecord) Revoked() bool {
	return t != nil && t.RevocationDate != nil && *t.RevocationDate > 0
}

func (t *TransactionRecord) ExpiresAt() int64 {
	if t == nil || t.ExpiresDate == nil {
		return 0
	}
	return *t.ExpiresDate
}

func (t *TransactionRecord) PurchasedAt() int64 {
	if t == nil || t.PurchaseDate == nil {
		return 0
	}
	return *t.PurchaseDate
}

// RenewalRecord is the decoded renewal info of a lineage.
type RenewalRecord struct {
	OriginalTransactionID  string `json:"originalTransactionId"`
	ProductID              string `json:"productId,omitempty"`
	AutoRenewProductID     string `json:"autoRenewProductId,omitempty"`
	AutoRenewStatus        int    `json:"autoRenewStatus"`
	ExpirationIntent       int    `json:"expirationIntent,omitempty"`
	GracePeriodExpiresDate *int64 `json:"gracePeriodExpiresDate,omitempty"`
	IsInBillingRetryPeriod bool   `json:"isInBillingRetryPeriod,omitempty"`
	RenewalDate            *int64 `json:"renewalDate,omitempty"`
	Environment            string `json:"environment,omitempty"`
}

const (
	AutoRenewStatusOff = 0
	AutoRenewStatusOn  = 1

	// ExpirationIntentCustomerCancelled means the customer turned auto-renew off themselves.
	ExpirationIntentCustomerCancelled = 1
)

func (r *RenewalRecord) AutoRenewOn() bool {
	return r != nil && r.AutoRenewStatus == AutoRenewStatusOn
}

// GraceUntil returns the end of the billing grace period, or 0 when not in grace.
func (r *RenewalRecord) GraceUntil() int64 {
	if r == nil || r.GracePeriodExpiresDate == nil {
		return 0
	}
	return *r.GracePeriodExpiresDate
}

// StatusGroup is one subscription group returned by the subscription status API.
type StatusGroup struct {
	SubscriptionGroupIdentifier string
	Items                       []StatusItem
}

type StatusItem struct {
	OriginalTransactionID string
	// Status is the marketplace status code (1 active, 2 expired, 3 billing retry, 4 grace, 5 revoked).
	Status      int
	Transaction *TransactionRecord
	Renewal     *RenewalRecord
}

type NotificationType string

const (
	NotificationTypeSubscribed             NotificationType = "SUBSCRIBED"
	NotificationTypeDidRenew               NotificationType = "DID_RENEW"
	NotificationTypeDidChangeRenewalStatus NotificationType = "DID_CHANGE_RENEWAL_STATUS"
	NotificationTypeDidChangeRenewalPref   NotificationType = "DID_CHANGE_RENEWAL_PREF"
	NotificationTypePriceIncrease          NotificationType = "PRICE_INCREASE"
	NotificationTypeDidFailToRenew         NotificationType = "DID_FAIL_TO_RENEW"
	NotificationTypeExpired                NotificationType = "EXPIRED"
	NotificationTypeGracePeriodExpired     NotificationType = "GRACE_PERIOD_EXPIRED"
	NotificationTypeRefund                 NotificationType = "REFUND"
	NotificationTypeRefundDeclined         NotificationType = "REFUND_DECLINED"
	NotificationTypeRefundReversed         NotificationType = "REFUND_REVERSED"
	NotificationTypeRevoke                 NotificationType = "REVOKE"
	NotificationTypeOfferRedeemed          NotificationType = "OFFER_REDEEMED"
	NotificationTypeRenewalExtended        NotificationType = "RENEWAL_EXTENDED"
	NotificationTypeRenewalExtension       NotificationType = "RENEWAL_EXTENSION"
	NotificationTypeConsumptionRequest     NotificationType = "CONSUMPTION_REQUEST"
	NotificationTypeExternalPurchaseToken  NotificationType = "EXTERNAL_PURCHASE_TOKEN"
	NotificationTypeTest                   NotificationType = "TEST"
)

const (
	SubtypeAutoRenewEnabled  = "AUTO_RENEW_ENABLED"
	SubtypeAutoRenewDisabled = "AUTO_RENEW_DISABLED"
	SubtypeGracePeriod       = "GRACE_PERIOD"
	SubtypeVoluntary         = "VOLUNTARY"
	SubtypeSummary           = "SUMMARY"
)

// Notification is a verified server notification with its inner envelopes still signed.
type Notification struct {
	NotificationType      NotificationType `json:"notificationType"`
	Subtype               string           `json:"subtype,omitempty"`
	NotificationUUID      string           `json:"notificationUUID"`
	Version               string           `json:"version,omitempty"`
	SignedDate            int64            `json:"signedDate,omitempty"`
	BundleID              string           `json:"bundleId,omitempty"`
	Environment           string           `json:"environment,omitempty"`
	SignedTransactionInfo string           `json:"-"`
	SignedRenewalInfo     string           `json:"-"`
}

func (n *Notification) SignedAt() time.Time {
	if n == nil || n.SignedDate == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n.SignedDate)
}
