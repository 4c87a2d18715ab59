// Package entitlement turns marketplace transactions into the canonical subscription record.
// It is the only place entitlement decisions are made.
package entitlement

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/types"
)

var (
	// ErrNoTransactions is returned when nothing in the input belongs to the requested lineage.
	ErrNoTransactions = errors.New("no transactions to resolve")
	// ErrTooManyTransactions is returned when single mode receives more than one transaction.
	ErrTooManyTransactions = errors.New("single mode resolves exactly one transaction")
)

type Mode int

const (
	// ModeSingle resolves from the latest transaction only.
	ModeSingle Mode = iota
	// ModeHistory scans the whole lineage.
	ModeHistory
)

func (m Mode) String() string {
	if m == ModeHistory {
		return "history"
	}
	return "single"
}

// Input is everything the resolver may look at.
type Input struct {
	Transactions []*types.TransactionRecord
	Mode         Mode
	// OriginalTransactionID restricts history mode to one lineage. Empty means all transactions.
	OriginalTransactionID string
	// PriorHasUsedTrial is the stored flag; the result never reports less.
	PriorHasUsedTrial bool
	NotificationType  types.NotificationType
	Subtype           string
	// Renewal is the latest renewal info of the lineage, when known.
	Renewal *types.RenewalRecord
}

// ProductCatalog maps product ids to configured metadata.
type ProductCatalog interface {
	GetProduct(productID string) *types.Product
}

type Resolver struct {
	catalog ProductCatalog
	now     func() time.Time
}

func New(catalog ProductCatalog, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{catalog: catalog, now: now}
}

func NewResolver(cfg *config.Config) *Resolver {
	return New(cfg, time.Now)
}

// Resolve computes the subscription record for the authoritative transaction of in.
// LastUpdatedAt and LastUpdateSource are left for the store to stamp.
func (r *Resolver) Resolve(in Input) (*types.SubscriptionRecord, error) {
	txs := r.lineage(in)
	if len(txs) == 0 {
		return nil, ErrNoTransactions
	}
	if in.Mode == ModeSingle && len(txs) > 1 {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyTransactions, len(txs))
	}

	auth := authoritative(txs)
	hasUsedTrial := in.PriorHasUsedTrial
	for _, tx := range txs {
		if r.isTrial(tx) {
			hasUsedTrial = true
			break
		}
	}

	out := &types.SubscriptionRecord{
		HasUsedTrial:          hasUsedTrial,
		SubscriptionType:      r.period(auth.ProductID),
		ExpirationDate:        auth.ExpiresDate,
		OriginalTransactionID: auth.OriginalTransactionID,
		LastTransactionID:     auth.TransactionID,
		ProductID:             auth.ProductID,
		DataVersion:           types.CurrentDataVersion,
	}

	renewal := in.Renewal
	if renewal != nil && renewal.OriginalTransactionID != "" && renewal.OriginalTransactionID != auth.OriginalTransactionID {
		renewal = nil
	}

	switch {
	case auth.Revoked() || in.NotificationType == types.NotificationTypeRevoke || in.NotificationType == types.NotificationTypeRefund:
		out.Entitlement = types.EntitlementFree
		out.SubscriptionStatus = types.SubscriptionStatusRefunded
		out.AutoRenewEnabled = false
	case in.NotificationType == types.NotificationTypeExpired || in.NotificationType == types.NotificationTypeGracePeriodExpired:
		out.Entitlement = types.EntitlementFree
		out.SubscriptionStatus = types.SubscriptionStatusExpired
		out.AutoRenewEnabled = false
	case r.expired(auth, renewal):
		out.Entitlement = types.EntitlementFree
		out.SubscriptionStatus = types.SubscriptionStatusExpired
		if renewal != nil && renewal.ExpirationIntent == types.ExpirationIntentCustomerCancelled {
			out.SubscriptionStatus = types.SubscriptionStatusCancelled
		}
		out.AutoRenewEnabled = false
	default:
		out.Entitlement = types.EntitlementPremium
		if r.isTrial(auth) {
			out.Entitlement = types.EntitlementTrial
		}
		out.AutoRenewEnabled = autoRenew(in, renewal)
		out.SubscriptionStatus = types.SubscriptionStatusActive
		if !out.AutoRenewEnabled && in.NotificationType != types.NotificationTypeSubscribed {
			out.SubscriptionStatus = types.SubscriptionStatusCancelling
		}
	}
	return out, nil
}

func (r *Resolver) lineage(in Input) []*types.TransactionRecord {
	out := make([]*types.TransactionRecord, 0, len(in.Transactions))
	for _, tx := range in.Transactions {
		if tx == nil {
			continue
		}
		if in.Mode == ModeHistory && in.OriginalTransactionID != "" && tx.OriginalTransactionID != in.OriginalTransactionID {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// authoritative picks the latest expiry; ties go to the later purchase, then the later position.
func authoritative(txs []*types.TransactionRecord) *types.TransactionRecord {
	best := txs[0]
	for _, tx := range txs[1:] {
		switch {
		case tx.ExpiresAt() > best.ExpiresAt():
			best = tx
		case tx.ExpiresAt() == best.ExpiresAt() && tx.PurchasedAt() >= best.PurchasedAt():
			best = tx
		}
	}
	return best
}

// expired reports whether the effective expiry, extended by a billing grace period, has passed.
// Transactions without an expiry never expire.
func (r *Resolver) expired(tx *types.TransactionRecord, renewal *types.RenewalRecord) bool {
	expiresAt := tx.ExpiresAt()
	if expiresAt <= 0 {
		return false
	}
	if grace := renewal.GraceUntil(); grace > expiresAt {
		expiresAt = grace
	}
	return r.now().UnixMilli() >= expiresAt
}

func autoRenew(in Input, renewal *types.RenewalRecord) bool {
	if in.NotificationType == types.NotificationTypeDidChangeRenewalStatus {
		switch in.Subtype {
		case types.SubtypeAutoRenewDisabled:
			return false
		case types.SubtypeAutoRenewEnabled:
			return true
		}
	}
	if renewal != nil {
		return renewal.AutoRenewOn()
	}
	return true
}

func (r *Resolver) isTrial(tx *types.TransactionRecord) bool {
	if tx.OfferType != types.OfferTypeIntroductory {
		return false
	}
	if tx.OfferDiscountType != "" && tx.OfferDiscountType != types.OfferDiscountTypeFreeTrial {
		return false
	}
	if p := r.product(tx.ProductID); p != nil {
		return p.TrialEligible
	}
	return true
}

func (r *Resolver) period(productID string) *types.SubscriptionPeriod {
	p := r.product(productID)
	if p == nil || p.Period == "" {
		return nil
	}
	period := p.Period
	return &period
}

func (r *Resolver) product(productID string) *types.Product {
	if r.catalog == nil {
		return nil
	}
	return r.catalog.GetProduct(productID)
}

var Module = fx.Options(
	fx.Provide(NewResolver),
)
