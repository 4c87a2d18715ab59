package subscription

import (
	"context"
	"time"

	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/types"
)

const (
	RoutingKeySubscriptionChanged = "subscription.changed"

	publishTimeout = 3 * time.Second
)

// ChangedEvent is published when a write changes a user's entitlement or status.
type ChangedEvent struct {
	UserID                string                   `json:"user_id"`
	Source                types.UpdateSource       `json:"source"`
	PreviousEntitlement   types.Entitlement        `json:"previous_entitlement,omitempty"`
	PreviousStatus        types.SubscriptionStatus `json:"previous_status,omitempty"`
	Entitlement           types.Entitlement        `json:"entitlement"`
	Status                types.SubscriptionStatus `json:"status"`
	ExpirationDate        *int64                   `json:"expiration_date,omitempty"`
	OriginalTransactionID string                   `json:"original_transaction_id,omitempty"`
	OccurredAt            time.Time                `json:"occurred_at"`
}

// handleSubscriptionChange publishes a change event after the write committed. Failures are logged only.
func (s *Service) handleSubscriptionChange(ctx context.Context, userID string, before, after *types.SubscriptionRecord, source types.UpdateSource) {
	if s.publisher == nil || after == nil {
		return
	}
	if before != nil && before.Entitlement == after.Entitlement && before.SubscriptionStatus == after.SubscriptionStatus {
		return
	}

	event := &ChangedEvent{
		UserID:                userID,
		Source:                source,
		Entitlement:           after.Entitlement,
		Status:                after.SubscriptionStatus,
		ExpirationDate:        after.ExpirationDate,
		OriginalTransactionID: after.OriginalTransactionID,
		OccurredAt:            s.now().UTC(),
	}
	if before != nil {
		event.PreviousEntitlement = before.Entitlement
		event.PreviousStatus = before.SubscriptionStatus
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, RoutingKeySubscriptionChanged, event); err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("failed to publish subscription change", "user_id", userID, "error", err)
	}
}
