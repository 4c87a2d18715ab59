package notification_handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/entitlement/internal/app/service/entitlement"
	notificationlog "github.com/fatflowers/entitlement/internal/app/service/notification_log"
	"github.com/fatflowers/entitlement/internal/app/service/reconcile"
	"github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/internal/platform/marketplace"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/metrics"
	"github.com/fatflowers/entitlement/pkg/types"
)

// Outcome reasons, also used as the webhook metric subtype.
const (
	ReasonHandled        = "handled"
	ReasonDropped        = "dropped"
	ReasonUnowned        = "unowned"
	ReasonPartial        = "partial"
	ReasonInvalidPayload = "invalid_payload"
	ReasonUnverified     = "unverified"
	ReasonStoreFailure   = "store_failure"
)

// Outcome is what the webhook answers the marketplace with.
type Outcome struct {
	HTTPStatus int
	Reason     string
}

// OwnerLookup maps a lineage to the user that owns it.
type OwnerLookup interface {
	FindUserByOriginalTransactionID(ctx context.Context, originalTransactionID string) (string, error)
}

// Reconciler is the write path a notification feeds.
type Reconciler interface {
	Apply(ctx context.Context, userID string, txs []*types.TransactionRecord, mode entitlement.Mode, lineage string, opts reconcile.Options) (*types.SubscriptionRecord, error)
	ReconcileHistory(ctx context.Context, userID, originalTransactionID string, opts reconcile.Options) (*types.SubscriptionRecord, error)
	PersistIdentifiers(ctx context.Context, userID string, tx *types.TransactionRecord, source types.UpdateSource) (*types.SubscriptionRecord, error)
}

type NotificationHandler struct {
	gateway    marketplace.Gateway
	owners     OwnerLookup
	reconciler Reconciler
	notifSvc   *notificationlog.Service
	Logger     *zap.SugaredLogger
	now        func() time.Time
}

func New(gateway marketplace.Gateway, owners OwnerLookup, reconciler Reconciler, notif *notificationlog.Service, log *zap.SugaredLogger) *NotificationHandler {
	return &NotificationHandler{
		gateway:    gateway,
		owners:     owners,
		reconciler: reconciler,
		notifSvc:   notif,
		Logger:     log,
		now:        time.Now,
	}
}

func NewNotificationHandler(gateway marketplace.Gateway, sub *subscription.Service, rec *reconcile.Service, notif *notificationlog.Service, log *zap.SugaredLogger) *NotificationHandler {
	return New(gateway, sub, rec, notif, log)
}

// singleModeTypes carry the one transaction that decides the new state. Everything else is
// reconciled against the full lineage history.
var singleModeTypes = map[types.NotificationType]bool{
	types.NotificationTypeSubscribed:             true,
	types.NotificationTypeDidRenew:               true,
	types.NotificationTypeDidChangeRenewalStatus: true,
	types.NotificationTypePriceIncrease:          true,
}

// carriesNoTransaction reports notifications that legitimately arrive without signedTransactionInfo.
func carriesNoTransaction(n *types.Notification) bool {
	switch n.NotificationType {
	case types.NotificationTypeTest, types.NotificationTypeConsumptionRequest, types.NotificationTypeExternalPurchaseToken:
		return true
	case types.NotificationTypeRenewalExtension:
		return n.Subtype == types.SubtypeSummary
	}
	return false
}

// HandleNotification verifies a signed server notification and reconciles the lineage it refers to.
func (h *NotificationHandler) HandleNotification(ctx context.Context, signedPayload string) (out *Outcome) {
	start := time.Now()
	defer func() {
		metrics.ObserveBusinessProcess(metrics.BusinessWebhook, out.Reason, start)
	}()
	log := logctx.FromCtx(ctx, h.Logger)

	if strings.TrimSpace(signedPayload) == "" {
		return &Outcome{HTTPStatus: http.StatusBadRequest, Reason: ReasonInvalidPayload}
	}

	n, err := h.gateway.VerifySignedPayload(ctx, signedPayload)
	if err != nil {
		return h.rejected(log, "notification", err)
	}
	log = log.With("notification_uuid", n.NotificationUUID, "notification_type", n.NotificationType, "subtype", n.Subtype)

	entry := h.newLogEntry(ctx, n)
	h.saveLog(ctx, entry, models.PaymentNotificationLogStatusReceived, nil)

	if n.SignedTransactionInfo == "" {
		if carriesNoTransaction(n) {
			log.Infow("notification carries no transaction, dropped")
			h.saveLog(ctx, entry, models.PaymentNotificationLogStatusDropped, nil)
			return &Outcome{HTTPStatus: http.StatusOK, Reason: ReasonDropped}
		}
		log.Warnw("notification without signedTransactionInfo")
		h.saveLog(ctx, entry, models.PaymentNotificationLogStatusHandleFailed, errors.New("missing signedTransactionInfo"))
		return &Outcome{HTTPStatus: http.StatusBadRequest, Reason: ReasonInvalidPayload}
	}

	tx, err := h.gateway.VerifyTransaction(ctx, n.SignedTransactionInfo)
	if err != nil {
		h.saveLog(ctx, entry, models.PaymentNotificationLogStatusHandleFailed, err)
		return h.rejected(log, "transaction", err)
	}
	entry.TransactionID = tx.TransactionID

	var renewal *types.RenewalRecord
	if n.SignedRenewalInfo != "" {
		renewal, err = h.gateway.VerifyRenewal(ctx, n.SignedRenewalInfo)
		if err != nil {
			if marketplace.IsKind(err, marketplace.ErrorKindVerification) {
				h.saveLog(ctx, entry, models.PaymentNotificationLogStatusHandleFailed, err)
				return h.rejected(log, "renewal", err)
			}
			log.Warnw("ignoring undecodable renewal info", "error", err)
			renewal = nil
		}
	}

	userID, err := h.owners.FindUserByOriginalTransactionID(ctx, tx.OriginalTransactionID)
	if err != nil {
		log.Errorw("failed to look up lineage owner", "original_transaction_id", tx.OriginalTransactionID, "error", err)
		h.saveLog(ctx, entry, models.PaymentNotificationLogStatusHandleFailed, err)
		return &Outcome{HTTPStatus: http.StatusInternalServerError, Reason: ReasonStoreFailure}
	}
	if userID == "" {
		log.Warnw("no user owns notification lineage", "original_transaction_id", tx.OriginalTransactionID)
		h.saveLog(ctx, entry, models.PaymentNotificationLogStatusUnowned, nil)
		return &Outcome{HTTPStatus: http.StatusOK, Reason: ReasonUnowned}
	}
	ctx = logctx.WithUserID(ctx, userID)
	entry.UserID = lo.ToPtr(userID)
	log = log.With("user_id", userID)

	opts := reconcile.Options{
		Source:           types.UpdateSourceWebhook,
		NotificationType: n.NotificationType,
		Subtype:          n.Subtype,
		Renewal:          renewal,
	}
	var record *types.SubscriptionRecord
	if singleModeTypes[n.NotificationType] {
		record, err = h.reconciler.Apply(ctx, userID, []*types.TransactionRecord{tx}, entitlement.ModeSingle, "", opts)
	} else {
		record, err = h.reconciler.ReconcileHistory(ctx, userID, tx.OriginalTransactionID, opts)
	}

	switch {
	case errors.Is(err, reconcile.ErrStore):
		log.Errorw("failed to persist notification", "error", err)
		h.saveLog(ctx, entry, models.PaymentNotificationLogStatusHandleFailed, err)
		return &Outcome{HTTPStatus: http.StatusInternalServerError, Reason: ReasonStoreFailure}
	case err != nil:
		log.Errorw("failed to reconcile notification, keeping identifiers", "error", err)
		if _, perr := h.reconciler.PersistIdentifiers(ctx, userID, tx, types.UpdateSourceWebhook); perr != nil {
			log.Errorw("failed to persist identifiers", "error", perr)
		}
		h.saveLog(ctx, entry, models.PaymentNotificationLogStatusHandleFailed, err)
		return &Outcome{HTTPStatus: http.StatusOK, Reason: ReasonPartial}
	}

	log.Infow("notification handled", "entitlement", record.Entitlement, "state", record.SubscriptionStatus)
	h.saveLog(ctx, entry, models.PaymentNotificationLogStatusHandled, record)
	return &Outcome{HTTPStatus: http.StatusOK, Reason: ReasonHandled}
}

func (h *NotificationHandler) rejected(log *zap.SugaredLogger, what string, err error) *Outcome {
	if marketplace.IsKind(err, marketplace.ErrorKindVerification) {
		log.Errorw("rejected untrusted "+what, "error", err)
		return &Outcome{HTTPStatus: http.StatusUnauthorized, Reason: ReasonUnverified}
	}
	log.Warnw("rejected malformed "+what, "error", err)
	return &Outcome{HTTPStatus: http.StatusBadRequest, Reason: ReasonInvalidPayload}
}

func (h *NotificationHandler) newLogEntry(ctx context.Context, n *types.Notification) models.PaymentNotificationLog {
	data, _ := json.Marshal(n)
	at := n.SignedAt()
	if at.IsZero() {
		at = h.now()
	}
	return models.PaymentNotificationLog{
		ProviderID:       string(types.PaymentProviderApple),
		TraceID:          logctx.TraceID(ctx),
		NotificationUUID: n.NotificationUUID,
		NotificationType: string(n.NotificationType),
		Subtype:          n.Subtype,
		NotificationTime: at,
		Data:             datatypes.JSON(data),
	}
}

// saveLog writes a copy of entry with status; result is an error or the resulting record.
func (h *NotificationHandler) saveLog(ctx context.Context, entry models.PaymentNotificationLog, status models.PaymentNotificationLogStatus, result any) {
	if h.notifSvc == nil {
		return
	}
	entry.Status = status
	switch v := result.(type) {
	case nil:
	case error:
		b, _ := json.Marshal(map[string]any{"error": v.Error()})
		entry.Result = lo.ToPtr(datatypes.JSON(b))
	default:
		b, _ := json.Marshal(map[string]any{"subscription": v})
		entry.Result = lo.ToPtr(datatypes.JSON(b))
	}
	h.notifSvc.Save(ctx, &entry)
}

var Module = fx.Options(
	fx.Provide(NewNotificationHandler),
)
