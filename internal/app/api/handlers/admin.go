package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/app/service/refresh"
	"github.com/fatflowers/entitlement/internal/app/service/statistics"
	subsvc "github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/internal/platform/marketplace"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/response"
	"github.com/fatflowers/entitlement/pkg/types"
)

type ListSubscriptionsRequest struct {
	Filters types.CommonFilters `json:"filters"`
	From    int                 `json:"from"`
	Size    int                 `json:"size"`
}

type SubscriptionItem struct {
	UserID string `json:"user_id"`
	*types.SubscriptionRecord
	CreatedAt time.Time `json:"created_at"`
}

type ListSubscriptionsResponse struct {
	Items []*SubscriptionItem `json:"items"`
	Total int64               `json:"total"`
}

type ReconcileSubscriptionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// @Summary      List Subscriptions (Admin)
// @Description  Retrieves a paginated and filterable list of subscription records.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminToken
// @Param        request body ListSubscriptionsRequest true "Filters and pagination"
// @Success      200  {object}  handlers.RespListSubscriptions
// @Router       /api/v1/admin/list_subscriptions [post]
func ApiListSubscriptions(sub *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListSubscriptionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		rows, total, err := sub.List(c.Request.Context(), req.Filters, req.From, req.Size)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		items := lo.Map(rows, func(m *models.Subscription, _ int) *SubscriptionItem {
			return &SubscriptionItem{UserID: m.UserID, SubscriptionRecord: m.ToRecord(), CreatedAt: m.CreatedAt}
		})
		c.JSON(http.StatusOK, response.OKT(&ListSubscriptionsResponse{Items: items, Total: total}))
	}
}

// @Summary      Get Entitlement Statistics (Admin)
// @Description  Counts subscriptions by entitlement and status, and daily store activity.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminToken
// @Param        request body statistics.EntitlementStatisticRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespEntitlementStatistic
// @Router       /api/v1/admin/get_entitlement_statistic [post]
func ApiGetEntitlementStatistic(svc *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.EntitlementStatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.GetEntitlementStatistic(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Reconcile Subscription (Admin)
// @Description  Rebuilds a user's subscription record from the full App Store transaction history.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminToken
// @Param        request body ReconcileSubscriptionRequest true "User to reconcile"
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/v1/admin/reconcile_subscription [post]
func ApiReconcileSubscription(ctl *refresh.Controller, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReconcileSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		rec, err := ctl.Reconcile(c.Request.Context(), req.UserID)
		switch {
		case errors.Is(err, refresh.ErrNoLineage), marketplace.IsKind(err, marketplace.ErrorKindNotFound):
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "no marketplace lineage for user"))
			return
		case err != nil:
			logctx.FromGin(c, log).Errorw("admin reconcile failed", "user_id", req.UserID, "error", err)
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}
		c.JSON(http.StatusOK, response.OKT(rec))
	}
}

func RegisterAdminRoutes(r gin.IRouter, sub *subsvc.Service, stats *statistics.Service, ctl *refresh.Controller, log *zap.SugaredLogger) {
	r.POST("/list_subscriptions", ApiListSubscriptions(sub))
	r.POST("/get_entitlement_statistic", ApiGetEntitlementStatistic(stats))
	r.POST("/reconcile_subscription", ApiReconcileSubscription(ctl, log))
}
