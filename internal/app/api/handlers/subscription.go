package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mw "github.com/fatflowers/entitlement/internal/app/api/middleware"
	"github.com/fatflowers/entitlement/internal/app/service/purchase"
	"github.com/fatflowers/entitlement/internal/app/service/refresh"
	"github.com/fatflowers/entitlement/internal/platform/apple/apple_iap"
	"github.com/fatflowers/entitlement/internal/platform/marketplace"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/response"
	"github.com/fatflowers/entitlement/pkg/types"
)

type CheckStatusRequest struct {
	UserID       string `json:"user_id"`
	ForceRefresh bool   `json:"force_refresh"`
}

type CheckStatusResponse struct {
	Subscription *types.SubscriptionRecord `json:"subscription"`
	State        refresh.State             `json:"state"`
	Throttled    bool                      `json:"throttled,omitempty"`
}

type SyncPurchaseRequest struct {
	UserID            string `json:"user_id"`
	SignedTransaction string `json:"signed_transaction"`
	ReceiptData       string `json:"receipt_data"`
}

type AppAccountTokenResponse struct {
	AppAccountToken string `json:"app_account_token"`
}

// callerMatches enforces that a user_id in the body, when present, is the authenticated caller.
func callerMatches(c *gin.Context, requested string) (string, bool) {
	caller := mw.CallerID(c)
	if caller == "" || (requested != "" && requested != caller) {
		return "", false
	}
	return caller, true
}

// @Summary      Check Subscription Status
// @Description  Returns the caller's subscription record, refreshing it from the App Store when the cached copy is stale.
// @Tags         Subscription
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CheckStatusRequest false "Check status request"
// @Success      200  {object}  handlers.RespCheckStatus
// @Router       /api/v1/subscription/check_status [post]
func ApiCheckStatus(ctl *refresh.Controller, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckStatusRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
				return
			}
		}
		userID, ok := callerMatches(c, req.UserID)
		if !ok {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeUnauthenticated, nil))
			return
		}

		res, err := ctl.Check(c.Request.Context(), userID, req.ForceRefresh)
		if err != nil {
			logctx.FromGin(c, log).Errorw("check subscription status failed", "error", err)
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&CheckStatusResponse{Subscription: res.Record, State: res.State, Throttled: res.Throttled}))
	}
}

// @Summary      Sync Purchase
// @Description  Links a StoreKit 2 signed transaction, or a legacy receipt, to the caller and returns the lineage identifiers.
// @Tags         Subscription
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body SyncPurchaseRequest true "Signed transaction or receipt data"
// @Success      200  {object}  handlers.RespSyncPurchase
// @Router       /api/v1/subscription/sync_purchase [post]
func ApiSyncPurchase(svc *purchase.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SyncPurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		userID, ok := callerMatches(c, req.UserID)
		if !ok {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeUnauthenticated, nil))
			return
		}

		res, err := svc.Sync(c.Request.Context(), &purchase.Request{
			UserID:            userID,
			SignedTransaction: req.SignedTransaction,
			ReceiptData:       req.ReceiptData,
		})
		if err != nil {
			code := syncErrorCode(err)
			if code == response.APIResponseCodeError {
				logctx.FromGin(c, log).Errorw("sync purchase failed", "error", err)
			}
			c.JSON(http.StatusOK, response.ErrorT[any](code, nil))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func syncErrorCode(err error) response.APIResponseCode {
	switch {
	case errors.Is(err, purchase.ErrMissingPurchase), errors.Is(err, purchase.ErrTransactionOwnedByOtherUser):
		return response.APIResponseCodeBadRequest
	case errors.Is(err, purchase.ErrTokenMismatch), marketplace.IsKind(err, marketplace.ErrorKindVerification):
		return response.APIResponseCodeUnauthenticated
	case marketplace.IsKind(err, marketplace.ErrorKindInvalid), marketplace.IsKind(err, marketplace.ErrorKindNotFound):
		return response.APIResponseCodeBadRequest
	}
	return response.APIResponseCodeError
}

// @Summary      App Account Token
// @Description  Returns the appAccountToken the client attaches to StoreKit purchases.
// @Tags         Subscription
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespAppAccountToken
// @Router       /api/v1/subscription/app_account_token [get]
func ApiAppAccountToken(c *gin.Context) {
	token, err := apple_iap.AppAccountToken(mw.CallerID(c))
	if err != nil {
		c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(&AppAccountTokenResponse{AppAccountToken: token}))
}

func RegisterSubscriptionRoutes(r gin.IRouter, ctl *refresh.Controller, svc *purchase.Service, log *zap.SugaredLogger) {
	r.POST("/check_status", ApiCheckStatus(ctl, log))
	r.POST("/sync_purchase", ApiSyncPurchase(svc, log))
	r.GET("/app_account_token", ApiAppAccountToken)
}
