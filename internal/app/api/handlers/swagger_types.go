package handlers

import (
	"github.com/fatflowers/entitlement/internal/app/service/purchase"
	"github.com/fatflowers/entitlement/internal/app/service/statistics"
	"github.com/fatflowers/entitlement/pkg/response"
	"github.com/fatflowers/entitlement/pkg/types"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Success bool                     `json:"success"`
	Data    interface{}              `json:"data"`
}

// RespCheckStatus wraps CheckStatusResponse in the standard envelope.
type RespCheckStatus struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Success bool                     `json:"success"`
	Data    CheckStatusResponse      `json:"data"`
}

// RespSyncPurchase wraps purchase.Result in the standard envelope.
type RespSyncPurchase struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Success bool                     `json:"success"`
	Data    purchase.Result          `json:"data"`
}

type RespAppAccountToken struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Success bool                     `json:"success"`
	Data    AppAccountTokenResponse  `json:"data"`
}

type RespSubscription struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Success bool                     `json:"success"`
	Data    types.SubscriptionRecord `json:"data"`
}

// RespListSubscriptions wraps ListSubscriptionsResponse in the standard envelope.
type RespListSubscriptions struct {
	Code    response.APIResponseCode  `json:"code"`
	Message string                    `json:"message"`
	Success bool                      `json:"success"`
	Data    ListSubscriptionsResponse `json:"data"`
}

// RespEntitlementStatistic wraps EntitlementStatisticResponse in the standard envelope.
type RespEntitlementStatistic struct {
	Code    response.APIResponseCode                `json:"code"`
	Message string                                  `json:"message"`
	Success bool                                    `json:"success"`
	Data    statistics.EntitlementStatisticResponse `json:"data"`
}
