package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	nh "github.com/fatflowers/entitlement/internal/app/service/notification_handler"
	"github.com/fatflowers/entitlement/pkg/logctx"
)

type AppleNotificationRequest struct {
	SignedPayload string `json:"signedPayload"`
}

// @Summary      Apple Webhook
// @Description  Handles App Store Server Notifications V2. Answers with an HTTP status only.
// @Tags         Webhook
// @Accept       json
// @Param        payload body AppleNotificationRequest true "App Store Server Notification V2"
// @Success      200
// @Failure      400
// @Failure      401
// @Failure      405
// @Failure      500
// @Router       /api/v1/webhook/apple [post]
func ApiAppleWebhook(h *nh.NotificationHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logctx.FromGin(c, h.Logger)

		var req AppleNotificationRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.SignedPayload == "" {
			log.Warnw("webhook_apple_bad_request", "error", err)
			c.Status(http.StatusBadRequest)
			return
		}

		out := h.HandleNotification(c.Request.Context(), req.SignedPayload)
		log.Infow("webhook_apple_handled", "status", out.HTTPStatus, "reason", out.Reason)
		c.Status(out.HTTPStatus)
	}
}

func RegisterWebhookRoutes(r gin.IRouter, h *nh.NotificationHandler) {
	r.POST("/apple", ApiAppleWebhook(h))
}
