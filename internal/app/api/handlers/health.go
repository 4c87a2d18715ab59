package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fatflowers/entitlement/pkg/response"
)

const readyTimeout = 2 * time.Second

// @Summary      Health check
// @Description  Returns service status
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /healthz [get]
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, response.OKT(map[string]string{"status": "ok"}))
}

// @Summary      Readiness check
// @Description  Pings the database; 503 when it is unreachable
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /readyz [get]
func ApiReadyz(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, response.ErrorT(response.APIResponseCodeError, map[string]string{"database": "unreachable"}))
			return
		}
		c.JSON(http.StatusOK, response.OKT(map[string]string{"status": "ok", "database": "ok"}))
	}
}

func RegisterHealthRoutes(r gin.IRouter, db *gorm.DB) {
	r.GET("/healthz", Healthz)
	r.GET("/readyz", ApiReadyz(db))
}
