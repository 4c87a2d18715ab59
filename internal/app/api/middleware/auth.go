package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/response"
)

const HeaderAdminToken = "X-Admin-Token"

var errAuthNotConfigured = errors.New("auth.jwt_secret is not configured")

// BearerAuthMiddleware validates an HS256 bearer token and stores its subject as the caller's
// user id in gin.Context and the request context.
func BearerAuthMiddleware(cfg config.AuthConfig, base *zap.SugaredLogger) gin.HandlerFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	secret := []byte(cfg.JWTSecret)

	return func(c *gin.Context) {
		userID, err := parseBearer(c.GetHeader("Authorization"), secret, opts)
		if err != nil {
			logctx.FromGin(c, base).Warnw("unauthenticated request", "path", c.FullPath(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthenticated, nil))
			return
		}

		c.Set(logctx.KeyUserID, userID)
		ctx := logctx.WithUserID(c.Request.Context(), userID)
		c.Request = c.Request.WithContext(ctx)
		if l, ok := ctx.Value(logctx.KeyLogger).(*zap.SugaredLogger); ok {
			c.Set(logctx.KeyLogger, l)
		}
		c.Next()
	}
}

func parseBearer(header string, secret []byte, opts []jwt.ParserOption) (string, error) {
	if len(secret) == 0 {
		return "", errAuthNotConfigured
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", errors.New("missing bearer token")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// AdminTokenMiddleware guards admin routes with a shared static token.
func AdminTokenMiddleware(cfg config.AuthConfig, base *zap.SugaredLogger) gin.HandlerFunc {
	want := []byte(cfg.AdminToken)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(HeaderAdminToken))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			logctx.FromGin(c, base).Warnw("rejected admin request", "path", c.FullPath(), "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthenticated, nil))
			return
		}
		c.Next()
	}
}

// CallerID returns the user id set by BearerAuthMiddleware.
func CallerID(c *gin.Context) string {
	return c.GetString(logctx.KeyUserID)
}
