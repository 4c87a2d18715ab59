package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logctx"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTraceMiddleware(t *testing.T) {
	var seen string
	r := gin.New()
	r.Use(TraceMiddleware(), RequestLoggerMiddleware(zap.NewNop().Sugar()))
	r.GET("/", func(c *gin.Context) { seen = logctx.TraceID(c.Request.Context()) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "trace-1")
	w := serve(r, req)
	require.Equal(t, "trace-1", seen)
	require.Equal(t, "trace-1", w.Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, strings.Repeat("x", maxTraceIDLen+1))
	serve(r, req)
	require.Len(t, seen, 36)

	serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
}

func sign(t *testing.T, secret string, claims jwt.Claims, method jwt.SigningMethod) string {
	t.Helper()
	var key any = []byte(secret)
	if method == jwt.SigningMethodNone {
		key = jwt.UnsafeAllowNoneSignatureType
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestBearerAuthMiddleware(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "s3cret", Issuer: "auth.example", Audience: "entitlement"}
	valid := jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "auth.example",
		Audience:  jwt.ClaimStrings{"entitlement"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	r := gin.New()
	r.Use(BearerAuthMiddleware(cfg, zap.NewNop().Sugar()))
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, CallerID(c)+"|"+c.Request.Context().Value(logctx.KeyUserID).(string))
	})

	noExp := valid
	noExp.ExpiresAt = nil
	noSubject := valid
	noSubject.Subject = ""
	wrongIssuer := valid
	wrongIssuer.Issuer = "elsewhere"

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + sign(t, "s3cret", valid, jwt.SigningMethodHS256), http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + sign(t, "other", valid, jwt.SigningMethodHS256), http.StatusUnauthorized},
		{"alg none", "Bearer " + sign(t, "", valid, jwt.SigningMethodNone), http.StatusUnauthorized},
		{"no expiry", "Bearer " + sign(t, "s3cret", noExp, jwt.SigningMethodHS256), http.StatusUnauthorized},
		{"no subject", "Bearer " + sign(t, "s3cret", noSubject, jwt.SigningMethodHS256), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + sign(t, "s3cret", wrongIssuer, jwt.SigningMethodHS256), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(r, req)
			require.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				require.Equal(t, "u1|u1", w.Body.String())
			}
		})
	}
}

func TestBearerAuthMiddleware_NoSecretRejectsAll(t *testing.T) {
	r := gin.New()
	r.Use(BearerAuthMiddleware(config.AuthConfig{}, zap.NewNop().Sugar()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, "", jwt.RegisteredClaims{Subject: "u1"}, jwt.SigningMethodNone))
	require.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestAdminTokenMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(AdminTokenMiddleware(config.AuthConfig{AdminToken: "letmein"}, zap.NewNop().Sugar()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req.Header.Set(HeaderAdminToken, "letmein")
	require.Equal(t, http.StatusNoContent, serve(r, req).Code)

	empty := gin.New()
	empty.Use(AdminTokenMiddleware(config.AuthConfig{}, zap.NewNop().Sugar()))
	empty.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderAdminToken, "")
	require.Equal(t, http.StatusUnauthorized, serve(empty, req).Code)
}

func TestAccessLogMiddleware_WarnsOnServerError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(AccessLogMiddleware(zap.New(core).Sugar()))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
}
