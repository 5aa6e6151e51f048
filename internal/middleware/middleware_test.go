package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terrainiq/dashcam-server/internal/config"
	"github.com/terrainiq/dashcam-server/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func runAuth(cfg *config.Config, header string) (*httptest.ResponseRecorder, *gin.Context) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/", nil)
	if header != "" {
		c.Request.Header.Set("Authorization", header)
	}
	middleware.Auth(cfg)(c)
	return w, c
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret"}

	t.Run("should reject missing auth header", func(t *testing.T) {
		w, _ := runAuth(cfg, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("should reject invalid auth header format", func(t *testing.T) {
		w, _ := runAuth(cfg, "InvalidFormat token123")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("should reject invalid token", func(t *testing.T) {
		w, _ := runAuth(cfg, "Bearer invalid.token.here")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("should accept valid token", func(t *testing.T) {
		token, _, err := middleware.IssueToken(cfg.JWTSecret, "cam-7", time.Hour, time.Now())
		require.NoError(t, err)

		_, c := runAuth(cfg, "Bearer "+token)
		assert.False(t, c.IsAborted())
		assert.Equal(t, "cam-7", middleware.GetDeviceID(c))
	})

	t.Run("should reject expired token", func(t *testing.T) {
		token, _, err := middleware.IssueToken(cfg.JWTSecret, "cam-7", time.Hour, time.Now().Add(-2*time.Hour))
		require.NoError(t, err)

		w, _ := runAuth(cfg, "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("should reject token signed with another secret", func(t *testing.T) {
		token, _, err := middleware.IssueToken("other-secret", "cam-7", time.Hour, time.Now())
		require.NoError(t, err)

		w, _ := runAuth(cfg, "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("should reject token without device", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, &middleware.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		signed, err := token.SignedString([]byte(cfg.JWTSecret))
		require.NoError(t, err)

		w, _ := runAuth(cfg, "Bearer "+signed)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("should let everything through without a secret", func(t *testing.T) {
		_, c := runAuth(&config.Config{}, "")
		assert.False(t, c.IsAborted())
		assert.Empty(t, middleware.GetDeviceID(c))
	})
}

func TestCORS(t *testing.T) {
	newRouter := func(origins []string) *gin.Engine {
		r := gin.New()
		r.Use(middleware.CORS(origins))
		r.GET("/uploads", func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	t.Run("should echo an allowed origin", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/uploads", nil)
		req.Header.Set("Origin", "https://fleet.example.com")
		newRouter([]string{"https://fleet.example.com"}).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://fleet.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Chunk-Index")
	})

	t.Run("should omit headers for other origins", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/uploads", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		newRouter([]string{"https://fleet.example.com"}).ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("should allow any origin with a wildcard", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/uploads", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		newRouter([]string{"*"}).ServeHTTP(w, req)

		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("should answer preflight requests", func(t *testing.T) {
		r := gin.New()
		r.Use(middleware.CORS([]string{"*"}))
		r.OPTIONS("/*any", func(c *gin.Context) { c.Status(http.StatusTeapot) })

		w := httptest.NewRecorder()
		req := httptest.NewRequest("OPTIONS", "/upload/chunk/abc", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestRequestLogger(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestLogger())
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
