package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/terrainiq/dashcam-server/internal/config"
	"github.com/terrainiq/dashcam-server/internal/logging"
	"github.com/terrainiq/dashcam-server/internal/middleware"
	"golang.org/x/crypto/bcrypt"
)

// TokenRequest is the body of POST /auth/token.
type TokenRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Secret   string `json:"secret" binding:"required"`
}

// AuthHandler issues device tokens against the shared provisioning secret.
type AuthHandler struct {
	jwtSecret  string
	secretHash []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		jwtSecret:  cfg.JWTSecret,
		secretHash: []byte(cfg.ProvisioningSecretHash),
		ttl:        cfg.TokenTTL,
		now:        time.Now,
	}
}

// Token handles POST /auth/token.
func (h *AuthHandler) Token(c *gin.Context) {
	if h.jwtSecret == "" || len(h.secretHash) == 0 {
		fail(c, http.StatusNotFound, "token issuing is disabled")
		return
	}

	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "device_id and secret are required")
		return
	}

	if err := bcrypt.CompareHashAndPassword(h.secretHash, []byte(req.Secret)); err != nil {
		logging.Warn().Str("device_id", req.DeviceID).Msg("rejected provisioning secret")
		fail(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expires, err := middleware.IssueToken(h.jwtSecret, req.DeviceID, h.ttl, h.now())
	if err != nil {
		c.Error(err)
		fail(c, http.StatusInternalServerError, "failed to issue token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"token":      token,
		"token_type": "Bearer",
		"expires_at": expires.UTC(),
	})
}
