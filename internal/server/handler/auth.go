package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tracevault/tracevault/internal/operator"
)

const claimsCtxKey = "operator_claims"

// AuthHandler issues operator session tokens.
type AuthHandler struct {
	passwordHash string
	tokens       *operator.TokenIssuer
	logger       *zap.Logger
}

// NewAuthHandler creates an AuthHandler. passwordHash is the bcrypt hash of
// the operator password from configuration.
func NewAuthHandler(passwordHash string, tokens *operator.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{passwordHash: passwordHash, tokens: tokens, logger: logger}
}

// Register mounts the auth routes on the provided router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/token", h.IssueToken)
	}
}

type tokenRequest struct {
	Operator string `json:"operator" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// IssueToken handles POST /auth/token — exchanges the operator password for
// a short-lived bearer token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.passwordHash == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "operator access is not configured"})
		return
	}
	if err := operator.CheckPassword(h.passwordHash, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.tokens.Issue(req.Operator)
	if err != nil {
		h.logger.Error("issue operator token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(h.tokens.TTL().Seconds()),
	})
}

// RequireOperator returns a middleware that rejects requests without a valid
// operator bearer token and stores the claims in the request context.
func RequireOperator(tokens *operator.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator token required"})
			return
		}

		claims, err := tokens.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(claimsCtxKey, claims)
		c.Next()
	}
}

// operatorActor returns the operator name from the verified token claims,
// for attribution in recorded audit events.
func operatorActor(c *gin.Context) string {
	v, ok := c.Get(claimsCtxKey)
	if !ok {
		return ""
	}
	claims, ok := v.(*operator.Claims)
	if !ok {
		return ""
	}
	return claims.Operator
}
