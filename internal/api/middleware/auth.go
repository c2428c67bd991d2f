package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/bedrock-server-manager/internal/auth"
)

// gin context keys set by Auth
const (
	claimsKey   = "claims"
	operatorKey = "operator"
)

var (
	errNoToken      = errors.New("authentication required")
	errBadAuthority = errors.New("authorization header must be \"Bearer <token>\"")
)

// Auth validates the operator token. Browsers cannot set headers on a
// websocket upgrade, so ?token= is accepted as well.
func Auth(tokens *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := tokens.ValidateToken(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(claimsKey, claims)
		c.Set(operatorKey, claims.Operator)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", errBadAuthority
		}
		return strings.TrimSpace(token), nil
	}
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", errNoToken
}

// Claims returns the validated token claims, or nil when auth is disabled.
func Claims(c *gin.Context) *auth.Claims {
	value, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*auth.Claims)
	return claims
}

// RequireScope rejects tokens lacking scope. It only runs behind Auth.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errNoToken.Error()})
			return
		}
		if !claims.Allows(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope", "required": scope})
			return
		}
		c.Next()
	}
}

// Operator returns the authenticated operator name, or "anonymous"
func Operator(c *gin.Context) string {
	if operator := c.GetString(operatorKey); operator != "" {
		return operator
	}
	return "anonymous"
}

// CanOperate reports whether the request may change server state. With
// authentication disabled every request may.
func CanOperate(c *gin.Context) bool {
	claims := Claims(c)
	return claims == nil || claims.Allows(auth.ScopeOperate)
}
