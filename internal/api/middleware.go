package api

import (
	"fmt"
	"net/http"
	"strings"

	"chargehive/internal/models"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
)

const (
	ctxIdentityID   = "identity_id"
	ctxIdentityType = "identity_type"
	ctxEmail        = "email"
)

// AuthRequired validates the Bearer token and stashes the caller's
// identity in the request context. Tokens are HMAC-signed with the
// shared auth secret and carry sub/email/type claims.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims,
			func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token missing subject"})
			return
		}

		identityType, _ := claims["type"].(string)
		email, _ := claims["email"].(string)

		c.Set(ctxIdentityID, sub)
		c.Set(ctxIdentityType, identityType)
		c.Set(ctxEmail, email)
		c.Next()
	}
}

// ProviderOnly gates provider-side endpoints.
func ProviderOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxIdentityType) != models.IdentityTypeProvider {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "provider role required"})
			return
		}
		c.Next()
	}
}
