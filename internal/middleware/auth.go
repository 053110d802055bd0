// internal/middleware/auth.go
package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/checkout-backend/internal/i18n"
	"github.com/javajoker/checkout-backend/internal/models"
	"github.com/javajoker/checkout-backend/internal/utils"
)

var errInvalidScheme = errors.New("authorization header is not a bearer token")

func bearerClaims(c *gin.Context) (*utils.JWTClaims, bool, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, false, nil
	}

	// Extract token from "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, true, errInvalidScheme
	}

	claims, err := utils.ValidateJWT(parts[1])
	return claims, true, err
}

// ResolveOwner identifies the cart owner for every request: the bearer
// token's user when one is presented, otherwise a guest keyed by client IP.
// A presented but invalid token is rejected rather than downgraded to guest.
func ResolveOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := utils.GetLangFromContext(c)

		claims, presented, err := bearerClaims(c)
		if err != nil {
			key := i18n.KeyAuthTokenExpired
			if err == errInvalidScheme {
				key = i18n.KeyAuthInvalidToken
			}
			utils.UnauthorizedResponse(c, i18n.T(lang, key))
			c.Abort()
			return
		}

		if !presented {
			c.Set("owner", models.GuestOwner(c.ClientIP()))
			c.Next()
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidToken))
			c.Abort()
			return
		}

		// Set user info in context
		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Set("owner", models.UserOwner(userID, claims.Segments))
		c.Next()
	}
}

func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIDFromContext(c); !ok {
			utils.UnauthorizedResponse(c, "")
			c.Abort()
			return
		}
		role, _ := utils.GetRoleFromContext(c)
		if role != utils.RoleAdmin {
			utils.ForbiddenResponse(c, "")
			c.Abort()
			return
		}
		c.Next()
	}
}
