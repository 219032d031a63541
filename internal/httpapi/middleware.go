package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lingolive/lingolive/internal/auth"
)

// claimsKey is the gin context key under which [AuthRequired] stores the
// verified token claims.
const claimsKey = "lingolive.claims"

// AuthRequired verifies the bearer token on every request in the group and
// stores the resulting [auth.Claims] for handlers to pick up. The token may
// arrive in the Authorization header or, for WebSocket upgrades where
// browsers cannot set headers, in the "token" query parameter.
func AuthRequired(issuer *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.Request)
		if raw == "" {
			raw = c.Query("token")
		}
		if raw == "" {
			fail(c, http.StatusUnauthorized, codeUnauthorized, "missing token")
			return
		}

		claims, err := issuer.Verify(raw)
		if err != nil {
			fail(c, http.StatusUnauthorized, codeUnauthorized, "invalid token")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func claimsFromContext(c *gin.Context) *auth.Claims {
	v, exists := c.Get(claimsKey)
	if !exists {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}
