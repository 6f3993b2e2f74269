// auth.go authenticates admin-API requests. Two methods are supported: platform-issued
// JWTs (stateless, checked first) and bcrypt-hashed API keys (one indexed prefix
// lookup, then bcrypt comparison on the few candidate rows).
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → Recovery → Pipeline → RateLimit → Auth → Handler
//
// Security headers run first so they appear on all responses including errors. The
// audit pipeline runs before auth so that failed authentications are themselves
// inspected and recorded.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finvest-platform/audit-service/internal/auth"
	"github.com/finvest-platform/audit-service/internal/db/repositories"
	"github.com/finvest-platform/audit-service/internal/safego"
)

// apiKeyPrefixLength is how many leading characters of a key are stored plaintext for
// the indexed candidate lookup.
const apiKeyPrefixLength = 10

// RoleAdmin is required for mutating admin operations (settings, cleanup, key
// management); RoleViewer suffices for reads and reports.
const (
	RoleAdmin  = "audit:admin"
	RoleViewer = "audit:viewer"
)

// AuthMiddleware validates authentication (JWT or API key) and populates user_id,
// auth_method and roles in the request context. expectedPrefix, when non-empty, is
// the deployment's key prefix (e.g. "aud_"); tokens that fail JWT verification and
// don't carry it are rejected without a database lookup.
func AuthMiddleware(verifier *auth.Verifier, apiKeyRepo *repositories.APIKeyRepository, apiKeysEnabled bool, expectedPrefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authorization token is empty",
			})
			return
		}

		// JWT first: stateless, no database round-trip.
		if verifier != nil {
			if claims, err := verifier.Verify(token); err == nil {
				c.Set("user_id", claims.UserID)
				c.Set("auth_method", "jwt")
				c.Set("roles", claims.Roles)
				c.Next()
				return
			}
		}

		if !apiKeysEnabled {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		if expectedPrefix != "" && !strings.HasPrefix(token, expectedPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		// API key: the stored plaintext prefix narrows the candidate set so bcrypt
		// runs on a handful of rows, not the whole table.
		keyPrefix := token
		if len(token) > apiKeyPrefixLength {
			keyPrefix = token[:apiKeyPrefixLength]
		}

		candidates, err := apiKeyRepo.GetByPrefix(c.Request.Context(), keyPrefix)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "authentication failed",
			})
			return
		}

		now := time.Now()
		for _, candidate := range candidates {
			if candidate.Expired(now) {
				continue
			}
			if !auth.VerifyAPIKey(token, candidate.KeyHash) {
				continue
			}

			keyID := candidate.ID
			repo := apiKeyRepo
			safego.Go(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = repo.UpdateLastUsed(ctx, keyID)
			})

			c.Set("user_id", "apikey:"+candidate.Name)
			c.Set("auth_method", "api_key")
			c.Set("roles", []string{RoleViewer})
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid token",
		})
	}
}

// RequireRole aborts with 403 unless the authenticated principal carries the role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get("roles")
		if ok {
			if roles, ok := v.([]string); ok {
				for _, r := range roles {
					if r == role {
						c.Next()
						return
					}
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "insufficient permissions",
		})
	}
}
