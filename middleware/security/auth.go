package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"SocialGW/tools/security"
)

// CtxUserKey is where downstream handlers read the authenticated internal
// user id from.
const CtxUserKey = "authUserId"

type Options struct {
	Secret []byte
	// Websocket clients can't always set headers; allow ?token= as fallback.
	AllowQueryToken bool
}

func DefaultOptions(secret []byte) *Options {
	return &Options{Secret: secret, AllowQueryToken: true}
}

// Middleware verifies the handshake bearer token and stashes the resolved
// user id in the gin context. Token issuance belongs to the auth service;
// this gateway only checks.
func Middleware(opts *Options) gin.HandlerFunc {
	verifyOpts := security.DefaultOptions(opts.Secret)

	return func(c *gin.Context) {
		token := ""
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
		if token == "" && opts.AllowQueryToken {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := security.Verify(verifyOpts, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(CtxUserKey, claims.UserID)
		c.Next()
	}
}
