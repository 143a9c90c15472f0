package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"campus-election-backend/authz"
	"campus-election-backend/errs"
)

const principalKey = "principal"

// Authenticate reads a bearer token, or a token query parameter for
// websocket and SSE clients, and stores the caller in the context.
// Requests without a token continue anonymously; the services decide what
// anonymous callers may do. A token that does not verify is rejected.
func Authenticate(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c.GetHeader("Authorization"))
		if raw == "" {
			raw = c.Query("token")
		}
		if raw == "" {
			c.Next()
			return
		}
		claims, err := tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "kind": errs.KindForbidden})
			return
		}
		c.Set(principalKey, claims.Principal())
		c.Next()
	}
}

func bearer(header string) string {
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("bearer "):])
}

// PrincipalFrom returns the caller stored by Authenticate, or the zero
// principal.
func PrincipalFrom(c *gin.Context) authz.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(authz.Principal); ok {
			return p
		}
	}
	return authz.Principal{}
}

// RequireAction aborts requests whose caller lacks a.
func RequireAction(a authz.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if err := authz.Require(p, a); err != nil {
			status := http.StatusForbidden
			if !p.Authenticated() {
				status = http.StatusUnauthorized
			}
			c.AbortWithStatusJSON(status, gin.H{"error": errs.MessageOf(err), "kind": errs.KindOf(err)})
			return
		}
		c.Next()
	}
}
