package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"identity-gateway/internal/auth"
	"identity-gateway/internal/domain"
)

const principalKey = "principal"

const messageAccessDenied = "Access denied"

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// authenticate runs the gate for every request whose path is not public.
func (h *Handler) authenticate(public ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(public))
	for _, p := range public {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		principal, err := h.gate.Authenticate(c.Request.Context(), c.GetHeader("Authorization"), h.now())
		if err != nil {
			h.writeError(c, err)
			c.Abort()
			return
		}

		c.Set(principalKey, principal)
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

func currentPrincipal(c *gin.Context) *domain.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*domain.Principal); ok {
			return p
		}
	}
	return auth.PrincipalFromContext(c.Request.Context())
}

// requireAny admits principals holding at least one of the authorities.
func (h *Handler) requireAny(authorities ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := currentPrincipal(c)
		if p == nil || !p.HasAnyAuthority(authorities...) {
			abortWithError(c, http.StatusForbidden, messageAccessDenied)
			return
		}
		c.Next()
	}
}

// requireAll admits principals holding every one of the authorities.
func (h *Handler) requireAll(authorities ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := currentPrincipal(c)
		if p == nil || !p.HasAllAuthorities(authorities...) {
			abortWithError(c, http.StatusForbidden, messageAccessDenied)
			return
		}
		c.Next()
	}
}
