package principal

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const header = "X-Capstan-Principal"

// GinMiddleware resolves the caller identity from the request and attaches it
// to the request context. Authentication happens upstream; an absent header
// leaves the request anonymous.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := strings.TrimSpace(c.GetHeader(header))
		if name != "" {
			ctx := WithPrincipal(c.Request.Context(), Principal{Name: name, Type: TypeUser})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
