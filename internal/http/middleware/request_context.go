package middleware

import "github.com/gin-gonic/gin"

// AttachRequestContext runs after AttachTraceContext and before RequireAuth so every
// handler sees a context.Context derived from the same request, even for
// routes that skip auth (health, metrics).
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(c.Request.Context())
		c.Next()
	}
}
