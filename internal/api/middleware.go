package api

import "github.com/gin-gonic/gin"

// reviewerFrom extracts the acting operator from the reverse proxy's
// identity headers (oauth2-proxy convention), falling back to a generic
// service-account label so every approval/reject/feedback call always has
// a non-empty actor to record.
func reviewerFrom(c *gin.Context) string {
	if user := c.GetHeader("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.GetHeader("X-Forwarded-Email"); email != "" {
		return email
	}
	return "api-client"
}

// securityHeaders sets standard response headers on every response.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
