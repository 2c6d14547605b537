package middleware

import "github.com/gin-gonic/gin"

// The API only serves JSON and the metrics text format, so nothing it
// returns may load further resources or be framed.
const contentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders sets security-related response headers. HSTS is only sent
// over TLS.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Header("Content-Security-Policy", contentSecurityPolicy)
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
