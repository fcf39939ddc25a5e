package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// SecurityConfig represents security headers configuration
type SecurityConfig struct {
	HSTS                  bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	FrameOptions          string
	ContentTypeOptions    string
	ReferrerPolicy        string
}

// DefaultSecurityConfig returns headers suitable for a JSON-only API.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		HSTS:                  true,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
		FrameOptions:          "DENY",
		ContentTypeOptions:    "nosniff",
		ReferrerPolicy:        "no-referrer",
	}
}

// SecurityHeaders adds security headers to responses
func SecurityHeaders(config SecurityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.HSTS {
			value := fmt.Sprintf("max-age=%d", config.HSTSMaxAge)
			if config.HSTSIncludeSubdomains {
				value += "; includeSubDomains"
			}
			c.Header("Strict-Transport-Security", value)
		}

		c.Header("X-Frame-Options", config.FrameOptions)
		c.Header("X-Content-Type-Options", config.ContentTypeOptions)
		c.Header("Referrer-Policy", config.ReferrerPolicy)
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}
