package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORSConfig controls which browser origins may call the API. The
// method and header lists are fixed: the surface is GET and POST JSON
// endpoints only.
type CORSConfig struct {
	AllowOrigins []string
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{AllowOrigins: []string{"*"}}
}

func CORS(config CORSConfig) gin.HandlerFunc {
	wildcard := false
	allowed := make(map[string]struct{}, len(config.AllowOrigins))
	for _, o := range config.AllowOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok || wildcard {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
				c.Header("Access-Control-Expose-Headers", "Content-Length, X-Request-ID")
				c.Header("Access-Control-Max-Age", "43200")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
