package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	headerName = "X-API-Key"
	// queryName lets browsers authenticate WebSocket upgrades, which cannot
	// carry custom headers.
	queryName = "api_key"
)

// APIKeyMiddleware accepts any of keys from the X-API-Key header or the
// api_key query parameter. With no keys, authentication is disabled.
func APIKeyMiddleware(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" {
			provided = c.Query(queryName)
		}
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}

		if !validKey(keys, provided) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
			})
			return
		}

		c.Next()
	}
}

// validKey compares against every key so timing does not reveal which one
// matched.
func validKey(keys []string, provided string) bool {
	ok := 0
	for _, k := range keys {
		ok |= subtle.ConstantTimeCompare([]byte(provided), []byte(k))
	}
	return ok == 1
}
