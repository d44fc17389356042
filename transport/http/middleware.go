package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/relier-id/relier/ports"
)

// sessionContextKey is where the middleware stores the parsed session
const sessionContextKey = "session"

// SessionMiddleware checks if the request carries a valid session token
func SessionMiddleware(tokenizer ports.Tokenizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			return
		}

		tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		info, err := tokenizer.SessionFromToken(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}

		c.Set(sessionContextKey, info)

		c.Next()
	}
}
