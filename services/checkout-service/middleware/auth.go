package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const TokenKey = "sessionToken"

// SessionToken extracts the caller's session credential from the cookie, or
// from an Authorization bearer header, and stores it on the context. It does
// not reject requests: the verification pipeline decides whether a missing
// or invalid credential matters, after the attempt limiter has run.
func SessionToken(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err != nil || token == "" {
			header := c.GetHeader("Authorization")
			if strings.HasPrefix(header, "Bearer ") {
				token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			}
		}
		if token != "" {
			c.Set(TokenKey, token)
		}
		c.Next()
	}
}

func GetSessionToken(c *gin.Context) string {
	if val, exists := c.Get(TokenKey); exists {
		return val.(string)
	}
	return ""
}
