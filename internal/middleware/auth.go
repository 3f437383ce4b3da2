package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/firmscope/backend/internal/config"
)

// SessionCookie is the cookie the login endpoint sets.
const SessionCookie = "session_token"

// AuthMiddleware gates the API. A caller is authorized either by presenting
// the configured API key in X-Api-Key, or by a session token (Bearer header
// or cookie) issued by the login endpoint. Credentials come from the config
// built at startup; nothing here mutates shared state.
func AuthMiddleware(auth *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-Api-Key"); key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(auth.APIKey)) == 1 {
				c.Next()
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized - invalid or missing API key"})
			c.Abort()
			return
		}

		tokenString := ""
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenString = strings.TrimPrefix(header, "Bearer ")
		} else if cookie, err := c.Cookie(SessionCookie); err == nil {
			tokenString = cookie
		}

		if tokenString == "" || !validSessionToken(tokenString, auth.JWTSecret) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized - invalid credentials"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func validSessionToken(tokenString, secret string) bool {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	return err == nil && token.Valid
}
