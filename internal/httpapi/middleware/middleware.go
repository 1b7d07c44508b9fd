package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/soragate/soragate/internal/common"
)

const RequestIDKey = "request_id"

// RequestID tags every request; echoed back for log correlation.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// Recovery turns panics into a JSON 500 instead of a dropped connection.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic recovered path=%s err=%v", c.Request.URL.Path, r)
				if !c.Writer.Written() {
					common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

// APIKeyRequired checks the inbound bearer key against the configured list.
// Keys starting with "$2" are treated as bcrypt hashes.
func APIKeyRequired(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth {
			common.OpenAIError(c, http.StatusUnauthorized, "invalid_api_key", "missing bearer token")
			c.Abort()
			return
		}
		for _, k := range keys {
			if strings.HasPrefix(k, "$2") {
				if bcrypt.CompareHashAndPassword([]byte(k), []byte(token)) == nil {
					c.Next()
					return
				}
				continue
			}
			if k == token {
				c.Next()
				return
			}
		}
		common.OpenAIError(c, http.StatusUnauthorized, "invalid_api_key", "invalid api key")
		c.Abort()
	}
}
