package common

import "github.com/gin-gonic/gin"

// OK and Fail are the JSON envelope for the non-OpenAI surface (health,
// admin). The /v1 routes use OpenAI-shaped errors instead.
func OK(c *gin.Context, data any) {
	c.JSON(200, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

// OpenAIError renders the error shape OpenAI clients expect.
func OpenAIError(c *gin.Context, httpStatus int, code, msg string) {
	c.JSON(httpStatus, gin.H{
		"error": gin.H{
			"message": msg,
			"type":    "invalid_request_error",
			"code":    code,
		},
	})
}
