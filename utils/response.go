package utils

import (
	"github.com/gin-gonic/gin"
)

// JSONResponse sends a structured JSON response with the payload keys at top level
func JSONResponse(c *gin.Context, status int, message string, payload gin.H) {
	body := gin.H{
		"status":  status,
		"message": message,
	}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

// JSONError sends a structured error response. The user-facing message is
// returned under "error"; err is only used for the abort record.
func JSONError(c *gin.Context, status int, err error, message string) {
	if err != nil {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"error":   message,
	})
}
