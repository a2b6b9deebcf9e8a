// Package respond writes the JSON envelope every HTTP endpoint returns.
package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope is the body shape shared by all endpoints: {message, result, data}.
type Envelope struct {
	Message string `json:"message,omitempty"`
	Result  bool   `json:"result"`
	Data    any    `json:"data,omitempty"`
}

// OK writes a successful envelope.
func OK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Envelope{Message: message, Result: true, Data: data})
}

// Error writes a failed envelope. message must be safe to show to clients.
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Envelope{Message: message, Result: false})
}

// Abort writes a failed envelope and stops the handler chain. Middleware uses it.
func Abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Envelope{Message: message, Result: false})
}
