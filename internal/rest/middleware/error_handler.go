package middleware

import (
	"github.com/gin-gonic/gin"

	ierr "github.com/meterline/meterline/internal/errors"
)

// ErrorHandler converts errors attached to the gin context into the standard
// error response shape. Handlers call c.Error and return.
func ErrorHandler(c *gin.Context) {
	c.Next()

	if len(c.Errors) == 0 || c.Writer.Written() {
		return
	}

	resp, status := ierr.NewErrorResponse(c.Errors.Last().Err)
	c.JSON(status, resp)
}
