package api

import (
	"github.com/gin-gonic/gin"

	"github.com/scanhive/scanhive/internal/apierror"
)

// respondError writes an error with its mapped HTTP status. Taxonomy errors
// keep their structured form; anything else is wrapped.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	if apiErr, ok := err.(apierror.APIError); ok {
		c.JSON(status, apiErr)
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
