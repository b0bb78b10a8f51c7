// Package request parses path and query parameters for gin handlers.
package request

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/taskhub/server/internal/shared/response"
)

// UUIDParam parses the named path parameter. On failure it writes a 400
// and returns false.
func UUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
