// Package response writes JSON error bodies for gin handlers.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"go.uber.org/zap"
)

// ErrorResponse represents a standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// ErrorWithCode sends an error response with an error code.
func ErrorWithCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message, Code: code})
}

// BadRequest sends a 400 response for malformed input.
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusBadRequest, apperrors.ErrInvalid.Code, message)
}

// HandleError writes err as JSON. AppErrors keep their status and code
// unless they are internal; anything else is logged and reported as a 500
// without detail.
func HandleError(c *gin.Context, logger *zap.Logger, err error) {
	if appErr, ok := apperrors.As(err); ok && appErr.StatusCode != http.StatusInternalServerError {
		ErrorWithCode(c, appErr.StatusCode, appErr.Code, appErr.Message)
		return
	}
	logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.String("method", c.Request.Method),
		zap.Error(err),
	)
	ErrorWithCode(c, http.StatusInternalServerError, apperrors.ErrInternal.Code, apperrors.ErrInternal.Message)
}
