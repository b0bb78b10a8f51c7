package notification

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/taskhub/server/internal/shared/middleware"
	"github.com/taskhub/server/internal/shared/response"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for notifications.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new notification handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers notification routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.POST("/read", h.MarkRead)
		notifications.POST("/read-all", h.MarkAllRead)
	}
}

// MarkReadRequest lists notifications to mark read.
type MarkReadRequest struct {
	IDs []uuid.UUID `json:"ids" binding:"required"`
}

// List handles GET /notifications?unread=true&before=RFC3339&limit=N.
//
//	@Summary		List notifications
//	@Description	Newest first, paged by created_at
//	@Tags			Notification
//	@Produce		json
//	@Security		BearerAuth
//	@Param			unread	query	bool	false	"Only unread"
//	@Param			before	query	string	false	"RFC3339 cursor"
//	@Param			limit	query	int	false	"Page size"
//	@Success		200	{object}	Page
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Router			/notifications [get]
func (h *Handler) List(c *gin.Context) {
	in := ListInput{UnreadOnly: c.Query("unread") == "true"}
	if s := c.Query("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		in.Limit = limit
	}
	if s := c.Query("before"); s != "" {
		before, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			response.BadRequest(c, "invalid before")
			return
		}
		in.Before = &before
	}

	page, err := h.service.List(c.Request.Context(), middleware.GetUserID(c), in)
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// MarkRead handles POST /notifications/read.
//
//	@Summary		Mark notifications read
//	@Description	Ids that belong to other users are ignored
//	@Tags			Notification
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body	MarkReadRequest	true	"Notification IDs"
//	@Success		200	{object}	map[string]int
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Router			/notifications/read [post]
func (h *Handler) MarkRead(c *gin.Context) {
	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	changed, err := h.service.MarkRead(c.Request.Context(), middleware.GetUserID(c), req.IDs)
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": changed})
}

// MarkAllRead handles POST /notifications/read-all.
//
//	@Summary		Mark all notifications read
//	@Tags			Notification
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	map[string]int
//	@Failure		401	{object}	response.ErrorResponse
//	@Router			/notifications/read-all [post]
func (h *Handler) MarkAllRead(c *gin.Context) {
	changed, err := h.service.MarkAllRead(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": changed})
}
