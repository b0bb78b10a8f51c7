// Package badge serves the authoritative badge counts and holds the
// client-side aggregator that keeps them live between fetches.
package badge

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskhub/server/internal/module/invitation"
	"github.com/taskhub/server/internal/shared/middleware"
	"github.com/taskhub/server/internal/shared/response"
)

// Counts are the badge counters of one user.
type Counts struct {
	Notifications int `json:"notifications"`
	Invitations   int `json:"invitations"`
}

// NotificationCounter counts unread notifications.
type NotificationCounter interface {
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
}

// InvitationCounter counts pending invitations addressed to a user.
type InvitationCounter interface {
	CountMine(ctx context.Context, actor invitation.Actor) (int, error)
}

// Handler serves GET /badges.
type Handler struct {
	notifications NotificationCounter
	invitations   InvitationCounter
	logger        *zap.Logger
}

// NewHandler creates a badge handler.
func NewHandler(notifications NotificationCounter, invitations InvitationCounter, logger *zap.Logger) *Handler {
	return &Handler{notifications: notifications, invitations: invitations, logger: logger}
}

// RegisterRoutes registers badge routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/badges", h.Get)
}

// Get handles GET /badges.
//
//	@Summary		Get badge counts
//	@Description	Unread notifications and pending invitations
//	@Tags			Notification
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	Counts
//	@Failure		401	{object}	response.ErrorResponse
//	@Router			/badges [get]
func (h *Handler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	unread, err := h.notifications.UnreadCount(ctx, userID)
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	pending, err := h.invitations.CountMine(ctx, invitation.Actor{ID: userID, Email: middleware.GetEmail(c)})
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, Counts{Notifications: unread, Invitations: pending})
}
