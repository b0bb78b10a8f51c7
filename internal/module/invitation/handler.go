package invitation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/shared/middleware"
	"github.com/taskhub/server/internal/shared/request"
	"github.com/taskhub/server/internal/shared/response"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for invitations.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new invitation handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers invitation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/projects/:id/invitations", h.ListForProject)
	r.POST("/projects/:id/invitations", h.Create)

	invitations := r.Group("/invitations")
	{
		invitations.GET("", h.ListMine)
		invitations.POST("/:id/accept", h.Accept)
		invitations.POST("/:id/reject", h.Reject)
		invitations.DELETE("/:id", h.Cancel)
	}
}

// CreateRequest is the body of POST /projects/:id/invitations.
type CreateRequest struct {
	Email      string `json:"email" binding:"required"`
	Permission string `json:"permission" binding:"required"`
}

func actorFrom(c *gin.Context) Actor {
	return Actor{ID: middleware.GetUserID(c), Email: middleware.GetEmail(c)}
}

// Create handles POST /projects/:id/invitations.
//
//	@Summary		Invite by email
//	@Description	The invitee need not have an account yet. Requires admin
//	@Tags			Invitation
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Param			request	body	CreateRequest	true	"Invitation"
//	@Success		201	{object}	model.Invitation
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Failure		409	{object}	response.ErrorResponse
//	@Router			/projects/{id}/invitations [post]
func (h *Handler) Create(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	inv, err := h.service.Create(c.Request.Context(), actorFrom(c), projectID, CreateInput{
		Email:      req.Email,
		Permission: req.Permission,
	})
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

// ListForProject handles GET /projects/:id/invitations?status=pending.
//
//	@Summary		List project invitations
//	@Tags			Invitation
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Param			status	query	string	false	"pending, accepted, rejected or cancelled"
//	@Success		200	{object}	map[string]interface{}
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/projects/{id}/invitations [get]
func (h *Handler) ListForProject(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	var status *model.InvitationStatus
	if s := c.Query("status"); s != "" {
		st := model.InvitationStatus(s)
		switch st {
		case model.InvitationStatusPending, model.InvitationStatusAccepted, model.InvitationStatusRejected:
			status = &st
		default:
			response.BadRequest(c, "invalid status")
			return
		}
	}

	list, err := h.service.ListForProject(c.Request.Context(), actorFrom(c), projectID, status)
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invitations": list})
}

// ListMine handles GET /invitations.
//
//	@Summary		List my invitations
//	@Description	Pending invitations addressed to the caller
//	@Tags			Invitation
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	map[string]interface{}
//	@Failure		401	{object}	response.ErrorResponse
//	@Router			/invitations [get]
func (h *Handler) ListMine(c *gin.Context) {
	list, err := h.service.ListMine(c.Request.Context(), actorFrom(c))
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invitations": list})
}

// Accept handles POST /invitations/:id/accept.
//
//	@Summary		Accept invitation
//	@Tags			Invitation
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Invitation ID"
//	@Success		200	{object}	model.Share
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Failure		409	{object}	response.ErrorResponse
//	@Router			/invitations/{id}/accept [post]
func (h *Handler) Accept(c *gin.Context) {
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	share, err := h.service.Accept(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, share)
}

// Reject handles POST /invitations/:id/reject.
//
//	@Summary		Reject invitation
//	@Tags			Invitation
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Invitation ID"
//	@Success		200	{object}	model.Invitation
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Failure		409	{object}	response.ErrorResponse
//	@Router			/invitations/{id}/reject [post]
func (h *Handler) Reject(c *gin.Context) {
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	inv, err := h.service.Reject(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// Cancel handles DELETE /invitations/:id.
//
//	@Summary		Cancel invitation
//	@Tags			Invitation
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Invitation ID"
//	@Success		204
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Failure		409	{object}	response.ErrorResponse
//	@Router			/invitations/{id} [delete]
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.Cancel(c.Request.Context(), actorFrom(c), id); err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
