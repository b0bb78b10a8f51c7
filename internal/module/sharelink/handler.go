package sharelink

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskhub/server/internal/shared/middleware"
	"github.com/taskhub/server/internal/shared/request"
	"github.com/taskhub/server/internal/shared/response"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for share links.
type Handler struct {
	service *Service
	logger  *zap.Logger
	guards  []gin.HandlerFunc
}

// NewHandler creates a new share link handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// WithGuards adds middleware in front of the token routes.
func (h *Handler) WithGuards(guards ...gin.HandlerFunc) *Handler {
	h.guards = append(h.guards, guards...)
	return h
}

// RegisterRoutes registers share link routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/projects/:id/links", h.List)
	r.POST("/projects/:id/links", h.Create)

	links := r.Group("/links", h.guards...)
	{
		links.GET("/:token", h.Preview)
		links.POST("/:token/redeem", h.Redeem)
		links.DELETE("/:token", h.Revoke)
	}
}

// CreateRequest is the body of POST /projects/:id/links.
type CreateRequest struct {
	Permission string     `json:"permission" binding:"required"`
	ExpiresAt  *time.Time `json:"expires_at"`
	MaxUses    *int       `json:"max_uses"`
}

// Create handles POST /projects/:id/links.
//
//	@Summary		Create share link
//	@Description	Requires admin
//	@Tags			ShareLink
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Param			request	body	CreateRequest	true	"Link settings"
//	@Success		201	{object}	model.ShareLink
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/projects/{id}/links [post]
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

	link, err := h.service.Create(c.Request.Context(), middleware.GetUserID(c), projectID, CreateInput{
		Permission: req.Permission,
		ExpiresAt:  req.ExpiresAt,
		MaxUses:    req.MaxUses,
	})
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

// List handles GET /projects/:id/links.
//
//	@Summary		List share links
//	@Description	Requires admin
//	@Tags			ShareLink
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Success		200	{object}	map[string]interface{}
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/projects/{id}/links [get]
func (h *Handler) List(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	links, err := h.service.List(c.Request.Context(), middleware.GetUserID(c), projectID)
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"links": links})
}

// Preview handles GET /links/:token.
//
//	@Summary		Preview share link
//	@Tags			ShareLink
//	@Produce		json
//	@Security		BearerAuth
//	@Param			token	path	string	true	"Share link token"
//	@Success		200	{object}	Preview
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		410	{object}	response.ErrorResponse
//	@Failure		429	{object}	response.ErrorResponse
//	@Router			/links/{token} [get]
func (h *Handler) Preview(c *gin.Context) {
	preview, err := h.service.Preview(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// Redeem handles POST /links/:token/redeem.
//
//	@Summary		Redeem share link
//	@Description	Grants the link permission and befriends the link creator
//	@Tags			ShareLink
//	@Produce		json
//	@Security		BearerAuth
//	@Param			token	path	string	true	"Share link token"
//	@Success		200	{object}	model.Share
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		409	{object}	response.ErrorResponse
//	@Failure		410	{object}	response.ErrorResponse
//	@Failure		429	{object}	response.ErrorResponse
//	@Router			/links/{token}/redeem [post]
func (h *Handler) Redeem(c *gin.Context) {
	share, err := h.service.Redeem(c.Request.Context(), middleware.GetUserID(c), c.Param("token"))
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, share)
}

// Revoke handles DELETE /links/:token.
//
//	@Summary		Revoke share link
//	@Tags			ShareLink
//	@Produce		json
//	@Security		BearerAuth
//	@Param			token	path	string	true	"Share link token"
//	@Success		204
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Failure		429	{object}	response.ErrorResponse
//	@Router			/links/{token} [delete]
func (h *Handler) Revoke(c *gin.Context) {
	if err := h.service.Revoke(c.Request.Context(), middleware.GetUserID(c), c.Param("token")); err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
