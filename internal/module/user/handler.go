package user

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/shared/middleware"
	"github.com/taskhub/server/internal/shared/request"
	"github.com/taskhub/server/internal/shared/response"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for the caller's account and friends.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new user handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers user routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/me", h.Me)
	r.PATCH("/me", h.UpdateProfile)

	friends := r.Group("/friends")
	{
		friends.GET("", h.ListFriends)
		friends.DELETE("/:id", h.RemoveFriend)
	}
}

// UpdateProfileRequest is the body of PATCH /me.
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name"`
}

// Me handles GET /me.
//
//	@Summary		Get current user
//	@Tags			User
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	model.User
//	@Failure		401	{object}	response.ErrorResponse
//	@Router			/me [get]
func (h *Handler) Me(c *gin.Context) {
	user, err := h.service.Me(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile handles PATCH /me.
//
//	@Summary		Update profile
//	@Tags			User
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body	UpdateProfileRequest	true	"Profile"
//	@Success		200	{object}	model.User
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Router			/me [patch]
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, err := h.service.UpdateProfile(c.Request.Context(), middleware.GetUserID(c), ProfileInput{DisplayName: req.DisplayName})
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// ListFriends handles GET /friends.
//
//	@Summary		List friends
//	@Tags			User
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	map[string]interface{}
//	@Failure		401	{object}	response.ErrorResponse
//	@Router			/friends [get]
func (h *Handler) ListFriends(c *gin.Context) {
	friends, err := h.service.ListFriends(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// RemoveFriend handles DELETE /friends/:id.
//
//	@Summary		Remove friend
//	@Tags			User
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Friend user ID"
//	@Success		204
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/friends/{id} [delete]
func (h *Handler) RemoveFriend(c *gin.Context) {
	friendID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.RemoveFriend(c.Request.Context(), middleware.GetUserID(c), friendID); err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AdminHandler handles admin HTTP requests for user management.
type AdminHandler struct {
	service *Service
	logger  *zap.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(service *Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

// RegisterRoutes registers admin routes. The group must already require
// the ADMIN role.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.PUT("/users/:id/role", h.SetRole)
}

// SetRoleRequest is the body of PUT /admin/users/:id/role.
type SetRoleRequest struct {
	Role model.UserRole `json:"role" binding:"required"`
}

// SetRole handles PUT /admin/users/:id/role.
//
//	@Summary		Set user role
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"User ID"
//	@Param			request	body	SetRoleRequest	true	"Role"
//	@Success		200	{object}	model.User
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/admin/users/{id}/role [put]
func (h *AdminHandler) SetRole(c *gin.Context) {
	userID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req SetRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, err := h.service.SetRole(c.Request.Context(), middleware.GetUser(c), userID, req.Role)
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
