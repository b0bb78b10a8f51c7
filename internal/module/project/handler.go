package project

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/taskhub/server/internal/shared/middleware"
	"github.com/taskhub/server/internal/shared/request"
	"github.com/taskhub/server/internal/shared/response"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for projects, shares and todos.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new project handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers project routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	projects := r.Group("/projects")
	{
		projects.POST("", h.Create)
		projects.GET("", h.List)
		projects.GET("/:id", h.Get)
		projects.PATCH("/:id", h.Update)
		projects.DELETE("/:id", h.Delete)

		// Shares
		projects.GET("/:id/shares", h.ListShares)
		projects.POST("/:id/shares", h.Grant)
		projects.PATCH("/:id/shares/:userId", h.UpdatePermission)
		projects.DELETE("/:id/shares/:userId", h.Revoke)

		// Todos
		projects.GET("/:id/todos", h.ListTodos)
		projects.POST("/:id/todos", h.CreateTodo)
		projects.PATCH("/:id/todos/:todoId", h.UpdateTodo)
		projects.DELETE("/:id/todos/:todoId", h.DeleteTodo)
	}
}

// ========== Request types ==========

// CreateProjectRequest is the body of POST /projects.
type CreateProjectRequest struct {
	Name  string `json:"name" binding:"required"`
	Color string `json:"color"`
	Emoji string `json:"emoji"`
}

// UpdateProjectRequest is the body of PATCH /projects/:id.
type UpdateProjectRequest struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
	Emoji *string `json:"emoji"`
}

// GrantRequest is the body of POST /projects/:id/shares.
type GrantRequest struct {
	UserID     *uuid.UUID `json:"user_id"`
	Email      string     `json:"email"`
	Permission string     `json:"permission" binding:"required"`
}

// PermissionRequest is the body of PATCH /projects/:id/shares/:userId.
type PermissionRequest struct {
	Permission string `json:"permission" binding:"required"`
}

// TodoRequest is the body of POST /projects/:id/todos.
type TodoRequest struct {
	Title string     `json:"title" binding:"required"`
	Notes string     `json:"notes"`
	DueAt *time.Time `json:"due_at"`
	Tags  []string   `json:"tags"`
}

// TodoPatchRequest is the body of PATCH /projects/:id/todos/:todoId.
type TodoPatchRequest struct {
	Title *string    `json:"title"`
	Notes *string    `json:"notes"`
	Done  *bool      `json:"done"`
	DueAt *time.Time `json:"due_at"`
	Tags  *[]string  `json:"tags"`
}

// ========== Project Handlers ==========

// Create handles POST /projects.
//
//	@Summary		Create project
//	@Description	Create a project owned by the caller
//	@Tags			Project
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body	CreateProjectRequest	true	"Project"
//	@Success		201	{object}	model.ProjectWithCapability
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Router			/projects [post]
func (h *Handler) Create(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	project, err := h.service.Create(c.Request.Context(), middleware.GetUserID(c), CreateInput{
		Name:  req.Name,
		Color: req.Color,
		Emoji: req.Emoji,
	})
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// List handles GET /projects.
//
//	@Summary		List projects
//	@Description	List owned and shared projects with the caller's capability
//	@Tags			Project
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	map[string]interface{}
//	@Failure		401	{object}	response.ErrorResponse
//	@Router			/projects [get]
func (h *Handler) List(c *gin.Context) {
	projects, err := h.service.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// Get handles GET /projects/:id.
//
//	@Summary		Get project
//	@Tags			Project
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Success		200	{object}	model.ProjectWithCapability
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/projects/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	project, err := h.service.Get(c.Request.Context(), middleware.GetUserID(c), projectID)
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// Update handles PATCH /projects/:id.
//
//	@Summary		Update project
//	@Description	Requires edit
//	@Tags			Project
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Param			request	body	UpdateProjectRequest	true	"Fields to change"
//	@Success		200	{object}	model.ProjectWithCapability
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/projects/{id} [patch]
func (h *Handler) Update(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	project, err := h.service.Update(c.Request.Context(), middleware.GetUserID(c), projectID, UpdateInput{
		Name:  req.Name,
		Color: req.Color,
		Emoji: req.Emoji,
	})
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// Delete handles DELETE /projects/:id.
//
//	@Summary		Delete project
//	@Description	Only the owner can delete a project
//	@Tags			Project
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Success		204
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/projects/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), middleware.GetUserID(c), projectID); err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ========== Share Handlers ==========

// ListShares handles GET /projects/:id/shares.
//
//	@Summary		List shares
//	@Tags			Project
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Success		200	{object}	map[string]interface{}
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/projects/{id}/shares [get]
func (h *Handler) ListShares(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	members, err := h.service.ListShares(c.Request.Context(), middleware.GetUserID(c), projectID)
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shares": members})
}

// Grant handles POST /projects/:id/shares.
//
//	@Summary		Grant access
//	@Description	Share the project with an existing user. Requires admin
//	@Tags			Project
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Param			request	body	GrantRequest	true	"Grantee and permission"
//	@Success		201	{object}	model.Share
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Failure		409	{object}	response.ErrorResponse
//	@Router			/projects/{id}/shares [post]
func (h *Handler) Grant(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	share, err := h.service.Grant(c.Request.Context(), middleware.GetUserID(c), projectID, GrantInput{
		UserID:     req.UserID,
		Email:      req.Email,
		Permission: req.Permission,
	})
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, share)
}

// UpdatePermission handles PATCH /projects/:id/shares/:userId.
//
//	@Summary		Change permission
//	@Tags			Project
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Param			userId	path	string	true	"User ID"
//	@Param			request	body	PermissionRequest	true	"New permission"
//	@Success		200	{object}	model.Share
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/projects/{id}/shares/{userId} [patch]
func (h *Handler) UpdatePermission(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := request.UUIDParam(c, "userId")
	if !ok {
		return
	}
	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	share, err := h.service.UpdatePermission(c.Request.Context(), middleware.GetUserID(c), projectID, userID, req.Permission)
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, share)
}

// Revoke handles DELETE /projects/:id/shares/:userId.
//
//	@Summary		Revoke access
//	@Description	Admins revoke anyone but the owner. Members may remove themselves
//	@Tags			Project
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Param			userId	path	string	true	"User ID"
//	@Success		204
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/projects/{id}/shares/{userId} [delete]
func (h *Handler) Revoke(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := request.UUIDParam(c, "userId")
	if !ok {
		return
	}
	if err := h.service.Revoke(c.Request.Context(), middleware.GetUserID(c), projectID, userID); err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ========== Todo Handlers ==========

// ListTodos handles GET /projects/:id/todos.
//
//	@Summary		List todos
//	@Tags			Project
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Success		200	{object}	map[string]interface{}
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/projects/{id}/todos [get]
func (h *Handler) ListTodos(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	todos, err := h.service.ListTodos(c.Request.Context(), middleware.GetUserID(c), projectID)
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"todos": todos})
}

// CreateTodo handles POST /projects/:id/todos.
//
//	@Summary		Create todo
//	@Description	Requires edit
//	@Tags			Project
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Param			request	body	TodoRequest	true	"Todo"
//	@Success		201	{object}	model.Todo
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/projects/{id}/todos [post]
func (h *Handler) CreateTodo(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req TodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	todo, err := h.service.CreateTodo(c.Request.Context(), middleware.GetUserID(c), projectID, TodoInput{
		Title: req.Title,
		Notes: req.Notes,
		DueAt: req.DueAt,
		Tags:  req.Tags,
	})
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, todo)
}

// UpdateTodo handles PATCH /projects/:id/todos/:todoId.
//
//	@Summary		Update todo
//	@Description	Requires edit
//	@Tags			Project
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Param			todoId	path	string	true	"Todo ID"
//	@Param			request	body	TodoPatchRequest	true	"Fields to change"
//	@Success		200	{object}	model.Todo
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/projects/{id}/todos/{todoId} [patch]
func (h *Handler) UpdateTodo(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	todoID, ok := request.UUIDParam(c, "todoId")
	if !ok {
		return
	}
	var req TodoPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	todo, err := h.service.UpdateTodo(c.Request.Context(), middleware.GetUserID(c), projectID, todoID, TodoPatch{
		Title: req.Title,
		Notes: req.Notes,
		Done:  req.Done,
		DueAt: req.DueAt,
		Tags:  req.Tags,
	})
	if err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, todo)
}

// DeleteTodo handles DELETE /projects/:id/todos/:todoId.
//
//	@Summary		Delete todo
//	@Description	Requires edit
//	@Tags			Project
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Project ID"
//	@Param			todoId	path	string	true	"Todo ID"
//	@Success		204
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/projects/{id}/todos/{todoId} [delete]
func (h *Handler) DeleteTodo(c *gin.Context) {
	projectID, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	todoID, ok := request.UUIDParam(c, "todoId")
	if !ok {
		return
	}
	if err := h.service.DeleteTodo(c.Request.Context(), middleware.GetUserID(c), projectID, todoID); err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
