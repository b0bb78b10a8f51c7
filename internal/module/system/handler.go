package system

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskhub/server/internal/shared/middleware"
	"github.com/taskhub/server/internal/shared/response"
)

// Handler serves the admin maintenance endpoints. Routes must be mounted
// behind middleware.RequireAdmin.
type Handler struct {
	flag   *MaintenanceFlag
	logger *zap.Logger
}

// NewHandler creates a system handler.
func NewHandler(flag *MaintenanceFlag, logger *zap.Logger) *Handler {
	return &Handler{flag: flag, logger: logger}
}

// RegisterRoutes registers admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/maintenance", h.Get)
	r.PUT("/maintenance", h.Put)
}

// MaintenanceRequest is the body of PUT /admin/maintenance.
type MaintenanceRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// Get handles GET /admin/maintenance.
//
//	@Summary		Get maintenance flag
//	@Tags			Admin
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	map[string]bool
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Router			/admin/maintenance [get]
func (h *Handler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": h.flag.Enabled(c.Request.Context())})
}

// Put handles PUT /admin/maintenance.
//
//	@Summary		Set maintenance flag
//	@Description	While enabled, non-admin writes get 503
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body	MaintenanceRequest	true	"Flag"
//	@Success		200	{object}	map[string]bool
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		401	{object}	response.ErrorResponse
//	@Failure		403	{object}	response.ErrorResponse
//	@Router			/admin/maintenance [put]
func (h *Handler) Put(c *gin.Context) {
	var req MaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.flag.Set(c.Request.Context(), *req.Enabled); err != nil {
		response.HandleError(c, h.logger, err)
		return
	}
	h.logger.Info("maintenance mode changed",
		zap.Bool("enabled", *req.Enabled),
		zap.String("user_id", middleware.GetUserID(c).String()))
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}
