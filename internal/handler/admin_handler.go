package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/application"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/auth"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/middleware"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/response"
)

// AdminHandler handles admin HTTP requests for the dashboard and renewals.
type AdminHandler struct {
	stats   *application.StatsService
	sweeper *application.RenewalSweeper
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(stats *application.StatsService, sweeper *application.RenewalSweeper) *AdminHandler {
	return &AdminHandler{stats: stats, sweeper: sweeper}
}

// RegisterRoutes registers admin routes.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin, auth.RoleSystem)

	admin := r.Group("/admin")
	admin.Use(authMW, adminRole)
	{
		admin.GET("/stats", h.Stats)
		admin.POST("/renewals/run", h.RunRenewals)
	}
}

// Stats handles GET /api/v1/admin/stats.
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.stats.GetStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}

// RunRenewals handles POST /api/v1/admin/renewals/run.
func (h *AdminHandler) RunRenewals(c *gin.Context) {
	report, err := h.sweeper.Run(c.Request.Context())
	if errors.Is(err, application.ErrSweepInProgress) {
		response.Error(c, apperr.NewConflictError(err.Error()))
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, report)
}
