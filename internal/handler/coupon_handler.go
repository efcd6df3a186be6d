package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/application"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/auth"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/middleware"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/response"
)

// CouponHandler handles HTTP requests for coupon operations.
type CouponHandler struct {
	service *application.CouponService
}

// NewCouponHandler creates a new CouponHandler.
func NewCouponHandler(service *application.CouponService) *CouponHandler {
	return &CouponHandler{service: service}
}

// RegisterRoutes registers all coupon routes.
func (h *CouponHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin)

	coupons := r.Group("/coupons")
	coupons.Use(authMW)
	{
		coupons.POST("", adminRole, h.CreateCoupon)
		coupons.GET("", adminRole, h.ListCoupons)
		coupons.POST("/validate", h.ApplyCoupon)
		coupons.DELETE("/:code", adminRole, h.DeactivateCoupon)
	}
}

// CreateCoupon handles POST /api/v1/coupons.
func (h *CouponHandler) CreateCoupon(c *gin.Context) {
	var req application.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateCoupon(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// ListCoupons handles GET /api/v1/coupons.
func (h *CouponHandler) ListCoupons(c *gin.Context) {
	page, limit := pagination(c)

	coupons, total, err := h.service.ListCoupons(c.Request.Context(), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, coupons, total, page, limit)
}

// ApplyCoupon handles POST /api/v1/coupons/validate.
func (h *CouponHandler) ApplyCoupon(c *gin.Context) {
	var req application.ApplyCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.ApplyCoupon(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// DeactivateCoupon handles DELETE /api/v1/coupons/:code.
func (h *CouponHandler) DeactivateCoupon(c *gin.Context) {
	result, err := h.service.DeactivateCoupon(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
