package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/application"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/auth"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/middleware"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/response"
)

// CustomerHandler handles HTTP requests for the customer registry.
type CustomerHandler struct {
	service *application.CustomerService
}

// NewCustomerHandler creates a new CustomerHandler.
func NewCustomerHandler(service *application.CustomerService) *CustomerHandler {
	return &CustomerHandler{service: service}
}

// RegisterRoutes registers all customer routes.
func (h *CustomerHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin)

	customers := r.Group("/customers")
	customers.Use(authMW)
	{
		customers.POST("", h.CreateOrUpdate)
		customers.GET("/:id", h.GetCustomer)
		customers.GET("", adminRole, h.ListCustomers)
		customers.DELETE("/:id", adminRole, h.DeleteCustomer)
	}
}

// CreateOrUpdate handles POST /api/v1/customers.
func (h *CustomerHandler) CreateOrUpdate(c *gin.Context) {
	var req application.CustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := authorizeEmail(c, req.Email); err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.service.CreateOrUpdate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// GetCustomer handles GET /api/v1/customers/:id.
func (h *CustomerHandler) GetCustomer(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := authorizeCustomer(c, h.service, id); err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ListCustomers handles GET /api/v1/customers.
func (h *CustomerHandler) ListCustomers(c *gin.Context) {
	page, limit := pagination(c)

	customers, total, err := h.service.List(c.Request.Context(), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, customers, total, page, limit)
}

// DeleteCustomer handles DELETE /api/v1/customers/:id.
func (h *CustomerHandler) DeleteCustomer(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"id": id, "status": "inactive"})
}
