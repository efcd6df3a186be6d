package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/application"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/auth"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/middleware"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/response"
)

// SubscriptionHandler handles HTTP requests for subscription operations.
type SubscriptionHandler struct {
	engine    *application.LifecycleEngine
	customers *application.CustomerService
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(engine *application.LifecycleEngine, customers *application.CustomerService) *SubscriptionHandler {
	return &SubscriptionHandler{engine: engine, customers: customers}
}

// RegisterRoutes registers all subscription routes.
func (h *SubscriptionHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin)

	subs := r.Group("/subscriptions")
	subs.Use(authMW)
	{
		subs.POST("", h.Subscribe)
		subs.GET("", adminRole, h.ListSubscriptions)
		subs.GET("/:id", h.GetSubscription)
		subs.GET("/:id/history", h.GetHistory)
		subs.POST("/:id/cancel", h.CancelSubscription)
		subs.POST("/:id/pause", h.PauseSubscription)
		subs.POST("/:id/resume", h.ResumeSubscription)
		subs.PUT("/:id/status", adminRole, h.ChangeStatus)
		subs.DELETE("/:id", adminRole, h.DeleteSubscription)
	}
}

// owned parses :id and checks the caller may act on it.
func (h *SubscriptionHandler) owned(c *gin.Context) (uuid.UUID, bool) {
	id, ok := pathID(c)
	if !ok {
		return uuid.Nil, false
	}
	if isPrivileged(c) {
		return id, true
	}

	sub, err := h.engine.GetSubscription(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return uuid.Nil, false
	}
	if err := authorizeCustomer(c, h.customers, sub.CustomerID); err != nil {
		response.Error(c, err)
		return uuid.Nil, false
	}
	return id, true
}

// Subscribe handles POST /api/v1/subscriptions.
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	var req application.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := authorizeEmail(c, req.Customer.Email); err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.engine.CreateSubscription(c.Request.Context(), req, actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// ListSubscriptions handles GET /api/v1/subscriptions.
func (h *SubscriptionHandler) ListSubscriptions(c *gin.Context) {
	page, limit := pagination(c)
	filter := application.ListFilter{Status: c.Query("status"), Page: page, Limit: limit}
	if raw := c.Query("customer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid customer_id")
			return
		}
		filter.CustomerID = id
	}

	subs, total, err := h.engine.ListSubscriptions(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, subs, total, page, limit)
}

// GetSubscription handles GET /api/v1/subscriptions/:id.
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	id, ok := h.owned(c)
	if !ok {
		return
	}

	result, err := h.engine.GetSubscription(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// GetHistory handles GET /api/v1/subscriptions/:id/history.
func (h *SubscriptionHandler) GetHistory(c *gin.Context) {
	id, ok := h.owned(c)
	if !ok {
		return
	}
	from, err := queryTime(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := queryTime(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}

	events, err := h.engine.History(c.Request.Context(), id, from, to)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, events)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelSubscription handles POST /api/v1/subscriptions/:id/cancel.
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	id, ok := h.owned(c)
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.engine.CancelSubscription(c.Request.Context(), id, actor(c), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// PauseSubscription handles POST /api/v1/subscriptions/:id/pause.
func (h *SubscriptionHandler) PauseSubscription(c *gin.Context) {
	id, ok := h.owned(c)
	if !ok {
		return
	}

	result, err := h.engine.PauseSubscription(c.Request.Context(), id, actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ResumeSubscription handles POST /api/v1/subscriptions/:id/resume.
func (h *SubscriptionHandler) ResumeSubscription(c *gin.Context) {
	id, ok := h.owned(c)
	if !ok {
		return
	}

	result, err := h.engine.ResumeSubscription(c.Request.Context(), id, actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ChangeStatus handles PUT /api/v1/subscriptions/:id/status.
func (h *SubscriptionHandler) ChangeStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req application.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.engine.ChangeStatus(c.Request.Context(), id, req, actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// DeleteSubscription handles DELETE /api/v1/subscriptions/:id.
func (h *SubscriptionHandler) DeleteSubscription(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.engine.DeleteSubscription(c.Request.Context(), id, actor(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"id": id, "deleted": true})
}
