package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/application"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/customer"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/auth"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/middleware"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/response"
)

// pagination reads page and limit query parameters.
func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// pathID parses the :id parameter, writing a 400 when it is not a uuid.
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// queryTime parses an optional RFC3339 query parameter.
func queryTime(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.NewValidationError("%s must be an RFC3339 timestamp", key)
	}
	return t, nil
}

// actor is the history actor for the caller: its user id.
func actor(c *gin.Context) string {
	if id, ok := middleware.GetUserID(c); ok {
		return id.String()
	}
	return "anonymous"
}

func isPrivileged(c *gin.Context) bool {
	role, _ := middleware.GetRole(c)
	return role == auth.RoleAdmin || role == auth.RoleSystem
}

// customerLookup resolves a customer by email.
type customerLookup interface {
	FindByEmail(ctx context.Context, email string) (*application.CustomerDTO, error)
}

// authorizeCustomer lets admins through and otherwise requires the caller's token email to own customerID.
func authorizeCustomer(c *gin.Context, customers customerLookup, customerID uuid.UUID) error {
	if isPrivileged(c) {
		return nil
	}
	email, ok := middleware.GetEmail(c)
	if !ok {
		return apperr.NewUnauthorizedError("unauthenticated")
	}
	own, err := customers.FindByEmail(c.Request.Context(), email)
	if err != nil || own.ID != customerID {
		return apperr.NewForbiddenError("not your subscription")
	}
	return nil
}

// authorizeEmail requires non-admin callers to act on their own email.
func authorizeEmail(c *gin.Context, email string) error {
	if isPrivileged(c) {
		return nil
	}
	own, ok := middleware.GetEmail(c)
	if !ok {
		return apperr.NewUnauthorizedError("unauthenticated")
	}
	if customer.NormalizeEmail(own) != customer.NormalizeEmail(email) {
		return apperr.NewForbiddenError("email does not match the authenticated user")
	}
	return nil
}
