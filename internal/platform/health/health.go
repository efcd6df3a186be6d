package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler serves liveness and readiness checks.
type Handler struct {
	db      *gorm.DB
	service string
	checks  map[string]func(ctx context.Context) error
}

// NewHandler creates a health handler that pings db on readiness.
func NewHandler(db *gorm.DB, service string) *Handler {
	return &Handler{db: db, service: service, checks: make(map[string]func(ctx context.Context) error)}
}

// AddCheck registers an extra readiness dependency such as Redis.
func (h *Handler) AddCheck(name string, check func(ctx context.Context) error) {
	h.checks[name] = check
}

// RegisterRoutes mounts /health and /ready.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Live)
	r.GET("/ready", h.Ready)
}

// Live reports that the process is up.
func (h *Handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": h.service})
}

// Ready reports whether every dependency answers within two seconds.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	results := gin.H{}
	healthy := true

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		results["database"] = "down"
		healthy = false
	} else {
		results["database"] = "up"
	}

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = "down"
			healthy = false
			continue
		}
		results[name] = "up"
	}

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	c.JSON(status, gin.H{"status": state, "service": h.service, "checks": results})
}
