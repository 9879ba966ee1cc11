package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"civictrack/auth"
	"civictrack/models"
	"civictrack/utils"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type MetaController struct {
	checks  map[string]HealthCheck
	gate    *auth.Gate
	timeout time.Duration
}

func NewMetaController(checks map[string]HealthCheck, gate *auth.Gate, timeout time.Duration) *MetaController {
	return &MetaController{checks: checks, gate: gate, timeout: timeout}
}

func (h *MetaController) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// Health answers 503 when any dependency fails its check.
func (h *MetaController) Health(c *gin.Context) {
	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			utils.RequestLogger(c).Warn("health check failed", "dependency", name, "error", err)
			results[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "up"
	}

	c.JSON(status, utils.APIResponse{
		Success: status == http.StatusOK,
		Data: gin.H{
			"status":       http.StatusText(status),
			"dependencies": results,
			"time":         time.Now().UTC(),
		},
	})
}

// Meta lists the enums clients build their forms from.
func (h *MetaController) Meta(c *gin.Context) {
	roles := []models.Role{models.RoleCitizen, models.RoleStaff, models.RoleAdmin}
	permissions := make(map[models.Role][]auth.Action, len(roles))
	for _, r := range roles {
		permissions[r] = h.gate.Permissions(r)
	}
	utils.OKResponse(c, gin.H{
		"categories":  models.Categories,
		"priorities":  models.Priorities,
		"statuses":    models.Statuses,
		"roles":       roles,
		"permissions": permissions,
		"maxPhotos":   models.MaxPhotos,
	})
}
