package routes

import (
	"civictrack/auth"
	"civictrack/controllers"
	"civictrack/middlewares"

	"github.com/gin-gonic/gin"
)

// AdminRoutes are the staff dashboard. Each route is gated by its own
// permission, so staff reach the issue routes and only admins the user ones.
func AdminRoutes(api *gin.RouterGroup, h *controllers.AdminController, gate *auth.Gate, requireAuth gin.HandlerFunc) {
	admin := api.Group("/admin", requireAuth)
	{
		admin.GET("/issues", middlewares.RequirePermission(gate, auth.ActionIssueListAll), h.Issues)
		admin.PUT("/issues/:id/assign", middlewares.RequirePermission(gate, auth.ActionIssueAssign), h.Assign)
		admin.PUT("/issues/:id/status", middlewares.RequirePermission(gate, auth.ActionIssueTransition), h.SetStatus)
		admin.GET("/stats", middlewares.RequirePermission(gate, auth.ActionStatsAll), h.Stats)

		admin.GET("/users", middlewares.RequirePermission(gate, auth.ActionUserList), h.Users)
		admin.POST("/users", middlewares.RequirePermission(gate, auth.ActionUserManage), h.CreateUser)
		admin.PUT("/users/:id/role", middlewares.RequirePermission(gate, auth.ActionUserManage), h.SetRole)
		admin.PUT("/users/:id/active", middlewares.RequirePermission(gate, auth.ActionUserManage), h.SetActive)
	}
}
