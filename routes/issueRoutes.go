package routes

import (
	"civictrack/auth"
	"civictrack/controllers"
	"civictrack/middlewares"

	"github.com/gin-gonic/gin"
)

func IssueRoutes(api *gin.RouterGroup, h *controllers.IssueController, d Deps, requireAuth, optionalAuth gin.HandlerFunc) {
	issues := api.Group("/issues")
	{
		issues.GET("", optionalAuth, h.List)
		issues.GET("/search/filter", optionalAuth, h.List)
		issues.GET("/me", requireAuth, h.Mine)
		issues.GET("/stats/user", requireAuth, h.UserStats)
		issues.GET("/:id", optionalAuth, h.Get)

		create := func(handler gin.HandlerFunc) []gin.HandlerFunc {
			chain := []gin.HandlerFunc{requireAuth, middlewares.RequirePermission(d.Gate, auth.ActionIssueCreate)}
			if d.IssueLimiter != nil {
				chain = append(chain, middlewares.IssueRateLimiter(d.IssueLimiter))
			}
			return append(chain, handler)
		}
		issues.POST("", create(h.Create)...)
		issues.POST("/upload", create(h.CreateWithUpload)...)

		issues.PUT("/:id", requireAuth, h.Update)
		issues.DELETE("/:id", requireAuth, middlewares.RequirePermission(d.Gate, auth.ActionIssueDelete), h.Delete)
		issues.POST("/:id/comments", requireAuth, h.Comment)
		issues.POST("/:id/vote", requireAuth, h.Vote)
	}
}
