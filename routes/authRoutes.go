package routes

import (
	"civictrack/auth"
	"civictrack/controllers"
	"civictrack/middlewares"

	"github.com/gin-gonic/gin"
)

func AuthRoutes(api *gin.RouterGroup, h *controllers.AuthController, gate *auth.Gate, requireAuth gin.HandlerFunc) {
	group := api.Group("/auth")
	{
		group.POST("/signup", h.Signup)
		// older clients register here
		group.POST("/register", h.Signup)
		group.POST("/login", h.Login)
		group.GET("/me", requireAuth, h.Me)
		group.PUT("/me", requireAuth, middlewares.RequirePermission(gate, auth.ActionProfileEdit), h.UpdateMe)
	}
}
