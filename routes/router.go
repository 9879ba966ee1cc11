package routes

import (
	"log/slog"
	"time"

	"civictrack/auth"
	"civictrack/controllers"
	"civictrack/middlewares"
	"civictrack/ratelimit"
	"civictrack/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Identity       *services.IdentityService
	Lifecycle      *services.LifecycleEngine
	Query          *services.QueryService
	Tokens         *auth.TokenCodec
	Gate           *auth.Gate
	IssueLimiter   ratelimit.Limiter
	HealthChecks   map[string]controllers.HealthCheck
	Logger         *slog.Logger
	CORSOrigins    []string
	RequestTimeout time.Duration
	MaxUploadBytes int64
	// UploadDir, when set, is served under /uploads.
	UploadDir string
}

func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.RequestLogger(d.Logger), middlewares.Recovery())
	r.Use(cors.New(corsConfig(d.CORSOrigins)))
	if d.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = d.MaxUploadBytes
	}
	if d.UploadDir != "" {
		r.Static("/uploads", d.UploadDir)
	}

	meta := controllers.NewMetaController(d.HealthChecks, d.Gate, d.RequestTimeout)
	r.GET("/ping", meta.Ping)

	api := r.Group("/api")
	api.GET("/health", meta.Health)
	api.GET("/meta", meta.Meta)

	requireAuth := middlewares.AuthMiddleware(d.Tokens, d.Identity)
	optionalAuth := middlewares.OptionalAuth(d.Tokens, d.Identity)

	AuthRoutes(api, controllers.NewAuthController(d.Identity, d.RequestTimeout), d.Gate, requireAuth)
	IssueRoutes(api, controllers.NewIssueController(d.Lifecycle, d.Query, d.RequestTimeout, d.MaxUploadBytes), d, requireAuth, optionalAuth)
	AdminRoutes(api, controllers.NewAdminController(d.Lifecycle, d.Query, d.Identity, d.RequestTimeout), d.Gate, requireAuth)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", middlewares.RequestIDHeader)
	cfg.ExposeHeaders = []string{middlewares.RequestIDHeader, "Retry-After"}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
