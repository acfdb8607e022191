package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/learntrackhq/learntrack/internal/app"
	"github.com/learntrackhq/learntrack/internal/auth"
	"github.com/learntrackhq/learntrack/internal/cache"
	"github.com/learntrackhq/learntrack/internal/handlers"
	"github.com/learntrackhq/learntrack/internal/middleware"
	"github.com/learntrackhq/learntrack/internal/security"
	"github.com/learntrackhq/learntrack/internal/services"
)

// Services bundles the constructed application services the router depends on.
type Services struct {
	Users         *services.UserService
	Courses       *services.CourseService
	Progress      *services.ProgressService
	Thresholds    *services.ThresholdService
	Sessions      *auth.SessionService
	Authenticator *auth.PasswordAuthenticator
	Guard         *security.Guard
	Cache         cache.Store
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, cfg *app.Config, svc Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if svc.Users == nil || svc.Courses == nil || svc.Progress == nil ||
		svc.Thresholds == nil || svc.Sessions == nil ||
		svc.Authenticator == nil || svc.Guard == nil {
		return nil, fmt.Errorf("all services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	if cfg.Server.RateLimit.Enabled {
		window := cfg.Server.RateLimit.Window
		if window <= 0 {
			window = time.Minute
		}
		r.Use(middleware.RateLimit(svc.Cache, cfg.Server.RateLimit.MaxRequests, window))
	}

	r.NoRoute(middleware.NotFoundHandler)

	// Health endpoint (public)
	r.GET("/health", handlers.Health(db))

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler, err := handlers.NewAuthHandler(db, svc.Authenticator, svc.Sessions, svc.Users, svc.Guard)
	if err != nil {
		return nil, err
	}
	courseHandler, err := handlers.NewCourseHandler(svc.Courses)
	if err != nil {
		return nil, err
	}
	progressHandler, err := handlers.NewProgressHandler(svc.Progress)
	if err != nil {
		return nil, err
	}
	thresholdHandler, err := handlers.NewThresholdHandler(svc.Thresholds)
	if err != nil {
		return nil, err
	}
	adminUserHandler, err := handlers.NewAdminUserHandler(svc.Users, svc.Progress, svc.Sessions)
	if err != nil {
		return nil, err
	}
	securityHandler, err := handlers.NewSecurityHandler(svc.Guard)
	if err != nil {
		return nil, err
	}

	// Public auth routes
	public := r.Group("/api/auth")
	{
		public.POST("/register", authHandler.Register)
		public.POST("/login", authHandler.Login)
	}

	requireAuth := middleware.Auth(svc.Sessions)

	api := r.Group("/api")
	api.Use(requireAuth)

	// Authenticated auth routes
	api.POST("/auth/logout", authHandler.Logout)
	api.GET("/auth/me", authHandler.Me)
	api.POST("/auth/password", authHandler.ChangePassword)
	api.GET("/auth/sessions", authHandler.Sessions)
	api.DELETE("/auth/sessions/:id", authHandler.RevokeSession)

	// Level table (read-only for members)
	api.GET("/levels", thresholdHandler.List)

	// Courses and completion toggles
	courses := api.Group("/courses")
	{
		courses.GET("", courseHandler.List)
		courses.GET("/:id", courseHandler.Get)
		courses.POST("/:id/complete", progressHandler.Complete)
		courses.DELETE("/:id/complete", progressHandler.Uncomplete)
	}

	// Progress
	progress := api.Group("/progress")
	{
		progress.GET("", progressHandler.Snapshot)
		progress.GET("/ledger", progressHandler.Ledger)
		progress.PUT("/level", progressHandler.SelectLevel)
	}

	// Administrative routes
	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin(db))
	{
		admin.PUT("/levels", thresholdHandler.Replace)

		admin.POST("/courses", courseHandler.Create)
		admin.PUT("/courses/:id", courseHandler.Update)
		admin.DELETE("/courses/:id", courseHandler.Delete)

		users := admin.Group("/users")
		{
			users.GET("", adminUserHandler.List)
			users.POST("", adminUserHandler.Create)
			users.GET("/:id", adminUserHandler.Get)
			users.DELETE("/:id", adminUserHandler.Delete)
			users.PUT("/:id/active", adminUserHandler.SetActive)
			users.PUT("/:id/admin", adminUserHandler.SetAdmin)
			users.POST("/:id/points", adminUserHandler.AdjustPoints)
			users.GET("/:id/ledger", adminUserHandler.Ledger)
			users.DELETE("/:id/ledger", adminUserHandler.PurgeLedger)
			users.GET("/:id/sessions", adminUserHandler.Sessions)
		}
		admin.DELETE("/sessions/:id", adminUserHandler.RevokeSession)

		sec := admin.Group("/security")
		{
			sec.GET("/events", securityHandler.Events)
			sec.GET("/blocks", securityHandler.Blocks)
			sec.POST("/blocks", securityHandler.Block)
			sec.DELETE("/blocks/:ip", securityHandler.Unblock)
		}
	}

	return r, nil
}
