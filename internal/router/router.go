package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-analytics/internal/config"
	"github.com/stemsi/exstem-analytics/internal/handler"
	"github.com/stemsi/exstem-analytics/internal/middleware"
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/response"
	"github.com/stemsi/exstem-analytics/internal/service"
)

// analyticsMaxAge is how long clients may reuse an analytics response.
const analyticsMaxAge = 60

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Analytics *handler.AnalyticsHandler
	Admin     *handler.AdminHandler
	WS        *handler.WSHandler
	System    *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	readAnalytics := middleware.RequireSelfOrPermission(string(model.PermissionAnalyticsRead))
	coachLimiter := middleware.NewRateLimiter(cfg.CoachRateLimit, time.Minute)

	// ─── 1. Analytics Group (Student or Admin JWT) ─────────────────────
	studentAPI := router.Group("/api/v1/exams/:exam_id/students/:student_id")
	studentAPI.Use(middleware.RequireJWT(authService), readAnalytics)
	{
		studentAPI.GET("/analytics",
			middleware.CacheControl(analyticsMaxAge),
			handlers.Analytics.GetStudentAnalytics,
		)
		studentAPI.POST("/coach/:role",
			coachLimiter.Middleware(),
			handlers.Analytics.GetCommentary,
		)
	}

	// ─── 2. WebSocket Group (Query Token) ──────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/exams/:exam_id/students/:student_id/coach",
			readAnalytics,
			coachLimiter.Middleware(),
			handlers.WS.CoachStream,
		)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/exams/:exam_id/definition",
			middleware.RequirePermission(string(model.PermissionAnalyticsRead)),
			handlers.Admin.GetDefinition,
		)
		adminAPI.PUT("/exams/:exam_id/definition",
			middleware.RequirePermission(string(model.PermissionAnalyticsWrite)),
			handlers.Admin.PutDefinition,
		)
		adminAPI.POST("/exams/:exam_id/sheets",
			middleware.RequirePermission(string(model.PermissionAnalyticsWrite)),
			handlers.Admin.SubmitSheets,
		)
		adminAPI.POST("/exams/:exam_id/invalidate",
			middleware.RequirePermission(string(model.PermissionAnalyticsWrite)),
			handlers.Admin.InvalidateExam,
		)
		adminAPI.POST("/exams/:exam_id/students/:student_id/invalidate",
			middleware.RequirePermission(string(model.PermissionAnalyticsWrite)),
			handlers.Admin.InvalidateStudent,
		)
		adminAPI.POST("/analytics/recompute",
			middleware.RequirePermission(string(model.PermissionAnalyticsRecompute)),
			handlers.Admin.RecomputeStale,
		)

		// System Monitoring
		adminAPI.GET("/system/metrics",
			handlers.System.SystemMetricsSSE, // Open to all admins
		)
	}

	return router
}
