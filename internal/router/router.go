package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/handler"
	"github.com/stemsi/exstem-quiz/internal/middleware"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth        *handler.AuthHandler
	ExamSession *handler.ExamSessionHandler
	WS          *handler.WSHandler
	Response    *handler.ResponseHandler
	Monitor     *handler.MonitorHandler
	System      *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds background middleware state such as the rate limiter's cleanup.
func SetupRouter(
	ctx context.Context,
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
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Workbooks are already zip-compressed.
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:   middleware.DefaultBrotliConfig.Quality,
		MinLength: middleware.DefaultBrotliConfig.MinLength,
		Skipper:   middleware.SkipPathSuffix(".xlsx"),
	}))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Auth Group (Public) ────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/admin/login", handlers.Auth.AdminLogin)
		auth.GET("/admin/me", middleware.RequireAdminJWT(authService), handlers.Auth.GetAdminProfile)
	}

	// ─── 2. Exam Group (Public, session ID is the capability) ──────────
	startLimiter := middleware.NewRateLimiter(ctx, cfg.StartRateLimit, time.Minute)

	exam := router.Group("/api/v1/exam")
	exam.Use(middleware.NoStore())
	{
		exam.POST("/sessions", startLimiter.Middleware(), handlers.ExamSession.StartSession)
		exam.GET("/sessions/:session_id", handlers.ExamSession.GetState)
		exam.PUT("/sessions/:session_id/answers", handlers.ExamSession.RecordAnswer)
		exam.POST("/sessions/:session_id/goto", handlers.ExamSession.GoTo)
		exam.POST("/sessions/:session_id/next", handlers.ExamSession.Next)
		exam.POST("/sessions/:session_id/prev", handlers.ExamSession.Prev)
		exam.POST("/sessions/:session_id/submit", handlers.ExamSession.Submit)
		exam.GET("/sessions/:session_id/result", handlers.ExamSession.GetResult)
		exam.POST("/sessions/:session_id/result/retry-save", handlers.ExamSession.RetrySave)
	}

	// ─── 3. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/exam/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 4. Admin Group (JWT) ──────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/responses", handlers.Response.ListResponses)
		adminAPI.GET("/responses/export.csv", handlers.Response.ExportCSV)
		adminAPI.GET("/responses/export.xlsx", handlers.Response.ExportXLSX)

		adminAPI.GET("/sessions/active", handlers.Response.ListActiveSessions)
		adminAPI.GET("/sessions/active/stream", handlers.Monitor.ActiveSessionsSSE)

		adminAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
