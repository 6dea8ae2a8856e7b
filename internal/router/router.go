package router

import (
	"time"

	"github.com/beyproweb/beypro-pos-sub005/internal/config"
	"github.com/beyproweb/beypro-pos-sub005/internal/handler"
	"github.com/beyproweb/beypro-pos-sub005/internal/middleware"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Handlers are the fully wired HTTP handlers, built at the composition root
// so the worker pool and the polling loop share the same service instances.
type Handlers struct {
	Auth     *handler.AuthHandler
	Register *handler.RegisterHandler
	ZReport  *handler.ZReportHandler
}

// New returns a configured Gin engine.
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, h Handlers) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RateLimiter(1000, time.Minute)) // 1000 req/min per IP

	// Public
	r.GET("/health", handler.Health(db, rdb))

	auth := r.Group("/v1/auth")
	{
		auth.POST("/login", middleware.LoginRateLimiter(), h.Auth.Login)
	}

	// Protected routes
	jwtMW := middleware.JWTAuth(cfg.JWTSecret)
	v1 := r.Group("/v1", jwtMW)
	{
		// Slip preview artifacts written by the z-report upload path
		v1.Static("/previews", cfg.PreviewStoragePath)

		// Roles: cashier, manager — declared per-endpoint
		register := v1.Group("/register")
		{
			register.GET("/status", middleware.RequireRole("cashier", "manager"), h.Register.Status)
			register.GET("/summary", middleware.RequireRole("cashier", "manager"), h.Register.Summary)
			register.GET("/timeline", middleware.RequireRole("cashier", "manager"), h.Register.Timeline)
			register.GET("/reconciliation", middleware.RequireRole("cashier", "manager"), h.Register.Reconciliation)
			register.GET("/stock-discrepancy", middleware.RequireRole("cashier", "manager"), h.Register.StockDiscrepancy)
			register.POST("/open", middleware.RequireRole("cashier", "manager"), h.Register.Open)
			register.POST("/close", middleware.RequireRole("cashier", "manager"), h.Register.Close)
			register.POST("/movement", middleware.RequireRole("cashier", "manager"), h.Register.Movement)
			register.GET("/last-close", middleware.RequireRole("manager"), h.Register.LastClose)

			zreport := register.Group("/zreport", middleware.RequireRole("cashier", "manager"))
			{
				zreport.GET("", h.ZReport.State)
				zreport.GET("/audit", h.ZReport.Audit)
				zreport.POST("/upload", h.ZReport.Upload)
				zreport.DELETE("/:id", h.ZReport.Delete)
				zreport.POST("/use-detected", h.ZReport.UseDetected)
				zreport.POST("/override", h.ZReport.Override)
			}
		}
	}

	// Swagger UI — only enabled outside production
	if cfg.Env != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
