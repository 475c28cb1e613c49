package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campushq/registrar-api/api/swagger"
	"github.com/campushq/registrar-api/internal/handler"
	"github.com/campushq/registrar-api/internal/middleware"
	"github.com/campushq/registrar-api/internal/models"
	"github.com/campushq/registrar-api/internal/repository"
	"github.com/campushq/registrar-api/internal/service"
	"github.com/campushq/registrar-api/pkg/cache"
	"github.com/campushq/registrar-api/pkg/config"
	"github.com/campushq/registrar-api/pkg/database"
	"github.com/campushq/registrar-api/pkg/jobs"
	"github.com/campushq/registrar-api/pkg/logger"
	corsmiddleware "github.com/campushq/registrar-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campushq/registrar-api/pkg/middleware/requestid"
)

// @title Registrar API
// @version 1.0.0
// @description Section enrollment and scheduling engine for the academic portal
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	metricsService := service.NewMetricsService()

	var cacheService *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, cache disabled", "error", err)
		} else {
			defer redisClient.Close()
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheService = service.NewCacheService(cacheRepo, metricsService, cfg.Cache.DefaultTTL, logr, true)
		}
	}

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	termRepo := repository.NewTermRepository(db)
	sectionRepo := repository.NewSectionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)
	transactor := repository.NewTransactor(db, logr)

	// Services.
	auditService := service.NewAuditService(auditRepo, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
		RetryDelay: cfg.Audit.RetryDelay,
		Logger:     logr,
	}, logr)
	auditService.Start(context.Background())
	defer auditService.Stop()

	authService := service.NewAuthService(userRepo, auditRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "registrar-api",
	})
	userService := service.NewUserService(userRepo, auditRepo, nil, logr)
	studentService := service.NewStudentService(studentRepo, nil, logr)
	termService := service.NewTermService(termRepo, nil, logr)
	conflictService := service.NewConflictService(logr)
	sectionService := service.NewSectionService(sectionRepo, termRepo, conflictService, cacheService, cfg.Registration.OccupancyCacheTTL, nil, logr)
	waitlistService := service.NewWaitlistService(waitlistRepo, sectionRepo, logr)
	enrollmentService := service.NewEnrollmentService(
		transactor, sectionRepo, enrollmentRepo, waitlistRepo, termRepo,
		conflictService, auditService, cacheService, metricsService, nil, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	studentHandler := handler.NewStudentHandler(studentService)
	termHandler := handler.NewTermHandler(termService)
	sectionHandler := handler.NewSectionHandler(sectionService, waitlistService)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentService)
	auditHandler := handler.NewAuditHandler(auditService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authService), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authService), authHandler.Me)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(authService))

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleAdvisor)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	users := secured.Group("/users")
	{
		users.GET("", adminOnly, userHandler.List)
		users.POST("", adminOnly, userHandler.Create)
		users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), "SELF"), userHandler.Get)
		users.PUT("/:id", adminOnly, userHandler.Update)
		users.DELETE("/:id", adminOnly, userHandler.Delete)
	}

	students := secured.Group("/students")
	{
		students.GET("", staff, studentHandler.List)
		students.POST("", staff, studentHandler.Create)
		students.GET("/:id", middleware.RBAC(string(models.RoleAdmin), string(models.RoleAdvisor), "SELF"), studentHandler.Get)
		students.PUT("/:id", staff, studentHandler.Update)
		students.DELETE("/:id", adminOnly, studentHandler.Delete)
		students.GET("/:id/timetable", enrollmentHandler.Timetable)
	}

	terms := secured.Group("/terms")
	{
		terms.GET("", termHandler.List)
		terms.GET("/active", termHandler.GetActive)
		terms.POST("", adminOnly, termHandler.Create)
		terms.PUT("/:id", adminOnly, termHandler.Update)
		terms.POST("/set-active", adminOnly, termHandler.SetActive)
		terms.DELETE("/:id", adminOnly, termHandler.Delete)
	}

	sections := secured.Group("/sections")
	{
		sections.GET("", sectionHandler.List)
		sections.GET("/:id", sectionHandler.Get)
		sections.GET("/:id/occupancy", sectionHandler.Occupancy)
		sections.GET("/:id/waitlist", staff, sectionHandler.Waitlist)
		sections.GET("/:id/waitlist/:studentId/position", sectionHandler.WaitlistPosition)
		sections.DELETE("/:id/waitlist/:studentId", enrollmentHandler.RemoveFromWaitlist)
		sections.GET("/:id/audit", staff, auditHandler.SectionHistory)
		sections.POST("", staff, sectionHandler.Create)
		sections.PUT("/:id", staff, sectionHandler.Update)
	}

	enrollments := secured.Group("/enrollments")
	{
		enrollments.GET("", staff, enrollmentHandler.List)
		enrollments.POST("", enrollmentHandler.Register)
		enrollments.POST("/drop", enrollmentHandler.Drop)
	}

	secured.GET("/admin/metrics", adminOnly, metricsHandler.Snapshot)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
