package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-request-api/internal/handler"
	"github.com/noah-isme/uni-request-api/internal/middleware"
	"github.com/noah-isme/uni-request-api/internal/models"
	"github.com/noah-isme/uni-request-api/internal/service"
	"github.com/noah-isme/uni-request-api/pkg/config"
	"github.com/noah-isme/uni-request-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/uni-request-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/uni-request-api/pkg/middleware/requestid"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *service.MetricsService
	Tokens  middleware.TokenValidator
	Audit   middleware.AuditWriter

	Requests      *handler.StudentRequestHandler
	Notifications *handler.NotificationHandler
	Observability *handler.MetricsHandler
}

// New builds the gin engine with every route mounted.
func New(deps Deps) *gin.Engine {
	cfg := deps.Config
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(corsmiddleware.Options{AllowedOrigins: cfg.CORS.AllowedOrigins}))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", deps.Observability.Health)
	r.GET("/ready", deps.Observability.Ready)
	r.GET("/metrics", deps.Observability.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(deps.Tokens))

	staff := middleware.RequireRoles(models.RoleProfessor, models.RoleStudentService, models.RoleAdmin)
	management := middleware.RequireRoles(models.RoleStudentService, models.RoleAdmin)

	requests := api.Group("/student-requests")
	{
		h := deps.Requests
		requests.POST("", middleware.RequireRoles(models.RoleStudent), h.Create)
		requests.GET("", h.List)
		requests.GET("/export", management,
			middleware.Audit(deps.Audit, deps.Logger, models.AuditActionRequestExport, "student_requests"), h.Export)
		requests.POST("/escalations/run", middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(deps.Audit, deps.Logger, models.AuditActionEscalationRun, "student_requests"), h.RunEscalation)
		requests.GET("/:id", h.Get)
		requests.GET("/:id/workflow", h.Workflow)
		requests.PATCH("/:id/status", management, h.UpdateStatus)
		requests.PATCH("/:id/assignee", staff, h.Reassign)
		requests.DELETE("/:id", h.Delete)
		requests.POST("/:id/comments", h.AddComment)
		requests.GET("/:id/comments", h.ListComments)
	}

	notifications := api.Group("/notifications")
	{
		notifications.GET("", deps.Notifications.List)
		notifications.PATCH("/:id/read", deps.Notifications.MarkRead)
	}

	return r
}
