package router

import (
	"time"

	"doc-qa/internal/handler"
	"doc-qa/internal/middleware"
	"doc-qa/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(svcCtx *service.ServiceContext) *gin.Engine {
	gin.SetMode(svcCtx.Config.Server.Mode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(svcCtx.Log))

	// CORS
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowCredentials: true,
		AllowHeaders:     []string{"Content-Type", "Content-Length", "Accept-Encoding", "X-CSRF-Token", "Authorization", "accept", "origin", "Cache-Control", "X-Requested-With", middleware.RequestIDHeader},
		AllowMethods:     []string{"POST", "OPTIONS", "GET", "PUT", "DELETE"},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		MaxAge:           12 * time.Hour,
	}))

	// 初始化handlers
	taskHandler := handler.NewTaskHandler(svcCtx.Tasks, svcCtx.Dispatcher, svcCtx.Config.Server.MaxUploadBytes, svcCtx.Log)
	healthHandler := handler.NewHealthHandler(svcCtx.DB)

	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", handler.Metrics(svcCtx.Metrics.Registry))

	// 任务相关
	tasks := r.Group("/tasks")
	{
		tasks.POST("", taskHandler.CreateTask)
		tasks.POST("/:id", taskHandler.UpdateTask)
		tasks.GET("/:id", taskHandler.GetTask)
		tasks.DELETE("/:id", taskHandler.CancelTask)
		tasks.GET("/:id/files/:file_id", taskHandler.DownloadFile)
	}

	return r
}
