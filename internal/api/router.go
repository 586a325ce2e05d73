package api

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/livepost/config"
	_ "github.com/d60-Lab/livepost/docs"
	"github.com/d60-Lab/livepost/internal/api/handler"
	"github.com/d60-Lab/livepost/internal/api/middleware"
)

// NewRouter 注册中间件与路由
func NewRouter(cfg *config.Config, h *handler.Handler) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Sentry.DSN != "" {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(
		middleware.RequestLogger(),
		middleware.CORS(cfg.Server.CORSOrigin),
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws"})),
	)

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/ws", h.Subscribe)

	posts := r.Group("/posts")
	if cfg.RateLimit.Enabled {
		posts.Use(middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	{
		posts.POST("", h.CreatePost)
		posts.GET("", h.ListPosts)
		posts.PUT("/:id", h.UpdatePost)
		posts.DELETE("/:id", h.DeletePost)
	}
	return r
}
