package app

import (
	"reveal_backend/docs"
	"reveal_backend/internal/config"
	"reveal_backend/internal/middleware"
	"reveal_backend/internal/model"

	"reveal_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 接收方会话路由：匿名可用，携带 token 时识别参与者
	a.registerSessionRoutes(router, c, repos, cfg)

	// 3. 拥有者路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		authGroup.GET("/profile", c.auth.GetProfile)
		authGroup.PUT("/user/profile", c.auth.UpdateProfile)

		authGroup.POST("/upload", c.upload.Upload)

		authGroup.POST("/reveals", c.reveal.Create)
		authGroup.GET("/reveals", c.reveal.ListMine)
		authGroup.DELETE("/reveals", c.reveal.BulkDelete)
		authGroup.GET("/reveals/:id/attempts", c.reveal.ListAttempts)

		// 管理员维护接口
		admin := authGroup.Group("/admin")
		admin.Use(middleware.RoleMiddleware(model.Admin))
		{
			admin.POST("/sweep", c.reveal.Sweep)
		}
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}
}

func (a *App) registerSessionRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	session := router.Group("/api/r/:id")
	session.Use(middleware.TryAuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		session.POST("/open", c.session.Open)
		session.GET("/status", c.session.Status)
		session.POST("/answer", c.session.SubmitAnswer)
		session.POST("/consume", c.session.Consume)
		session.POST("/expire", c.session.Expire)
		session.GET("/ws", c.session.Watch)

		// 竞答需要登录，每个参与者只有一次提交
		session.POST("/attempts", middleware.AuthMiddleware(cfg), c.session.SubmitAttempt)
	}
}
