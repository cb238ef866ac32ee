package router

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/sitepulse/internal/handler"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("sitepulse_session", store))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/login", handler.Login)
		apiGroup.GET("/logout", handler.Logout)

		// 只读查询接口
		apiGroup.GET("/chart-data", api.GetChartData)
		apiGroup.GET("/system-info", api.GetSystemInfo)
		apiGroup.GET("/latest-info", api.GetLatestInfo)
		apiGroup.GET("/resource", api.GetLatestResource)
		apiGroup.GET("/pagespeed", api.GetSpeedReport)
		apiGroup.GET("/settings", api.GetSettings)

		// 需要认证的管理接口
		auth := apiGroup.Group("")
		auth.Use(handler.AuthRequired())
		{
			auth.POST("/settings", api.UpdateSettings)
			auth.POST("/run", api.RunCollectionNow)
			auth.GET("/resource/inspect", api.InspectResource)
		}
	}

	return r
}
