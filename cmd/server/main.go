package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/sitepulse/internal/config"
	"github.com/sitepulse/internal/db"
	"github.com/sitepulse/internal/handler"
	"github.com/sitepulse/internal/router"
)

func main() {
	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	// 确保管理员账号存在
	if err := db.EnsureUser(cfg.AdminUser, cfg.AdminPassword); err != nil {
		log.Fatalf("failed to ensure admin user: %v", err)
	}

	api := handler.NewAPI(db.DB, handler.Options{
		SiteURL:            cfg.SiteURL,
		SiteName:           cfg.SiteName,
		PagespeedAPIBase:   cfg.PagespeedAPIBase,
		PagespeedAPIKey:    cfg.PagespeedAPIKey,
		RegistryAPIBase:    cfg.RegistryAPIBase,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})

	// 启动采集调度
	if err := api.Scheduler().Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer api.Scheduler().Stop()

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(api, cfg.SessionSecret)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}
