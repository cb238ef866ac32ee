package config

import (
	"fmt"
	"os"
	"strings"
)

// AppConfig 汇总运行监控服务所需的基础配置。
type AppConfig struct {
	ListenAddr         string
	Port               string
	DatabasePath       string
	SessionSecret      string
	GinMode            string
	SiteURL            string
	SiteName           string
	PagespeedAPIBase   string
	PagespeedAPIKey    string
	RegistryAPIBase    string
	InsecureSkipVerify bool
	AdminUser          string
	AdminPassword      string
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() AppConfig {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	databasePath := strings.TrimSpace(os.Getenv("DATABASE_PATH"))
	if databasePath == "" {
		databasePath = "sitepulse.db"
	}

	sessionSecret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if sessionSecret == "" {
		sessionSecret = "sitepulse-dev-secret"
	}

	ginMode := strings.TrimSpace(os.Getenv("GIN_MODE"))
	if ginMode == "" {
		ginMode = "release"
	}

	siteURL := strings.TrimSpace(os.Getenv("SITE_URL"))
	if siteURL == "" {
		siteURL = "http://localhost:8080/"
	}

	siteName := strings.TrimSpace(os.Getenv("SITE_NAME"))
	if siteName == "" {
		siteName = "SitePulse"
	}

	return AppConfig{
		ListenAddr:         listenAddr,
		Port:               port,
		DatabasePath:       databasePath,
		SessionSecret:      sessionSecret,
		GinMode:            ginMode,
		SiteURL:            siteURL,
		SiteName:           siteName,
		PagespeedAPIBase:   strings.TrimSpace(os.Getenv("PAGESPEED_API_BASE")),
		PagespeedAPIKey:    strings.TrimSpace(os.Getenv("PAGESPEED_API_KEY")),
		RegistryAPIBase:    strings.TrimSpace(os.Getenv("REGISTRY_API_BASE")),
		InsecureSkipVerify: strings.TrimSpace(os.Getenv("INSECURE_SKIP_VERIFY")) == "true",
		AdminUser:          strings.TrimSpace(os.Getenv("ADMIN_USER")),
		AdminPassword:      strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
	}
}
