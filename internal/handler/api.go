package handler

import (
	"time"

	"github.com/sitepulse/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db         *gorm.DB
	store      *service.SnapshotService
	inspector  *service.ResourceInspector
	speed      *service.SpeedReportService
	components *service.ComponentService
	sysinfo    *service.SystemInfoService
	scheduler  *service.Scheduler
	charts     *service.ChartService
	settings   *service.ScheduleSettingService
	siteURL    string
	siteName   string
	nowFn      func() time.Time
}

// Options 汇总构造 API 所需的站点与外部接口配置。
type Options struct {
	SiteURL            string
	SiteName           string
	PagespeedAPIBase   string
	PagespeedAPIKey    string
	RegistryAPIBase    string
	InsecureSkipVerify bool
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, opts Options) *API {
	store := service.NewSnapshotService(gdb)
	inspector := service.NewResourceInspector(store, opts.SiteURL, opts.InsecureSkipVerify)
	speed := service.NewSpeedReportService(store, opts.PagespeedAPIBase, opts.PagespeedAPIKey, opts.SiteURL)
	components := service.NewComponentService(store, opts.RegistryAPIBase)
	sysinfo := service.NewSystemInfoService(store, opts.SiteURL, opts.SiteName)
	settings := service.NewScheduleSettingService(gdb)
	aggregator := service.NewAggregator(store)
	scheduler := service.NewScheduler(
		store, settings, inspector, speed, components, sysinfo, aggregator,
		opts.SiteURL, opts.SiteName,
	)

	return &API{
		db:         gdb,
		store:      store,
		inspector:  inspector,
		speed:      speed,
		components: components,
		sysinfo:    sysinfo,
		scheduler:  scheduler,
		charts:     service.NewChartService(store),
		settings:   settings,
		siteURL:    opts.SiteURL,
		siteName:   opts.SiteName,
		nowFn:      time.Now,
	}
}

// Scheduler 暴露调度器，供入口程序启动与停止。
func (a *API) Scheduler() *service.Scheduler {
	return a.scheduler
}

// WithNowFn 注入时钟，便于测试控制区间计算。
func (a *API) WithNowFn(nowFn func() time.Time) *API {
	if nowFn != nil {
		a.nowFn = nowFn
	}
	return a
}
