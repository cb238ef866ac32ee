package db

import "time"

// 快照指标类型，对应一次采集运行写入的四类数据。
const (
	// MetricResourceSnapshot 表示站点资源体积/数量快照。
	MetricResourceSnapshot = "resource_snapshot"
	// MetricSpeedReport 表示外部测速接口返回的精简报告。
	MetricSpeedReport = "speed_report"
	// MetricInstalledComponents 表示站点组件清单快照。
	MetricInstalledComponents = "installed_components"
	// MetricCacheInfo 表示站点缓存/响应信息快照。
	MetricCacheInfo = "cache_info"
)

// Snapshot 记录某个指标在某个自然日的一次采集结果。
// MetricKey + CapturedOn 采用唯一索引，保证同日重复采集为幂等覆盖；
// Payload 存储该指标对应的 JSON 文本。
type Snapshot struct {
	ID         uint      `gorm:"primaryKey"`
	MetricKey  string    `gorm:"size:32;uniqueIndex:idx_snapshot_metric_day"`
	CapturedOn time.Time `gorm:"uniqueIndex:idx_snapshot_metric_day"`
	Payload    string    `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName 重写确保唯一索引作用到 metric_key + captured_on
func (Snapshot) TableName() string {
	return "snapshots"
}
