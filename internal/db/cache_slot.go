package db

import "gorm.io/gorm"

// CacheSlot 存储"最近一次已知值"的单槽缓存，与按日落库的历史快照分开建表，
// 避免把快表查询和追加式历史混在一起。
type CacheSlot struct {
	gorm.Model
	Key   string `gorm:"size:100;uniqueIndex;not null"`
	Value string `gorm:"type:text"`
}

// TableName 自定义表名以保持命名一致。
func (CacheSlot) TableName() string {
	return "cache_slots"
}

const (
	// SlotResourceSnapshot 缓存站点首页最近一次资源巡检结果。
	SlotResourceSnapshot = "cached_resource_snapshot"
	// SlotSpeedReport 缓存最近一次测速报告（全局仅一份，非历史）。
	SlotSpeedReport = "cached_speed_report"
	// SlotCacheInfo 缓存最近一次站点缓存信息。
	SlotCacheInfo = "cached_cache_info"
	// SlotComponents 缓存最近一次组件清单。
	SlotComponents = "cached_components"
	// SlotRegistryPrefix 是按 slug 缓存注册表查询结果的键前缀。
	SlotRegistryPrefix = "cached_registry_"
)
