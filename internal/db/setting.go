package db

import "gorm.io/gorm"

// Setting 存储后台可配置的系统级键值对。
type Setting struct {
	gorm.Model
	Key   string `gorm:"size:100;uniqueIndex;not null"`
	Value string `gorm:"type:text"`
}

// TableName 自定义表名以保持命名一致。
func (Setting) TableName() string {
	return "settings"
}

const (
	// SettingKeyCronFrequency 表示采集任务频率（none/daily/weekly/monthly）。
	SettingKeyCronFrequency = "cron_frequency"
	// SettingKeyCronDay 表示每周采集的星期几。
	SettingKeyCronDay = "cron_day"
	// SettingKeyCronMonthDay 表示每月采集的日期（1-28）。
	SettingKeyCronMonthDay = "cron_month_day"
	// SettingKeyCronTime 表示采集任务的时刻（HH:MM）。
	SettingKeyCronTime = "cron_time"
	// SettingKeyDeleteOnUninstall 表示卸载时是否删除历史数据。
	SettingKeyDeleteOnUninstall = "delete_on_uninstall"
)
