package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sitepulse/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidSchedule 在提交的调度配置不合法时返回。
var ErrInvalidSchedule = errors.New("invalid schedule settings")

// 调度频率的取值范围。
const (
	FrequencyNone    = "none"
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

var weekdayNames = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// ScheduleSettings 是采集调度的全部可配置项。
type ScheduleSettings struct {
	Frequency         string `json:"cron_frequency"`
	Day               string `json:"cron_day"`
	MonthDay          int    `json:"cron_month_day"`
	Time              string `json:"cron_time"`
	DeleteOnUninstall bool   `json:"delete_on_uninstall"`
}

// DefaultScheduleSettings 返回未配置时的默认调度：每周日 23:55。
func DefaultScheduleSettings() ScheduleSettings {
	return ScheduleSettings{
		Frequency: FrequencyWeekly,
		Day:       "sunday",
		MonthDay:  28,
		Time:      "23:55",
	}
}

// ScheduleSettingService 以键值对形式持久化调度配置。
type ScheduleSettingService struct {
	db *gorm.DB
}

// NewScheduleSettingService 构造 ScheduleSettingService
func NewScheduleSettingService(gdb *gorm.DB) *ScheduleSettingService {
	return &ScheduleSettingService{db: gdb}
}

// Get 读取当前调度配置，缺失的键回退到默认值。
func (s *ScheduleSettingService) Get() (ScheduleSettings, error) {
	settings := DefaultScheduleSettings()

	var rows []db.Setting
	if err := s.db.Where("key IN ?", []string{
		db.SettingKeyCronFrequency,
		db.SettingKeyCronDay,
		db.SettingKeyCronMonthDay,
		db.SettingKeyCronTime,
		db.SettingKeyDeleteOnUninstall,
	}).Find(&rows).Error; err != nil {
		return settings, fmt.Errorf("load schedule settings: %w", err)
	}

	for _, row := range rows {
		switch row.Key {
		case db.SettingKeyCronFrequency:
			settings.Frequency = row.Value
		case db.SettingKeyCronDay:
			settings.Day = row.Value
		case db.SettingKeyCronMonthDay:
			if day, err := strconv.Atoi(row.Value); err == nil {
				settings.MonthDay = day
			}
		case db.SettingKeyCronTime:
			settings.Time = row.Value
		case db.SettingKeyDeleteOnUninstall:
			settings.DeleteOnUninstall = row.Value == "true"
		}
	}

	return settings, nil
}

// Update 校验并持久化调度配置，返回清洗后的结果。
// 调用方在更新成功后需要触发一次调度对账。
func (s *ScheduleSettingService) Update(in ScheduleSettings) (ScheduleSettings, error) {
	cleaned, err := sanitizeScheduleSettings(in)
	if err != nil {
		return ScheduleSettings{}, err
	}

	pairs := map[string]string{
		db.SettingKeyCronFrequency:     cleaned.Frequency,
		db.SettingKeyCronDay:           cleaned.Day,
		db.SettingKeyCronMonthDay:      strconv.Itoa(cleaned.MonthDay),
		db.SettingKeyCronTime:          cleaned.Time,
		db.SettingKeyDeleteOnUninstall: strconv.FormatBool(cleaned.DeleteOnUninstall),
	}

	for key, value := range pairs {
		if err := s.upsertSetting(key, value); err != nil {
			return ScheduleSettings{}, err
		}
	}

	return cleaned, nil
}

func (s *ScheduleSettingService) upsertSetting(key, value string) error {
	setting := db.Setting{Key: key, Value: value}
	if err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

// sanitizeScheduleSettings 规整并校验调度配置。
// 月度执行日限制在 1-28，保证每个月都存在对应日期。
func sanitizeScheduleSettings(in ScheduleSettings) (ScheduleSettings, error) {
	cleaned := in
	cleaned.Frequency = strings.ToLower(strings.TrimSpace(in.Frequency))
	cleaned.Day = strings.ToLower(strings.TrimSpace(in.Day))
	cleaned.Time = strings.TrimSpace(in.Time)

	switch cleaned.Frequency {
	case FrequencyNone, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return ScheduleSettings{}, fmt.Errorf("%w: frequency %q", ErrInvalidSchedule, in.Frequency)
	}

	if !containsString(weekdayNames, cleaned.Day) {
		return ScheduleSettings{}, fmt.Errorf("%w: day %q", ErrInvalidSchedule, in.Day)
	}

	if cleaned.MonthDay < 1 || cleaned.MonthDay > 28 {
		return ScheduleSettings{}, fmt.Errorf("%w: month day %d", ErrInvalidSchedule, in.MonthDay)
	}

	if _, err := time.Parse("15:04", cleaned.Time); err != nil {
		return ScheduleSettings{}, fmt.Errorf("%w: time %q", ErrInvalidSchedule, in.Time)
	}

	return cleaned, nil
}
