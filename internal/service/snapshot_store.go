package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sitepulse/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrSnapshotNotFound 在指定指标没有任何快照时返回
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrSlotNotFound 在单槽缓存尚未写入时返回
	ErrSlotNotFound = errors.New("cache slot not found")
	// ErrInvalidDuration 在区间参数非法时返回
	ErrInvalidDuration = errors.New("invalid duration")
)

// 图表查询支持的区间快捷方式。
const (
	DurationWeek   = "week"
	DurationMonth  = "month"
	DurationYear   = "year"
	DurationCustom = "custom"
)

// SnapshotService 负责按 (指标, 自然日) 落库的快照存取。
// 同一指标同一天重复写入为幂等覆盖；单槽缓存与按日历史分别存放。
type SnapshotService struct {
	db *gorm.DB
}

// NewSnapshotService 构造 SnapshotService
func NewSnapshotService(gdb *gorm.DB) *SnapshotService {
	return &SnapshotService{db: gdb}
}

// UpsertDay 将 payload 序列化后写入指定指标当日的快照。
// 借助 metric_key + captured_on 唯一索引实现覆盖式写入；
// 并发写同一天仍可能出现窄竞态（查-改-写），当前触发链路为单线程，可接受。
func (s *SnapshotService) UpsertDay(metricKey string, date time.Time, payload interface{}) (*db.Snapshot, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot payload: %w", err)
	}

	record := db.Snapshot{
		MetricKey:  metricKey,
		CapturedOn: normalizeToDate(date),
		Payload:    string(body),
	}

	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "metric_key"}, {Name: "captured_on"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("upsert snapshot: %w", err)
	}

	if err := s.db.Where("metric_key = ? AND captured_on = ?", metricKey, record.CapturedOn).First(&record).Error; err != nil {
		return nil, fmt.Errorf("reload snapshot: %w", err)
	}

	return &record, nil
}

// ReadLatest 返回指定指标最近一次落库的快照。
func (s *SnapshotService) ReadLatest(metricKey string) (*db.Snapshot, error) {
	var record db.Snapshot
	if err := s.db.Where("metric_key = ?", metricKey).
		Order("captured_on DESC").
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("read latest snapshot: %w", err)
	}
	return &record, nil
}

// QueryRange 返回指定指标在 [start, end] 区间内的快照，按采集日期升序。
func (s *SnapshotService) QueryRange(metricKey string, start, end time.Time) ([]db.Snapshot, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: end before start")
	}

	var records []db.Snapshot
	if err := s.db.Where("metric_key = ?", metricKey).
		Where("captured_on BETWEEN ? AND ?", normalizeToDate(start), normalizeToDate(end)).
		Order("captured_on ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query snapshot range: %w", err)
	}

	return records, nil
}

// RangeBounds 将区间快捷方式换算为具体的起止日期。
// week 自上周一起算，month 自本月一日，year 自当年一月一日，custom 需显式给出起止。
func RangeBounds(duration string, now time.Time, startDate, endDate string) (time.Time, time.Time, error) {
	day := normalizeToDate(now)

	switch duration {
	case DurationWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset), day, nil
	case DurationMonth:
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location()), day, nil
	case DurationYear:
		return time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, day.Location()), day, nil
	case DurationCustom:
		start, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(startDate), day.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: bad start date", ErrInvalidDuration)
		}
		end, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(endDate), day.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: bad end date", ErrInvalidDuration)
		}
		if end.Before(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: end before start", ErrInvalidDuration)
		}
		return start, end, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s", ErrInvalidDuration, duration)
	}
}

// SetSlot 覆盖写入单槽缓存。
func (s *SnapshotService) SetSlot(key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slot payload: %w", err)
	}

	slot := db.CacheSlot{Key: key, Value: string(body)}
	if err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      string(body),
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&slot).Error; err != nil {
		return fmt.Errorf("upsert slot %s: %w", key, err)
	}

	return nil
}

// GetSlot 读取单槽缓存并反序列化到 dest。
func (s *SnapshotService) GetSlot(key string, dest interface{}) error {
	var slot db.CacheSlot
	if err := s.db.Where("key = ?", key).First(&slot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSlotNotFound
		}
		return fmt.Errorf("read slot %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(slot.Value), dest); err != nil {
		return fmt.Errorf("decode slot %s: %w", key, err)
	}

	return nil
}

// UpsertMonthly 覆盖写入指定月份（以月首日标识）的汇总结果。
func (s *SnapshotService) UpsertMonthly(monthOfDate time.Time, payload interface{}) (*db.MonthlyAggregate, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal monthly payload: %w", err)
	}

	record := db.MonthlyAggregate{
		MonthOfDate: normalizeToDate(monthOfDate),
		Payload:     string(body),
	}

	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "month_of_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("upsert monthly aggregate: %w", err)
	}

	if err := s.db.Where("month_of_date = ?", record.MonthOfDate).First(&record).Error; err != nil {
		return nil, fmt.Errorf("reload monthly aggregate: %w", err)
	}

	return &record, nil
}

// MonthlyRange 返回 [start, end] 区间内的月度汇总，按月份升序。
func (s *SnapshotService) MonthlyRange(start, end time.Time) ([]db.MonthlyAggregate, error) {
	var records []db.MonthlyAggregate
	if err := s.db.Where("month_of_date BETWEEN ? AND ?", normalizeToDate(start), normalizeToDate(end)).
		Order("month_of_date ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query monthly range: %w", err)
	}
	return records, nil
}

func normalizeToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
