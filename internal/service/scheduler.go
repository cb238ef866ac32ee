package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sitepulse/internal/db"
)

// CronStatus 描述当前调度状态，供运维接口查询。
type CronStatus struct {
	Scheduled bool   `json:"scheduled"`
	Frequency string `json:"frequency"`
	NextRun   string `json:"next_run,omitempty"`
	RollupAt  string `json:"rollup_at,omitempty"`
}

// scheduledJob 是当前生效的采集排程。
type scheduledJob struct {
	settings ScheduleSettings
	nextRun  time.Time
	timer    *time.Timer
}

// Scheduler 负责采集任务的排程对账与执行。
// 对账遵循三态：配置为 none 时撤销排程，配置变化时取消重排，
// 配置未变时不触碰现有排程。
type Scheduler struct {
	store      *SnapshotService
	settings   *ScheduleSettingService
	inspector  *ResourceInspector
	speed      *SpeedReportService
	components *ComponentService
	sysinfo    *SystemInfoService
	aggregator *Aggregator
	siteURL    string
	siteName   string
	nowFn      func() time.Time

	mu          sync.Mutex
	stopped     bool
	current     *scheduledJob
	rollupAt    time.Time
	rollupTimer *time.Timer
}

// NewScheduler 构造 Scheduler。
func NewScheduler(
	store *SnapshotService,
	settings *ScheduleSettingService,
	inspector *ResourceInspector,
	speed *SpeedReportService,
	components *ComponentService,
	sysinfo *SystemInfoService,
	aggregator *Aggregator,
	siteURL, siteName string,
) *Scheduler {
	return &Scheduler{
		store:      store,
		settings:   settings,
		inspector:  inspector,
		speed:      speed,
		components: components,
		sysinfo:    sysinfo,
		aggregator: aggregator,
		siteURL:    siteURL,
		siteName:   siteName,
		nowFn:      time.Now,
	}
}

// WithNowFn 注入时钟，便于测试控制排程计算。
func (s *Scheduler) WithNowFn(nowFn func() time.Time) *Scheduler {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

// Start 启动调度：按当前配置排程采集任务并挂上月度汇总事件。
func (s *Scheduler) Start() error {
	if _, err := s.Reconcile(); err != nil {
		return err
	}
	s.EnsureMonthlyRollup()
	return nil
}

// Stop 撤销全部排程，已在执行中的采集不被打断。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.current != nil {
		s.current.timer.Stop()
		s.current = nil
	}
	if s.rollupTimer != nil {
		s.rollupTimer.Stop()
		s.rollupTimer = nil
	}
}

// Reconcile 将排程与持久化配置对账，返回排程是否发生了变更。
// 配置与现有排程一致时不取消不重排，保持既定的下次执行时间。
func (s *Scheduler) Reconcile() (bool, error) {
	cfg, err := s.settings.Get()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false, errors.New("scheduler stopped")
	}

	if cfg.Frequency == FrequencyNone {
		if s.current == nil {
			return false, nil
		}
		s.current.timer.Stop()
		s.current = nil
		log.Printf("collection schedule removed")
		return true, nil
	}

	if s.current != nil && scheduleKey(s.current.settings) == scheduleKey(cfg) {
		return false, nil
	}

	if s.current != nil {
		s.current.timer.Stop()
		s.current = nil
	}

	next, err := nextFireTime(cfg, s.nowFn())
	if err != nil {
		return false, err
	}

	s.current = &scheduledJob{
		settings: cfg,
		nextRun:  next,
		timer:    time.AfterFunc(time.Until(next), s.fireCollection),
	}
	log.Printf("collection scheduled: %s at %s", cfg.Frequency, next.Format("2006-01-02 15:04"))

	return true, nil
}

// EnsureMonthlyRollup 确保下月一日存在且仅存在一个月度汇总事件。
// 目标时间未变时重复调用不产生新事件。
func (s *Scheduler) EnsureMonthlyRollup() bool {
	now := s.nowFn()
	target := time.Date(now.Year(), now.Month(), 1, 0, 5, 0, 0, now.Location()).AddDate(0, 1, 0)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if s.rollupTimer != nil && s.rollupAt.Equal(target) {
		return false
	}

	if s.rollupTimer != nil {
		s.rollupTimer.Stop()
	}
	s.rollupAt = target
	s.rollupTimer = time.AfterFunc(time.Until(target), s.fireRollup)
	log.Printf("monthly rollup scheduled at %s", target.Format("2006-01-02 15:04"))

	return true
}

// Status 返回当前排程概览。
func (s *Scheduler) Status() CronStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := CronStatus{}
	if s.current != nil {
		status.Scheduled = true
		status.Frequency = s.current.settings.Frequency
		status.NextRun = s.current.nextRun.Format("2006-01-02 15:04")
	}
	if s.rollupTimer != nil {
		status.RollupAt = s.rollupAt.Format("2006-01-02 15:04")
	}
	return status
}

// RunCollection 执行一轮采集：首页资源巡检、组件清点、测速报告、缓存信息。
// 单步失败只记录日志，不阻断后续步骤；返回本轮运行 ID。
func (s *Scheduler) RunCollection(ctx context.Context) string {
	runID := uuid.NewString()
	now := s.nowFn()
	log.Printf("collection run %s started for %s", runID, s.siteURL)

	resource, err := s.inspector.Inspect(ctx, s.siteURL, s.siteName)
	if err != nil {
		log.Printf("collection run %s: inspect: %v", runID, err)
	}
	// 首页抓取失败的错误结果同样落库，图表据此体现采集中断的日子
	if resource != nil {
		if _, err := s.store.UpsertDay(db.MetricResourceSnapshot, now, resource); err != nil {
			log.Printf("collection run %s: store resource snapshot: %v", runID, err)
		}
	}

	if components, err := s.components.Collect(ctx); err != nil {
		log.Printf("collection run %s: components: %v", runID, err)
	} else if _, err := s.store.UpsertDay(db.MetricInstalledComponents, now, components); err != nil {
		log.Printf("collection run %s: store components: %v", runID, err)
	}

	if report, err := s.speed.FetchReport(ctx); err != nil {
		log.Printf("collection run %s: speed report: %v", runID, err)
	} else if _, err := s.store.UpsertDay(db.MetricSpeedReport, now, report); err != nil {
		log.Printf("collection run %s: store speed report: %v", runID, err)
	}

	if cache, err := s.sysinfo.CollectCacheInfo(ctx); err != nil {
		log.Printf("collection run %s: cache info: %v", runID, err)
	} else if _, err := s.store.UpsertDay(db.MetricCacheInfo, now, cache); err != nil {
		log.Printf("collection run %s: store cache info: %v", runID, err)
	}

	log.Printf("collection run %s finished", runID)
	return runID
}

func (s *Scheduler) fireCollection() {
	s.RunCollection(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.current == nil {
		return
	}

	next, err := nextFireTime(s.current.settings, s.nowFn())
	if err != nil {
		log.Printf("reschedule collection: %v", err)
		s.current = nil
		return
	}
	s.current.nextRun = next
	s.current.timer = time.AfterFunc(time.Until(next), s.fireCollection)
}

func (s *Scheduler) fireRollup() {
	if _, err := s.aggregator.RunMonthlyRollup(s.nowFn()); err != nil {
		log.Printf("monthly rollup: %v", err)
	}

	s.mu.Lock()
	s.rollupTimer = nil
	s.mu.Unlock()
	s.EnsureMonthlyRollup()
}

// scheduleKey 归并出排程的身份：同 key 的配置排程等价，对账时不重排。
// 频率之外只比较该频率真正用到的字段。
func scheduleKey(cfg ScheduleSettings) string {
	switch cfg.Frequency {
	case FrequencyDaily:
		return "daily@" + cfg.Time
	case FrequencyWeekly:
		return "weekly@" + cfg.Day + "@" + cfg.Time
	case FrequencyMonthly:
		return fmt.Sprintf("monthly@%d@%s", cfg.MonthDay, cfg.Time)
	}
	return cfg.Frequency
}

// nextFireTime 计算配置对应的下一次执行时间，严格晚于 now。
func nextFireTime(cfg ScheduleSettings, now time.Time) (time.Time, error) {
	parsed, err := time.Parse("15:04", cfg.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", ErrInvalidSchedule, cfg.Time)
	}
	hour, minute := parsed.Hour(), parsed.Minute()

	switch cfg.Frequency {
	case FrequencyDaily:
		at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at, nil
	case FrequencyWeekly:
		target := weekdayIndex(cfg.Day)
		if target < 0 {
			return time.Time{}, fmt.Errorf("%w: day %q", ErrInvalidSchedule, cfg.Day)
		}
		days := (target - int(now.Weekday()) + 7) % 7
		at := time.Date(now.Year(), now.Month(), now.Day()+days, hour, minute, 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 7)
		}
		return at, nil
	case FrequencyMonthly:
		// 月度任务固定落在下个自然月的配置日，当月即便还没到配置日也不提前触发
		first := time.Date(now.Year(), now.Month(), 1, hour, minute, 0, 0, now.Location()).AddDate(0, 1, 0)
		return first.AddDate(0, 0, cfg.MonthDay-1), nil
	}

	return time.Time{}, fmt.Errorf("%w: frequency %q", ErrInvalidSchedule, cfg.Frequency)
}

func weekdayIndex(name string) int {
	for i, weekday := range weekdayNames {
		if weekday == name {
			return i
		}
	}
	return -1
}
