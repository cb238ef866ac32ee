package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sitepulse/internal/db"
)

func newTestScheduler(t *testing.T) (*Scheduler, *ScheduleSettingService, func()) {
	t.Helper()
	gdb, cleanup := setupStoreTestDB(t)

	store := NewSnapshotService(gdb)
	settings := NewScheduleSettingService(gdb)
	scheduler := NewScheduler(store, settings, nil, nil, nil, nil, nil, "https://example.com/", "Example")

	return scheduler, settings, func() {
		scheduler.Stop()
		cleanup()
	}
}

func TestReconcileIdempotent(t *testing.T) {
	scheduler, _, cleanup := newTestScheduler(t)
	defer cleanup()

	changed, err := scheduler.Reconcile()
	if err != nil {
		t.Fatalf("first Reconcile returned error: %v", err)
	}
	if !changed {
		t.Fatal("expected first Reconcile to schedule the job")
	}

	firstRun := scheduler.Status().NextRun

	// 配置未变时对账不得取消重排
	changed, err = scheduler.Reconcile()
	if err != nil {
		t.Fatalf("second Reconcile returned error: %v", err)
	}
	if changed {
		t.Fatal("expected identical config to leave schedule untouched")
	}
	if scheduler.Status().NextRun != firstRun {
		t.Fatal("expected next run time to be preserved")
	}
}

func TestReconcileRemovesSchedule(t *testing.T) {
	scheduler, settings, cleanup := newTestScheduler(t)
	defer cleanup()

	if _, err := scheduler.Reconcile(); err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	cfg := DefaultScheduleSettings()
	cfg.Frequency = FrequencyNone
	if _, err := settings.Update(cfg); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	changed, err := scheduler.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if !changed {
		t.Fatal("expected schedule removal to count as change")
	}
	if scheduler.Status().Scheduled {
		t.Fatal("expected no schedule after frequency none")
	}

	// 已无排程时再次对账为空操作
	changed, err = scheduler.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if changed {
		t.Fatal("expected repeated removal to be a no-op")
	}
}

func TestReconcileReschedulesOnChange(t *testing.T) {
	scheduler, settings, cleanup := newTestScheduler(t)
	defer cleanup()

	if _, err := scheduler.Reconcile(); err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	cfg := DefaultScheduleSettings()
	cfg.Day = "monday"
	if _, err := settings.Update(cfg); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	changed, err := scheduler.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if !changed {
		t.Fatal("expected day change to reschedule")
	}
}

func TestEnsureMonthlyRollupIdempotent(t *testing.T) {
	scheduler, _, cleanup := newTestScheduler(t)
	defer cleanup()

	if !scheduler.EnsureMonthlyRollup() {
		t.Fatal("expected first call to schedule the rollup")
	}
	if scheduler.EnsureMonthlyRollup() {
		t.Fatal("expected repeated call to keep the existing rollup event")
	}
	if scheduler.Status().RollupAt == "" {
		t.Fatal("expected rollup time in status")
	}
}

func TestRunCollectionContinuesPastFailure(t *testing.T) {
	gdb, cleanup := setupStoreTestDB(t)
	defer cleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/style.css", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(bytes.Repeat([]byte("a"), 100))
	})
	mux.HandleFunc("/pagespeed", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Example</title><link rel="stylesheet" href="/style.css"></head><body></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := NewSnapshotService(gdb)
	settings := NewScheduleSettingService(gdb)
	inspector := NewResourceInspector(store, server.URL, false).WithWorkerCount(1)
	speed := NewSpeedReportService(store, server.URL+"/pagespeed", "", server.URL)
	components := NewComponentService(store, server.URL+"/registry")
	sysinfo := NewSystemInfoService(store, server.URL, "Example")

	scheduler := NewScheduler(store, settings, inspector, speed, components, sysinfo, NewAggregator(store), server.URL, "Example")
	scheduler.WithNowFn(func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) })
	defer scheduler.Stop()

	if runID := scheduler.RunCollection(context.Background()); runID == "" {
		t.Fatal("expected a run id")
	}
	// 同日二次执行：每个指标仍只有一条快照
	scheduler.RunCollection(context.Background())

	// 测速失败不阻断后续步骤，缓存信息照常落库
	expected := map[string]int64{
		db.MetricResourceSnapshot:    1,
		db.MetricInstalledComponents: 1,
		db.MetricCacheInfo:           1,
		db.MetricSpeedReport:         0,
	}
	for metric, want := range expected {
		var got int64
		if err := gdb.Model(&db.Snapshot{}).Where("metric_key = ?", metric).Count(&got).Error; err != nil {
			t.Fatalf("count %s rows: %v", metric, err)
		}
		if got != want {
			t.Fatalf("expected %d %s rows after two same-day runs, got %d", want, metric, got)
		}
	}

	record, err := store.ReadLatest(db.MetricResourceSnapshot)
	if err != nil {
		t.Fatalf("ReadLatest returned error: %v", err)
	}
	var payload ResourcePayload
	if err := json.Unmarshal([]byte(record.Payload), &payload); err != nil {
		t.Fatalf("decode resource payload: %v", err)
	}
	if payload.CSSCount != 1 || payload.CSSTotalSize != "100 bytes" {
		t.Fatalf("unexpected resource payload: css=%d size=%s", payload.CSSCount, payload.CSSTotalSize)
	}
}

func TestNextFireTime(t *testing.T) {
	// 2026-08-26 是周三
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	daily := ScheduleSettings{Frequency: FrequencyDaily, Day: "sunday", MonthDay: 28, Time: "14:00"}
	at, err := nextFireTime(daily, now)
	if err != nil {
		t.Fatalf("daily nextFireTime returned error: %v", err)
	}
	if at.Day() != 26 || at.Hour() != 14 {
		t.Fatalf("unexpected daily fire time: %s", at)
	}

	daily.Time = "09:00"
	at, err = nextFireTime(daily, now)
	if err != nil {
		t.Fatalf("daily nextFireTime returned error: %v", err)
	}
	if at.Day() != 27 {
		t.Fatalf("expected past time to roll to next day, got %s", at)
	}

	weekly := ScheduleSettings{Frequency: FrequencyWeekly, Day: "sunday", MonthDay: 28, Time: "23:55"}
	at, err = nextFireTime(weekly, now)
	if err != nil {
		t.Fatalf("weekly nextFireTime returned error: %v", err)
	}
	if at.Weekday() != time.Sunday || at.Day() != 30 {
		t.Fatalf("unexpected weekly fire time: %s", at)
	}

	// 当天为目标星期但时刻已过时顺延一周
	weekly.Day = "wednesday"
	weekly.Time = "09:00"
	at, err = nextFireTime(weekly, now)
	if err != nil {
		t.Fatalf("weekly nextFireTime returned error: %v", err)
	}
	if at.Day() != 2 || at.Month() != time.September {
		t.Fatalf("expected next week wednesday, got %s", at)
	}

	// 月度排程永远落在下个月，当月的 28 日还没到也不提前
	monthly := ScheduleSettings{Frequency: FrequencyMonthly, Day: "sunday", MonthDay: 28, Time: "23:55"}
	at, err = nextFireTime(monthly, now)
	if err != nil {
		t.Fatalf("monthly nextFireTime returned error: %v", err)
	}
	if at.Day() != 28 || at.Month() != time.September || at.Hour() != 23 {
		t.Fatalf("expected next month's day 28, got %s", at)
	}

	monthly.MonthDay = 10
	at, err = nextFireTime(monthly, now)
	if err != nil {
		t.Fatalf("monthly nextFireTime returned error: %v", err)
	}
	if at.Day() != 10 || at.Month() != time.September {
		t.Fatalf("expected next month fire time, got %s", at)
	}

	// 年底跨年翻转
	december := time.Date(2026, 12, 15, 12, 0, 0, 0, time.UTC)
	at, err = nextFireTime(monthly, december)
	if err != nil {
		t.Fatalf("monthly nextFireTime returned error: %v", err)
	}
	if at.Year() != 2027 || at.Month() != time.January || at.Day() != 10 {
		t.Fatalf("expected january fire time, got %s", at)
	}
}
