package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sitepulse/internal/db"
)

// 月度汇总关注的五个核心性能审计。
var coreAuditIDs = []string{
	"first-contentful-paint",
	"largest-contentful-paint",
	"total-blocking-time",
	"cumulative-layout-shift",
	"speed-index",
}

// 月度汇总保留平均分的四个评分类目，pwa 常为空分不参与。
var aggregateCategories = []string{"performance", "accessibility", "best-practices", "seo"}

// AuditAverage 是单条核心审计的月均值。
type AuditAverage struct {
	Score        float64 `json:"score"`
	DisplayValue string  `json:"displayValue"`
}

// DeviceMonthly 是单个设备档位的月均评分。
type DeviceMonthly struct {
	Audits     map[string]AuditAverage `json:"audits"`
	Categories map[string]float64      `json:"categories"`
}

// ResourceMonthly 是资源巡检指标的月均值。
// ActivePlugins 只统计与资源快照同日存在组件快照的日子。
type ResourceMonthly struct {
	CSS            float64 `json:"css"`
	JS             float64 `json:"js"`
	Media          float64 `json:"media"`
	TotalAsset     float64 `json:"total_asset"`
	LoadTime       float64 `json:"load_time"`
	CSSTotalSize   string  `json:"css_total_size"`
	JSTotalSize    string  `json:"js_total_size"`
	MediaTotalSize string  `json:"media_total_size"`
	TotalSize      string  `json:"total_size"`
	ActivePlugins  float64 `json:"active_plugins"`
	MonthOfDate    string  `json:"month_of_date"`
	PageURL        string  `json:"page_url"`
}

// MonthlyAggregatePayload 是一个自然月的全部均值。
// 测速字段与资源字段各用各的分母：二者的采集天数可能不同。
type MonthlyAggregatePayload struct {
	MobileData   DeviceMonthly   `json:"mobile_data"`
	DesktopData  DeviceMonthly   `json:"desktop_data"`
	ResourceData ResourceMonthly `json:"resource_data"`
}

// Aggregator 把上一个自然月的按日快照压缩为一条月度汇总。
type Aggregator struct {
	store *SnapshotService
}

// NewAggregator 构造 Aggregator
func NewAggregator(store *SnapshotService) *Aggregator {
	return &Aggregator{store: store}
}

// RunMonthlyRollup 汇总 now 所在月的上一个自然月。
// 同月重复执行为幂等覆盖；当月完全没有快照时返回 ErrInsufficientData。
func (a *Aggregator) RunMonthlyRollup(now time.Time) (*db.MonthlyAggregate, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
	monthEnd := monthStart.AddDate(0, 1, -1)

	speedRows, err := a.store.QueryRange(db.MetricSpeedReport, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}
	resourceRows, err := a.store.QueryRange(db.MetricResourceSnapshot, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}
	componentRows, err := a.store.QueryRange(db.MetricInstalledComponents, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}

	if len(speedRows) == 0 && len(resourceRows) == 0 {
		return nil, fmt.Errorf("%w: no snapshots in %s", ErrInsufficientData, monthStart.Format("2006-01"))
	}

	payload := MonthlyAggregatePayload{
		MobileData:   aggregateDevice(speedRows, false),
		DesktopData:  aggregateDevice(speedRows, true),
		ResourceData: aggregateResources(resourceRows, componentRows, monthStart),
	}

	return a.store.UpsertMonthly(monthStart, payload)
}

// aggregateDevice 对一个设备档位求核心审计与类目分数的月均值。
// 分母为解码成功的测速天数，缺失字段按零参与，口径与历史数据一致；
// 解码失败的快照整条跳过，不计入分母。
func aggregateDevice(rows []db.Snapshot, desktop bool) DeviceMonthly {
	monthly := DeviceMonthly{
		Audits:     make(map[string]AuditAverage, len(coreAuditIDs)),
		Categories: make(map[string]float64, len(aggregateCategories)),
	}

	scoreSums := make(map[string]float64)
	displaySums := make(map[string]float64)
	displayCounts := make(map[string]int)
	displayUnits := make(map[string]string)
	categorySums := make(map[string]float64)
	decoded := 0

	for _, row := range rows {
		var report SpeedReportPayload
		if err := json.Unmarshal([]byte(row.Payload), &report); err != nil {
			continue
		}
		decoded++

		device := report.MobileData
		if desktop {
			device = report.DesktopData
		}

		for _, id := range coreAuditIDs {
			audit, ok := device.Audits[id]
			if !ok {
				continue
			}
			if audit.Score != nil {
				scoreSums[id] += *audit.Score
			}
			if value, unit, ok := splitDisplayValue(audit.DisplayValue); ok {
				displaySums[id] += value
				displayCounts[id]++
				if displayUnits[id] == "" {
					displayUnits[id] = unit
				}
			}
		}

		for _, key := range aggregateCategories {
			if category, ok := device.Categories[key]; ok && category.Score != nil {
				categorySums[key] += *category.Score
			}
		}
	}

	if decoded == 0 {
		return monthly
	}

	days := float64(decoded)
	for _, id := range coreAuditIDs {
		average := AuditAverage{Score: round2(scoreSums[id] / days)}
		if displayCounts[id] > 0 {
			average.DisplayValue = formatDisplayValue(displaySums[id]/float64(displayCounts[id]), displayUnits[id])
		}
		monthly.Audits[id] = average
	}
	for _, key := range aggregateCategories {
		monthly.Categories[key] = round2(categorySums[key] / days)
	}

	return monthly
}

// aggregateResources 求资源巡检指标的月均值，分母为解码成功的资源快照天数。
// active_plugins 按采集日期配对组件快照，只对两类快照同日存在的日子求均。
func aggregateResources(resourceRows, componentRows []db.Snapshot, monthStart time.Time) ResourceMonthly {
	monthly := ResourceMonthly{MonthOfDate: monthStart.Format("2006-01-02")}

	componentsByDay := make(map[string]int, len(componentRows))
	for _, row := range componentRows {
		var payload ComponentsPayload
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
			continue
		}
		componentsByDay[row.CapturedOn.Format("2006-01-02")] = payload.Total
	}

	var cssSum, jsSum, mediaSum, loadSum float64
	var cssBytes, jsBytes, mediaBytes, totalBytes int64
	var pluginSum float64
	pairedDays := 0
	decoded := 0

	for _, row := range resourceRows {
		var payload ResourcePayload
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
			continue
		}
		decoded++

		cssSum += float64(payload.CSSCount)
		jsSum += float64(payload.JSCount)
		mediaSum += float64(payload.MediaCount)
		loadSum += payload.LoadTime

		cssBytes += parseAssetSize(payload.CSSTotalSize)
		jsBytes += parseAssetSize(payload.JSTotalSize)
		mediaBytes += parseAssetSize(payload.MediaTotalSize)
		totalBytes += parseAssetSize(payload.TotalSize)

		if payload.PageURL != "" {
			monthly.PageURL = payload.PageURL
		}

		if count, ok := componentsByDay[row.CapturedOn.Format("2006-01-02")]; ok {
			pluginSum += float64(count)
			pairedDays++
		}
	}

	if decoded == 0 {
		monthly.CSSTotalSize = formatAssetSize(0)
		monthly.JSTotalSize = formatAssetSize(0)
		monthly.MediaTotalSize = formatAssetSize(0)
		monthly.TotalSize = formatAssetSize(0)
		return monthly
	}

	days := float64(decoded)
	monthly.CSS = round2(cssSum / days)
	monthly.JS = round2(jsSum / days)
	monthly.Media = round2(mediaSum / days)
	monthly.TotalAsset = round2((cssSum + jsSum + mediaSum) / days)
	monthly.LoadTime = round2(loadSum / days)
	monthly.CSSTotalSize = formatAssetSize(cssBytes / int64(days))
	monthly.JSTotalSize = formatAssetSize(jsBytes / int64(days))
	monthly.MediaTotalSize = formatAssetSize(mediaBytes / int64(days))
	monthly.TotalSize = formatAssetSize(totalBytes / int64(days))

	if pairedDays > 0 {
		monthly.ActivePlugins = round2(pluginSum / float64(pairedDays))
	}

	return monthly
}

// splitDisplayValue 把 "1.2 s" 这类展示值拆成数值与单位。
func splitDisplayValue(raw string) (float64, string, bool) {
	trimmed := strings.TrimSpace(raw)
	i := 0
	for i < len(trimmed) {
		ch := trimmed[i]
		if (ch >= '0' && ch <= '9') || ch == '.' || ch == ',' {
			i++
			continue
		}
		break
	}

	number := strings.ReplaceAll(trimmed[:i], ",", "")
	if number == "" {
		return 0, "", false
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, "", false
	}

	return value, strings.TrimSpace(trimmed[i:]), true
}

func formatDisplayValue(value float64, unit string) string {
	formatted := strconv.FormatFloat(round2(value), 'f', -1, 64)
	if unit == "" {
		return formatted
	}
	return formatted + " " + unit
}

// parseAssetSize 是 formatAssetSize 的逆运算，历史字符串换算回字节数。
func parseAssetSize(raw string) int64 {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) != 2 {
		return 0
	}

	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}

	switch fields[1] {
	case "bytes":
		return int64(value)
	case "KB":
		return int64(value * 1024)
	case "MB":
		return int64(value * 1024 * 1024)
	}
	return 0
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
