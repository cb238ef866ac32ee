package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sitepulse/internal/db"
)

var (
	// ErrInsufficientData 在查询区间内没有可用数据点时返回。
	ErrInsufficientData = errors.New("not enough data")
	// ErrUnknownChartType 在请求的图表类型不在支持范围内时返回。
	ErrUnknownChartType = errors.New("unknown chart type")
)

// 支持的图表类型，BuildChartData 对其做封闭分发。
const (
	ChartLighthouseScores = "lighthouse_score_chart"
	ChartPerformanceScore = "performance_score_chart"
	ChartLoadtimeInsights = "loadtime_insights_chart"
	ChartAssetSize        = "asset_size_chart"
	ChartAssetCount       = "asset_count_chart"
)

// ChartDataset 是图表中的一条曲线。
type ChartDataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// ChartData 是绘图所需的全部数据：横轴标签、若干数据集与横轴标题。
type ChartData struct {
	Labels     []string       `json:"labels"`
	Datasets   []ChartDataset `json:"datasets"`
	XAxisTitle string         `json:"x_axis_title"`
}

// scorePoint 是一个时间点上两端评分类目的分值（0-100）。
type scorePoint struct {
	date    time.Time
	mobile  map[string]float64
	desktop map[string]float64
}

// resourcePoint 是一个时间点上的资源巡检指标。
type resourcePoint struct {
	date       time.Time
	loadTime   float64
	cssKB      float64
	jsKB       float64
	mediaKB    float64
	totalKB    float64
	cssCount   float64
	jsCount    float64
	mediaCount float64
}

// ChartService 把快照与月度汇总整理成前端可直接绘制的序列。
// year 区间读月度汇总，其余区间读按日快照；同日多条记录只取首条。
type ChartService struct {
	store *SnapshotService
}

// NewChartService 构造 ChartService
func NewChartService(store *SnapshotService) *ChartService {
	return &ChartService{store: store}
}

// BuildChartData 生成指定类型与区间的图表数据。
// 区间内没有任何数据点时返回 ErrInsufficientData。
func (s *ChartService) BuildChartData(chartType, duration string, now time.Time, startDate, endDate string) (*ChartData, error) {
	start, end, err := RangeBounds(duration, now, startDate, endDate)
	if err != nil {
		return nil, err
	}

	switch chartType {
	case ChartLighthouseScores:
		return s.buildScoreChart(duration, start, end, []string{"accessibility", "best-practices", "seo"})
	case ChartPerformanceScore:
		return s.buildScoreChart(duration, start, end, []string{"performance"})
	case ChartLoadtimeInsights, ChartAssetSize, ChartAssetCount:
		return s.buildResourceChart(chartType, duration, start, end)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownChartType, chartType)
	}
}

func (s *ChartService) buildScoreChart(duration string, start, end time.Time, categories []string) (*ChartData, error) {
	points, err := s.collectScorePoints(duration, start, end)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, ErrInsufficientData
	}

	chart := &ChartData{XAxisTitle: xAxisTitle(duration, start)}

	datasets := make([]ChartDataset, 0, len(categories)*2)
	for _, device := range []string{"Mobile", "Desktop"} {
		for _, category := range categories {
			datasets = append(datasets, ChartDataset{
				Label: device + " " + categoryLabel(category),
				Data:  make([]float64, 0, len(points)),
			})
		}
	}

	for _, point := range points {
		chart.Labels = append(chart.Labels, axisLabel(duration, point.date))
		i := 0
		for _, scores := range []map[string]float64{point.mobile, point.desktop} {
			for _, category := range categories {
				datasets[i].Data = append(datasets[i].Data, scores[category])
				i++
			}
		}
	}

	chart.Datasets = datasets
	return chart, nil
}

func (s *ChartService) buildResourceChart(chartType, duration string, start, end time.Time) (*ChartData, error) {
	points, err := s.collectResourcePoints(duration, start, end)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, ErrInsufficientData
	}

	chart := &ChartData{XAxisTitle: xAxisTitle(duration, start)}
	for _, point := range points {
		chart.Labels = append(chart.Labels, axisLabel(duration, point.date))
	}

	switch chartType {
	case ChartLoadtimeInsights:
		data := make([]float64, 0, len(points))
		for _, point := range points {
			data = append(data, point.loadTime)
		}
		chart.Datasets = []ChartDataset{{Label: "Load Time (s)", Data: data}}
	case ChartAssetSize:
		chart.Datasets = []ChartDataset{
			{Label: "CSS (KB)"}, {Label: "JS (KB)"}, {Label: "Media (KB)"}, {Label: "Total (KB)"},
		}
		for _, point := range points {
			chart.Datasets[0].Data = append(chart.Datasets[0].Data, point.cssKB)
			chart.Datasets[1].Data = append(chart.Datasets[1].Data, point.jsKB)
			chart.Datasets[2].Data = append(chart.Datasets[2].Data, point.mediaKB)
			chart.Datasets[3].Data = append(chart.Datasets[3].Data, point.totalKB)
		}
	case ChartAssetCount:
		chart.Datasets = []ChartDataset{
			{Label: "CSS"}, {Label: "JS"}, {Label: "Media"},
		}
		for _, point := range points {
			chart.Datasets[0].Data = append(chart.Datasets[0].Data, point.cssCount)
			chart.Datasets[1].Data = append(chart.Datasets[1].Data, point.jsCount)
			chart.Datasets[2].Data = append(chart.Datasets[2].Data, point.mediaCount)
		}
	}

	return chart, nil
}

// collectScorePoints 采集评分序列，year 读月度汇总，其余读按日测速快照。
func (s *ChartService) collectScorePoints(duration string, start, end time.Time) ([]scorePoint, error) {
	if duration == DurationYear {
		rows, err := s.store.MonthlyRange(start, end)
		if err != nil {
			return nil, err
		}

		points := make([]scorePoint, 0, len(rows))
		for _, row := range rows {
			var payload MonthlyAggregatePayload
			if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
				continue
			}
			points = append(points, scorePoint{
				date:    row.MonthOfDate,
				mobile:  scaleScores(payload.MobileData.Categories),
				desktop: scaleScores(payload.DesktopData.Categories),
			})
		}
		return points, nil
	}

	rows, err := s.store.QueryRange(db.MetricSpeedReport, start, end)
	if err != nil {
		return nil, err
	}

	points := make([]scorePoint, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		day := row.CapturedOn.Format("2006-01-02")
		if seen[day] {
			continue
		}
		seen[day] = true

		var payload SpeedReportPayload
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
			continue
		}
		points = append(points, scorePoint{
			date:    row.CapturedOn,
			mobile:  categoryScores(payload.MobileData),
			desktop: categoryScores(payload.DesktopData),
		})
	}
	return points, nil
}

// collectResourcePoints 采集资源指标序列，体积统一换算为 KB。
func (s *ChartService) collectResourcePoints(duration string, start, end time.Time) ([]resourcePoint, error) {
	if duration == DurationYear {
		rows, err := s.store.MonthlyRange(start, end)
		if err != nil {
			return nil, err
		}

		points := make([]resourcePoint, 0, len(rows))
		for _, row := range rows {
			var payload MonthlyAggregatePayload
			if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
				continue
			}
			res := payload.ResourceData
			points = append(points, resourcePoint{
				date:       row.MonthOfDate,
				loadTime:   res.LoadTime,
				cssKB:      toKB(parseAssetSize(res.CSSTotalSize)),
				jsKB:       toKB(parseAssetSize(res.JSTotalSize)),
				mediaKB:    toKB(parseAssetSize(res.MediaTotalSize)),
				totalKB:    toKB(parseAssetSize(res.TotalSize)),
				cssCount:   res.CSS,
				jsCount:    res.JS,
				mediaCount: res.Media,
			})
		}
		return points, nil
	}

	rows, err := s.store.QueryRange(db.MetricResourceSnapshot, start, end)
	if err != nil {
		return nil, err
	}

	points := make([]resourcePoint, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		day := row.CapturedOn.Format("2006-01-02")
		if seen[day] {
			continue
		}
		seen[day] = true

		var payload ResourcePayload
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
			continue
		}
		points = append(points, resourcePoint{
			date:       row.CapturedOn,
			loadTime:   payload.LoadTime,
			cssKB:      toKB(parseAssetSize(payload.CSSTotalSize)),
			jsKB:       toKB(parseAssetSize(payload.JSTotalSize)),
			mediaKB:    toKB(parseAssetSize(payload.MediaTotalSize)),
			totalKB:    toKB(parseAssetSize(payload.TotalSize)),
			cssCount:   float64(payload.CSSCount),
			jsCount:    float64(payload.JSCount),
			mediaCount: float64(payload.MediaCount),
		})
	}
	return points, nil
}

// categoryScores 提取按日测速快照中四个类目的分值并换算为 0-100。
func categoryScores(device DeviceReport) map[string]float64 {
	scores := make(map[string]float64, len(aggregateCategories))
	for _, key := range aggregateCategories {
		if category, ok := device.Categories[key]; ok && category.Score != nil {
			scores[key] = round2(*category.Score * 100)
		}
	}
	return scores
}

// scaleScores 把月度汇总中 0-1 口径的类目均分换算为 0-100。
func scaleScores(categories map[string]float64) map[string]float64 {
	scores := make(map[string]float64, len(categories))
	for key, value := range categories {
		scores[key] = round2(value * 100)
	}
	return scores
}

func categoryLabel(key string) string {
	switch key {
	case "performance":
		return "Performance"
	case "accessibility":
		return "Accessibility"
	case "best-practices":
		return "Best Practices"
	case "seo":
		return "SEO"
	}
	return key
}

// axisLabel 按区间粒度生成横轴标签。
func axisLabel(duration string, date time.Time) string {
	switch duration {
	case DurationWeek:
		return date.Format("Mon")
	case DurationMonth:
		return date.Format("2")
	case DurationYear:
		return date.Format("Jan-2006")
	default:
		return date.Format("02-01-2006")
	}
}

// xAxisTitle 按区间生成横轴标题。
func xAxisTitle(duration string, start time.Time) string {
	switch duration {
	case DurationWeek:
		_, week := start.ISOWeek()
		return fmt.Sprintf("Week %d, %d", week, start.Year())
	case DurationMonth:
		return start.Format("Jan-2006")
	case DurationYear:
		return fmt.Sprintf("Year %d", start.Year())
	default:
		return "Date"
	}
}

func toKB(size int64) float64 {
	return round2(float64(size) / 1024)
}
