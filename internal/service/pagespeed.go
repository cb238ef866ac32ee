package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sitepulse/internal/db"
	"github.com/yuin/goldmark"
)

const speedReportTimeout = 300 * time.Second

// ErrReportUnavailable 表示测速接口的移动端或桌面端请求失败，本次不产出部分报告。
var ErrReportUnavailable = errors.New("speed report unavailable")

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AuditRef 是性能类目下保留的审计引用。
type AuditRef struct {
	ID      string  `json:"id"`
	Weight  float64 `json:"weight"`
	Group   string  `json:"group,omitempty"`
	Acronym string  `json:"acronym,omitempty"`
}

// CategorySummary 是单个评分类目的精简结果，score 取值 0-1。
type CategorySummary struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Score             *float64   `json:"score"`
	Description       string     `json:"description,omitempty"`
	ManualDescription string     `json:"manualDescription,omitempty"`
	AuditRefs         []AuditRef `json:"auditRefs,omitempty"`
}

// AuditSummary 是单条审计的精简结果。
// Type 来自固定的诊断项分类表，供界面按核心指标筛选。
type AuditSummary struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Score            *float64 `json:"score"`
	ScoreDisplayMode string   `json:"scoreDisplayMode,omitempty"`
	DisplayValue     string   `json:"displayValue,omitempty"`
	Type             []string `json:"type,omitempty"`
}

// DeviceReport 是单个设备档位（mobile/desktop）的精简报告。
type DeviceReport struct {
	Categories map[string]CategorySummary `json:"categories"`
	Audits     map[string]AuditSummary    `json:"audits"`
}

// SpeedReportPayload 汇总两个设备档位的精简报告。
type SpeedReportPayload struct {
	MobileData  DeviceReport `json:"mobile_data"`
	DesktopData DeviceReport `json:"desktop_data"`
}

// 五个核心指标的缩写，性能类目下只保留这些审计引用及诊断组。
var coreAuditAcronyms = []string{"FCP", "LCP", "TBT", "CLS", "SI"}

// diagnosticTypeTags 将已知诊断审计映射到相关核心指标。
// 这是固定的分类表，不由接口响应推导；进程启动时构造一次，只读使用。
var diagnosticTypeTags = map[string][]string{
	"font-display":                     {"FCP", "LCP"},
	"critical-request-chains":          {"FCP", "LCP"},
	"largest-contentful-paint-element": {"LCP"},
	"layout-shift-elements":            {"CLS"},
	"long-tasks":                       {"TBT"},
	"render-blocking-resources":        {"FCP", "LCP"},
	"unused-css-rules":                 {"FCP", "LCP"},
	"unminified-css":                   {"FCP", "LCP"},
	"unminified-javascript":            {"FCP", "LCP"},
	"unused-javascript":                {"LCP"},
	"uses-text-compression":            {"FCP", "LCP"},
	"uses-rel-preconnect":              {"FCP", "LCP"},
	"server-response-time":             {"FCP", "LCP"},
	"redirects":                        {"FCP", "LCP"},
	"uses-rel-preload":                 {"FCP", "LCP"},
	"efficient-animated-content":       {"LCP"},
	"duplicated-javascript":            {"TBT"},
	"legacy-javascript":                {"TBT"},
	"total-byte-weight":                {"LCP"},
	"dom-size":                         {"TBT"},
	"bootup-time":                      {"TBT"},
	"mainthread-work-breakdown":        {"TBT"},
	"third-party-summary":              {"TBT"},
	"third-party-facades":              {"TBT"},
	"non-composited-animations":        {"CLS"},
	"unsized-images":                   {"CLS"},
	"viewport":                         {"TBT"},
}

// descriptionPolicy 清洗审计描述里渲染出的 HTML，只放行链接与基础行内元素，
// 并为外链自动补 target/rel。
var descriptionPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowAttrs("href").OnElements("a")
	p.AllowElements("code", "em", "strong")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}()

type rawAuditRef struct {
	ID      string  `json:"id"`
	Weight  float64 `json:"weight"`
	Group   string  `json:"group"`
	Acronym string  `json:"acronym"`
}

type rawCategory struct {
	ID                string        `json:"id"`
	Title             string        `json:"title"`
	Score             *float64      `json:"score"`
	Description       string        `json:"description"`
	ManualDescription string        `json:"manualDescription"`
	AuditRefs         []rawAuditRef `json:"auditRefs"`
}

type rawAudit struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	Score            *float64    `json:"score"`
	ScoreDisplayMode string      `json:"scoreDisplayMode"`
	DisplayValue     interface{} `json:"displayValue"`
}

type rawPagespeedResponse struct {
	LighthouseResult struct {
		Categories map[string]rawCategory `json:"categories"`
		Audits     map[string]rawAudit    `json:"audits"`
	} `json:"lighthouseResult"`
}

// SpeedReportService 调用外部测速接口并把嵌套报告裁剪为稳定的内部结构。
type SpeedReportService struct {
	store   *SnapshotService
	http    httpDoer
	apiBase string
	apiKey  string
	siteURL string
}

// NewSpeedReportService 构造 SpeedReportService。
func NewSpeedReportService(store *SnapshotService, apiBase, apiKey, siteURL string) *SpeedReportService {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		base = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"
	}

	return &SpeedReportService{
		store:   store,
		http:    &http.Client{Timeout: speedReportTimeout},
		apiBase: strings.TrimRight(base, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		siteURL: strings.TrimSpace(siteURL),
	}
}

// SetHTTPClient 替换用于访问测速接口的 HTTP 客户端，主要面向测试场景。
func (s *SpeedReportService) SetHTTPClient(client httpDoer) {
	if client == nil {
		s.http = &http.Client{Timeout: speedReportTimeout}
		return
	}
	s.http = client
}

// reportTarget 返回提交给测速接口的页面地址。
// 本地开发地址外部接口无法回源，替换为固定的公网页面；
// 此时报告反映的是替代页面而非真实站点，调用方不可混淆两者。
func (s *SpeedReportService) reportTarget() string {
	if strings.Contains(s.siteURL, "localhost") || strings.Contains(s.siteURL, "127.0.0.1") {
		return "https://developers.google.com"
	}
	return s.siteURL
}

func (s *SpeedReportService) buildQuery(strategy string) string {
	values := url.Values{}
	values.Set("url", s.reportTarget())
	if s.apiKey != "" {
		values.Set("key", s.apiKey)
	}
	for _, category := range []string{"ACCESSIBILITY", "BEST_PRACTICES", "PERFORMANCE", "PWA", "SEO"} {
		values.Add("category", category)
	}
	values.Set("strategy", strategy)

	return s.apiBase + "?" + values.Encode()
}

// FetchReport 先后请求移动端与桌面端报告，任一传输失败则整体失败，不产出部分报告。
// 成功时同步覆盖单槽缓存中的最近报告。
func (s *SpeedReportService) FetchReport(ctx context.Context) (*SpeedReportPayload, error) {
	mobileBody, mobileErr := s.fetch(ctx, s.buildQuery("MOBILE"))
	desktopBody, desktopErr := s.fetch(ctx, s.buildQuery("DESKTOP"))

	if mobileErr != nil {
		return nil, fmt.Errorf("%w: mobile: %v", ErrReportUnavailable, mobileErr)
	}
	if desktopErr != nil {
		return nil, fmt.Errorf("%w: desktop: %v", ErrReportUnavailable, desktopErr)
	}

	mobile, err := reduceReport(mobileBody)
	if err != nil {
		return nil, fmt.Errorf("reduce mobile report: %w", err)
	}
	desktop, err := reduceReport(desktopBody)
	if err != nil {
		return nil, fmt.Errorf("reduce desktop report: %w", err)
	}

	payload := &SpeedReportPayload{MobileData: mobile, DesktopData: desktop}

	if s.store != nil {
		if err := s.store.SetSlot(db.SlotSpeedReport, payload); err != nil {
			return payload, fmt.Errorf("cache speed report: %w", err)
		}
	}

	return payload, nil
}

func (s *SpeedReportService) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("speed api status %s", resp.Status)
	}

	return body, nil
}

// reduceReport 裁剪原始报告：类目全部保留精简字段，
// 审计只保留五个核心指标引用及诊断组覆盖的条目，其余键丢弃。
// 缺失字段取零值，下游汇总不会因缺键崩溃。
func reduceReport(body []byte) (DeviceReport, error) {
	var raw rawPagespeedResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return DeviceReport{}, err
	}

	report := DeviceReport{
		Categories: make(map[string]CategorySummary, len(raw.LighthouseResult.Categories)),
		Audits:     make(map[string]AuditSummary),
	}

	kept := make(map[string]bool)

	for key, category := range raw.LighthouseResult.Categories {
		summary := CategorySummary{
			ID:                category.ID,
			Title:             category.Title,
			Score:             category.Score,
			Description:       category.Description,
			ManualDescription: category.ManualDescription,
		}

		if key == "performance" {
			for _, ref := range category.AuditRefs {
				if containsString(coreAuditAcronyms, ref.Acronym) {
					summary.AuditRefs = append(summary.AuditRefs, AuditRef{
						ID:      ref.ID,
						Weight:  ref.Weight,
						Group:   ref.Group,
						Acronym: ref.Acronym,
					})
					kept[ref.ID] = true
				}

				if ref.Group == "diagnostics" {
					kept[ref.ID] = true
				}
			}
		}

		report.Categories[key] = summary
	}

	for id, audit := range raw.LighthouseResult.Audits {
		if !kept[id] {
			continue
		}

		report.Audits[id] = AuditSummary{
			ID:               audit.ID,
			Title:            audit.Title,
			Description:      renderAuditDescription(audit.Description),
			Score:            audit.Score,
			ScoreDisplayMode: audit.ScoreDisplayMode,
			DisplayValue:     displayValueString(audit.DisplayValue),
			Type:             diagnosticTypeTags[id],
		}
	}

	return report, nil
}

// renderAuditDescription 把审计描述中的 Markdown（含 [text](url) 链接）渲染为 HTML 并清洗。
func renderAuditDescription(description string) string {
	if strings.TrimSpace(description) == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := goldmark.New().Convert([]byte(description), &buf); err != nil {
		return description
	}

	html := strings.TrimSpace(buf.String())
	html = strings.TrimPrefix(html, "<p>")
	html = strings.TrimSuffix(html, "</p>")

	return descriptionPolicy.Sanitize(html)
}

func displayValueString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
