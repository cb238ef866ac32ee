package service

import (
	"context"
	"io"
	"math"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sitepulse/internal/db"
)

// CacheInfoPayload 记录被监控站点的缓存响应特征与本进程的内存水位。
// 远程监控无法读取站点进程内部状态，缓存情况由响应头推断。
type CacheInfoPayload struct {
	Server             string  `json:"server"`
	CacheControl       string  `json:"cache_control"`
	Expires            string  `json:"expires"`
	XCache             string  `json:"x_cache"`
	Age                string  `json:"age"`
	CacheDetected      bool    `json:"cache_detected"`
	ServerResponseTime float64 `json:"server_response_time"`
	PeakMemory         string  `json:"peak_memory"`
	CurrentMemory      string  `json:"current_memory"`
}

// SystemInfo 是 system_info 接口返回的运行环境信息。
type SystemInfo struct {
	SiteURL       string `json:"site_url"`
	SiteName      string `json:"site_name"`
	GoVersion     string `json:"go_version"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	NumGoroutine  int    `json:"num_goroutine"`
	CurrentMemory string `json:"current_memory"`
	PeakMemory    string `json:"peak_memory"`
}

// SystemInfoService 采集站点缓存信息与监控进程自身的运行信息。
type SystemInfoService struct {
	store    *SnapshotService
	client   httpDoer
	siteURL  string
	siteName string
}

// NewSystemInfoService 构造 SystemInfoService。
func NewSystemInfoService(store *SnapshotService, siteURL, siteName string) *SystemInfoService {
	return &SystemInfoService{
		store:    store,
		client:   &http.Client{Timeout: pageFetchTimeout},
		siteURL:  siteURL,
		siteName: siteName,
	}
}

// SetHTTPClient 替换探测所用的 HTTP 客户端，主要面向测试场景。
func (s *SystemInfoService) SetHTTPClient(client httpDoer) {
	if client == nil {
		s.client = &http.Client{Timeout: pageFetchTimeout}
		return
	}
	s.client = client
}

// CollectCacheInfo 向站点首页发起一次请求，从响应头推断缓存配置并记录响应耗时。
// 成功时同步覆盖单槽缓存。
func (s *SystemInfoService) CollectCacheInfo(ctx context.Context) (*CacheInfoPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.siteURL, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// 读完响应体后再计时，耗时覆盖完整传输过程
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxResourceBody)); err != nil {
		return nil, err
	}
	elapsed := math.Round(time.Since(start).Seconds()*100) / 100

	payload := &CacheInfoPayload{
		Server:             resp.Header.Get("Server"),
		CacheControl:       resp.Header.Get("Cache-Control"),
		Expires:            resp.Header.Get("Expires"),
		XCache:             resp.Header.Get("X-Cache"),
		Age:                resp.Header.Get("Age"),
		ServerResponseTime: elapsed,
	}
	payload.CacheDetected = detectCacheHit(payload)

	current, peak := memoryFigures()
	payload.CurrentMemory = current
	payload.PeakMemory = peak

	if s.store != nil {
		if err := s.store.SetSlot(db.SlotCacheInfo, payload); err != nil {
			return payload, err
		}
	}

	return payload, nil
}

// Info 返回监控进程的运行环境概览。
func (s *SystemInfoService) Info() SystemInfo {
	current, peak := memoryFigures()
	return SystemInfo{
		SiteURL:       s.siteURL,
		SiteName:      s.siteName,
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		NumGoroutine:  runtime.NumGoroutine(),
		CurrentMemory: current,
		PeakMemory:    peak,
	}
}

// detectCacheHit 依据响应头判断上游是否命中了页面缓存。
// Age 大于零或 X-Cache 带值即认为存在缓存层。
func detectCacheHit(payload *CacheInfoPayload) bool {
	if payload.XCache != "" {
		return true
	}
	if age, err := strconv.Atoi(payload.Age); err == nil && age > 0 {
		return true
	}
	return false
}

func memoryFigures() (current, peak string) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return humanize.Bytes(stats.Alloc), humanize.Bytes(stats.Sys)
}
