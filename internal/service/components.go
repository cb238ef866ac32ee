package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sitepulse/internal/db"
)

// Component 是从页面资源路径中识别出的一个站点组件（插件或主题）。
type Component struct {
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	Version string `json:"version,omitempty"`
	Source  string `json:"source"`
	Active  bool   `json:"active"`
}

// ComponentsPayload 是一次组件清点的完整结果。
type ComponentsPayload struct {
	Components []Component `json:"components"`
	Total      int         `json:"total"`
}

// registryEntry 是注册表查询结果的当日缓存条目。
type registryEntry struct {
	Name      string `json:"name"`
	FetchedOn string `json:"fetched_on"`
}

// ComponentService 从最近一次首页巡检的资源 URL 中识别站点组件，
// 并通过公共插件注册表接口把 slug 解析为显示名。
// 注册表查询按自然日缓存，同一天内不重复外呼。
type ComponentService struct {
	store        *SnapshotService
	client       httpDoer
	registryBase string
	nowFn        func() time.Time
}

// NewComponentService 构造 ComponentService。
func NewComponentService(store *SnapshotService, registryBase string) *ComponentService {
	base := strings.TrimSpace(registryBase)
	if base == "" {
		base = "https://api.wordpress.org/plugins/info/1.2/"
	}

	return &ComponentService{
		store:        store,
		client:       &http.Client{Timeout: pageFetchTimeout},
		registryBase: base,
		nowFn:        time.Now,
	}
}

// SetHTTPClient 替换注册表查询所用的 HTTP 客户端，主要面向测试场景。
func (c *ComponentService) SetHTTPClient(client httpDoer) {
	if client == nil {
		c.client = &http.Client{Timeout: pageFetchTimeout}
		return
	}
	c.client = client
}

// WithNowFn 注入时钟，便于测试控制当日缓存的过期。
func (c *ComponentService) WithNowFn(nowFn func() time.Time) *ComponentService {
	if nowFn != nil {
		c.nowFn = nowFn
	}
	return c
}

// Collect 基于缓存中的首页资源快照清点组件。
// 首页尚未巡检过时返回空清单而非错误，调度首步不应阻断后续采集。
func (c *ComponentService) Collect(ctx context.Context) (*ComponentsPayload, error) {
	var snapshot ResourcePayload
	if err := c.store.GetSlot(db.SlotResourceSnapshot, &snapshot); err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return &ComponentsPayload{Components: []Component{}}, nil
		}
		return nil, fmt.Errorf("load cached root snapshot: %w", err)
	}

	detected := detectComponents(&snapshot)

	for i := range detected {
		if detected[i].Source != "plugin" {
			continue
		}
		if name, err := c.resolveName(ctx, detected[i].Slug); err == nil && name != "" {
			detected[i].Name = name
		}
	}

	payload := &ComponentsPayload{Components: detected, Total: len(detected)}

	if err := c.store.SetSlot(db.SlotComponents, payload); err != nil {
		return payload, fmt.Errorf("cache components: %w", err)
	}

	return payload, nil
}

// detectComponents 扫描资源 URL 中的 /wp-content/plugins/<slug>/ 与
// /wp-content/themes/<slug>/ 路径段。页面正在引用其资源即视为启用中。
func detectComponents(snapshot *ResourcePayload) []Component {
	found := make(map[string]*Component)
	order := make([]string, 0)

	scan := func(entries []AssetEntry) {
		for _, entry := range entries {
			slug, source := componentSlug(entry.URL)
			if slug == "" {
				continue
			}

			key := source + "/" + slug
			if existing, ok := found[key]; ok {
				if existing.Version == "" && entry.Version != "None" {
					existing.Version = entry.Version
				}
				continue
			}

			version := entry.Version
			if version == "None" {
				version = ""
			}

			order = append(order, key)
			found[key] = &Component{
				Name:    titleFromSlug(slug),
				Slug:    slug,
				Version: version,
				Source:  source,
				Active:  true,
			}
		}
	}

	scan(snapshot.CSSSizes)
	scan(snapshot.JSSizes)
	scan(snapshot.MediaSizes)

	sort.Strings(order)
	components := make([]Component, 0, len(order))
	for _, key := range order {
		components = append(components, *found[key])
	}
	return components
}

// componentSlug 从资源 URL 中提取组件 slug 与来源类型。
func componentSlug(raw string) (slug, source string) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := 0; i+2 < len(segments); i++ {
		if segments[i] != "wp-content" {
			continue
		}
		switch segments[i+1] {
		case "plugins":
			return segments[i+2], "plugin"
		case "themes":
			return segments[i+2], "theme"
		}
	}
	return "", ""
}

// resolveName 通过注册表接口把 slug 解析为显示名，结果按自然日缓存。
func (c *ComponentService) resolveName(ctx context.Context, slug string) (string, error) {
	today := c.nowFn().Format("2006-01-02")
	slotKey := db.SlotRegistryPrefix + slug

	var cached registryEntry
	if err := c.store.GetSlot(slotKey, &cached); err == nil && cached.FetchedOn == today {
		return cached.Name, nil
	}

	endpoint := c.registryBase + "?" + url.Values{
		"action":        []string{"plugin_information"},
		"request[slug]": []string{slug},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("registry status %s", resp.Status)
	}

	var info struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", err
	}
	if info.Name == "" {
		return "", nil
	}

	if err := c.store.SetSlot(slotKey, registryEntry{Name: info.Name, FetchedOn: today}); err != nil {
		return info.Name, err
	}

	return info.Name, nil
}

// titleFromSlug 在注册表无结果时给出可读的回退名称。
func titleFromSlug(slug string) string {
	words := strings.Split(slug, "-")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
