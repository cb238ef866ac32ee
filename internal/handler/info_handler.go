package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sitepulse/internal/db"
	"github.com/sitepulse/internal/service"
)

// GetSystemInfo 返回监控进程运行信息、调度状态与最近一次站点缓存信息。
func (a *API) GetSystemInfo(c *gin.Context) {
	data := gin.H{
		"system": a.sysinfo.Info(),
		"cron":   a.scheduler.Status(),
	}

	var cache service.CacheInfoPayload
	if err := a.store.GetSlot(db.SlotCacheInfo, &cache); err == nil {
		data["cache"] = cache
	}

	respondData(c, data)
}

// GetLatestInfo 按类型返回对应指标最近一次落库的快照。
func (a *API) GetLatestInfo(c *gin.Context) {
	var metricKey string
	switch c.Query("type") {
	case "resource":
		metricKey = db.MetricResourceSnapshot
	case "speed":
		metricKey = db.MetricSpeedReport
	case "components":
		metricKey = db.MetricInstalledComponents
	case "cache":
		metricKey = db.MetricCacheInfo
	default:
		respondError(c, http.StatusBadRequest, "unknown info type")
		return
	}

	record, err := a.store.ReadLatest(metricKey)
	if err != nil {
		if errors.Is(err, service.ErrSnapshotNotFound) {
			respondError(c, http.StatusNotFound, "no snapshot recorded yet")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to load snapshot")
		return
	}

	respondData(c, gin.H{
		"captured_on": record.CapturedOn.Format("2006-01-02"),
		"data":        json.RawMessage(record.Payload),
	})
}

// RunCollectionNow 立即触发一轮采集。采集链路含多次外呼耗时较长，异步执行。
func (a *API) RunCollectionNow(c *gin.Context) {
	go a.scheduler.RunCollection(context.Background())
	respondMessage(c, http.StatusAccepted, "collection run started")
}
