package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sitepulse/internal/db"
	"github.com/sitepulse/internal/service"
)

// InspectResource 对指定页面做一次即席资源巡检，不写入按日历史。
func (a *API) InspectResource(c *gin.Context) {
	pageURL := c.DefaultQuery("url", a.siteURL)
	title := c.DefaultQuery("title", a.siteName)

	payload, err := a.inspector.Inspect(c.Request.Context(), pageURL, title)
	if err != nil {
		respondError(c, http.StatusBadGateway, "failed to inspect page")
		return
	}

	respondData(c, payload)
}

// GetLatestResource 返回最近一次资源巡检结果。
// cached=true 时读首页单槽缓存，否则读按日历史的最新快照。
func (a *API) GetLatestResource(c *gin.Context) {
	if c.Query("cached") == "true" {
		var payload service.ResourcePayload
		if err := a.store.GetSlot(db.SlotResourceSnapshot, &payload); err != nil {
			if errors.Is(err, service.ErrSlotNotFound) {
				respondError(c, http.StatusNotFound, "no resource snapshot recorded yet")
				return
			}
			respondError(c, http.StatusInternalServerError, "failed to load resource snapshot")
			return
		}
		respondData(c, payload)
		return
	}

	record, err := a.store.ReadLatest(db.MetricResourceSnapshot)
	if err != nil {
		if errors.Is(err, service.ErrSnapshotNotFound) {
			respondError(c, http.StatusNotFound, "no resource snapshot recorded yet")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to load resource snapshot")
		return
	}

	respondData(c, json.RawMessage(record.Payload))
}
