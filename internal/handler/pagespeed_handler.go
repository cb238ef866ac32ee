package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sitepulse/internal/db"
	"github.com/sitepulse/internal/service"
)

// GetSpeedReport 返回测速报告。
// 默认读最近一次缓存；fresh=true 时实时调用测速接口并写入当日快照。
func (a *API) GetSpeedReport(c *gin.Context) {
	if c.Query("fresh") == "true" {
		report, err := a.speed.FetchReport(c.Request.Context())
		if err != nil {
			if errors.Is(err, service.ErrReportUnavailable) {
				respondError(c, http.StatusBadGateway, "speed report unavailable")
				return
			}
			respondError(c, http.StatusInternalServerError, "failed to fetch speed report")
			return
		}

		if _, err := a.store.UpsertDay(db.MetricSpeedReport, a.nowFn(), report); err != nil {
			respondError(c, http.StatusInternalServerError, "failed to store speed report")
			return
		}

		respondData(c, report)
		return
	}

	var payload service.SpeedReportPayload
	if err := a.store.GetSlot(db.SlotSpeedReport, &payload); err != nil {
		if errors.Is(err, service.ErrSlotNotFound) {
			respondError(c, http.StatusNotFound, "no speed report recorded yet")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to load speed report")
		return
	}

	respondData(c, payload)
}
