package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sitepulse/internal/service"
)

// 区间内无数据时对外的固定文案。
const msgNotEnoughData = "Not enough data to analyse the performance."

// GetChartData 返回指定类型与区间的图表数据。
// 无数据不是请求错误，按约定返回 200 且 success=false。
func (a *API) GetChartData(c *gin.Context) {
	chartType := c.DefaultQuery("type", service.ChartPerformanceScore)
	duration := c.DefaultQuery("duration", service.DurationWeek)

	chart, err := a.charts.BuildChartData(chartType, duration, a.nowFn(), c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientData):
			respondError(c, http.StatusOK, msgNotEnoughData)
		case errors.Is(err, service.ErrInvalidDuration), errors.Is(err, service.ErrUnknownChartType):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "failed to build chart data")
		}
		return
	}

	respondData(c, chart)
}
