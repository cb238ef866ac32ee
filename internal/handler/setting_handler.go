package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sitepulse/internal/service"
)

// GetSettings 返回当前调度配置。
func (a *API) GetSettings(c *gin.Context) {
	settings, err := a.settings.Get()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load settings")
		return
	}
	respondData(c, settings)
}

// UpdateSettings 更新调度配置并触发一次排程对账。
// 请求体允许只带部分字段，未提交的字段沿用当前值。
func (a *API) UpdateSettings(c *gin.Context) {
	current, err := a.settings.Get()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load settings")
		return
	}

	input := current
	if !bindJSON(c, &input, "invalid settings payload") {
		return
	}

	cleaned, err := a.settings.Update(input)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSchedule) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to save settings")
		return
	}

	if _, err := a.scheduler.Reconcile(); err != nil {
		log.Printf("reconcile after settings update: %v", err)
	}

	respondData(c, cleaned)
}
