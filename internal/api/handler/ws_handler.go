package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/livepost/pkg/logger"
)

// Subscribe 升级为 websocket，推送 postCreated / postUpdated / postDeleted
// @Summary 订阅变更事件
// @Tags events
// @Success 101 "Switching Protocols"
// @Router /ws [get]
func (h *Handler) Subscribe(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回错误响应
		logger.Warn("websocket upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}
	h.hub.Serve(conn)
}

// Health 存活检查
// @Summary 健康检查
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /healthz [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": h.hub.ClientCount()})
}
