// Package response 统一的 JSON 响应输出
package response

import (
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/livepost/pkg/logger"
)

// ErrorBody 错误响应体
type ErrorBody struct {
	Error string `json:"error"`
}

// DeleteResult 删除成功响应体
type DeleteResult struct {
	Success bool  `json:"success"`
	ID      int64 `json:"id"`
}

// Success 200 + data
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Error 指定状态码 + {"error": msg}
func Error(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: msg})
}

func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }

func NotFound(c *gin.Context, msg string) { Error(c, http.StatusNotFound, msg) }

func TooManyRequests(c *gin.Context) { Error(c, http.StatusTooManyRequests, "Too many requests") }

// InternalError 记录原始错误并上报 Sentry，对外只返回 msg
func InternalError(c *gin.Context, err error, msg string) {
	logger.Error(msg,
		zap.Error(err),
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
	)
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
	}
	_ = c.Error(err)
	Error(c, http.StatusInternalServerError, msg)
}
