package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/d60-Lab/livepost/internal/broadcast"
	"github.com/d60-Lab/livepost/internal/service"
)

// Handler 聚合 HTTP 处理所需的依赖
type Handler struct {
	postService service.PostService
	hub         *broadcast.Hub
	upgrader    websocket.Upgrader
}

// NewHandler allowedOrigin 为 "*" 时接受任意来源的 websocket 连接
func NewHandler(postService service.PostService, hub *broadcast.Hub, allowedOrigin string) *Handler {
	return &Handler{
		postService: postService,
		hub:         hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}
