package broadcast

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/d60-Lab/livepost/pkg/logger"
)

// Hub 本进程内的 websocket 客户端集合，单 goroutine 持有状态
type Hub struct {
	register     chan *Client
	unregister   chan *Client
	events       chan Event
	done         chan struct{}
	clientBuffer int

	clients map[*Client]struct{}
	count   atomic.Int64
}

func NewHub(queueSize, clientBuffer int) *Hub {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if clientBuffer <= 0 {
		clientBuffer = 256
	}
	return &Hub{
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		events:       make(chan Event, queueSize),
		done:         make(chan struct{}),
		clientBuffer: clientBuffer,
		clients:      make(map[*Client]struct{}),
	}
}

// Run 处理注册、注销与事件扇出，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			connectedClients.Inc()
			// 新建的发送队列必有空位，subscribed 总是第一帧
			c.send <- h.subscribedFrame(c)
			logger.Info("client connected", zap.String("id", c.ID), zap.String("remote", c.remote))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				logger.Info("client disconnected", zap.String("id", c.ID))
			}
		case e := <-h.events:
			h.fanout(e)
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return
		}
	}
}

// Broadcast 非阻塞入队；队列满时丢弃（尽力而为，至多一次）
func (h *Hub) Broadcast(e Event) {
	select {
	case h.events <- e:
	default:
		eventsDropped.WithLabelValues("hub_queue_full").Inc()
		logger.Warn("hub queue full, drop event", zap.String("event", e.Name))
	}
}

// Serve 注册连接并阻塞到连接断开
func (h *Hub) Serve(conn *websocket.Conn) {
	c := &Client{
		ID:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.clientBuffer),
		remote: conn.RemoteAddr().String(),
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	c.readPump()
}

// ClientCount 当前连接数（采样值）
func (h *Hub) ClientCount() int { return int(h.count.Load()) }

func (h *Hub) fanout(e Event) {
	frame, err := json.Marshal(e)
	if err != nil {
		eventsDropped.WithLabelValues("encode").Inc()
		logger.Error("encode event", zap.String("event", e.Name), zap.Error(err))
		return
	}
	eventsBroadcast.WithLabelValues(e.Name).Inc()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			// 发送队列已满的客户端直接断开
			eventsDropped.WithLabelValues("slow_client").Inc()
			logger.Warn("client send queue full, disconnecting", zap.String("id", c.ID))
			h.remove(c)
		}
	}
}

func (h *Hub) subscribedFrame(c *Client) []byte {
	// string always marshals
	frame, _ := json.Marshal(newEvent(Subscribed, c.ID))
	return frame
}

func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
	connectedClients.Dec()
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
