package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/livepost/pkg/logger"
)

// RedisRelay 多进程部署时的事件中转：本进程的事件先 PUBLISH 到 redis，
// 订阅端收到后交给本地 Hub，因此每个进程的客户端都能收到所有进程产生的事件。
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   Broadcaster
	queue   chan Event
}

func NewRedisRelay(client *redis.Client, channel string, local Broadcaster, queueSize int) *RedisRelay {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &RedisRelay{client: client, channel: channel, local: local, queue: make(chan Event, queueSize)}
}

// Broadcast 入队，由单个发布协程按顺序 PUBLISH；队列满时丢弃
func (r *RedisRelay) Broadcast(e Event) {
	select {
	case r.queue <- e:
	default:
		eventsDropped.WithLabelValues("relay_queue_full").Inc()
		logger.Warn("relay queue full, drop event", zap.String("event", e.Name))
	}
}

// Start 订阅频道并启动发布/转发协程；返回停止函数。
func (r *RedisRelay) Start(ctx context.Context) (func(context.Context) error, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	// 订阅确认后才返回
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	stopCh := make(chan struct{})
	published := make(chan struct{})
	forwarded := make(chan struct{})

	go func() {
		defer close(forwarded)
		r.forward(sub.Channel())
	}()
	go func() {
		defer close(published)
		r.publishLoop(stopCh)
	}()

	return func(ctx context.Context) error {
		close(stopCh)
		select {
		case <-published:
		case <-ctx.Done():
		}
		err := sub.Close()
		select {
		case <-forwarded:
		case <-ctx.Done():
			return ctx.Err()
		}
		return err
	}, nil
}

// QueueLen 返回当前待发布事件数（采样值）
func (r *RedisRelay) QueueLen() int { return len(r.queue) }

func (r *RedisRelay) publishLoop(stop <-chan struct{}) {
	for {
		select {
		case e := <-r.queue:
			r.publish(e)
		case <-stop:
			// 排空剩余事件后退出
			for {
				select {
				case e := <-r.queue:
					r.publish(e)
				default:
					return
				}
			}
		}
	}
}

func (r *RedisRelay) publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		eventsDropped.WithLabelValues("encode").Inc()
		logger.Error("encode event", zap.String("event", e.Name), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		eventsDropped.WithLabelValues("publish_failed").Inc()
		logger.Error("publish event", zap.String("event", e.Name), zap.String("channel", r.channel), zap.Error(err))
	}
}

func (r *RedisRelay) forward(ch <-chan *redis.Message) {
	for msg := range ch {
		e, err := ParseEvent([]byte(msg.Payload))
		if err != nil {
			eventsDropped.WithLabelValues("decode").Inc()
			logger.Warn("drop malformed relay message", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		if r.local != nil {
			r.local.Broadcast(e)
		}
	}
}
