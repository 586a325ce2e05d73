package liveview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/d60-Lab/livepost/internal/broadcast"
	"github.com/d60-Lab/livepost/internal/model"
	"github.com/d60-Lab/livepost/pkg/logger"
)

// State 会话生命周期
type State int

const (
	Initializing State = iota
	Synced
	Disconnected
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Synced:
		return "synced"
	case Disconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrDisposed  = errors.New("liveview: session disposed")
	ErrNotSynced = errors.New("liveview: session not synced")

	errAbandoned = errors.New("connection abandoned")
)

// Options 为零值时使用默认配置
type Options struct {
	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	// 等待服务端确认订阅的上限
	SubscribeTimeout time.Duration

	// 重连退避
	ReconnectInitial    time.Duration
	ReconnectMax        time.Duration
	ReconnectMaxElapsed time.Duration
}

func (o *Options) defaults() {
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = 10 * time.Second
	}
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = 500 * time.Millisecond
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 30 * time.Second
	}
	if o.ReconnectMaxElapsed <= 0 {
		o.ReconnectMaxElapsed = 15 * time.Minute
	}
}

// link 一次 websocket 连接；abandoned 表示由本端主动关闭
type link struct {
	conn      *websocket.Conn
	abandoned atomic.Bool
	done      chan struct{}
}

// Session owns the event connection and the local collection. The collection
// is only ever changed by the snapshot and by events echoed from the server.
type Session struct {
	api  *APIClient
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	initMu sync.Mutex

	mu        sync.RWMutex
	coll      *Collection
	state     State
	stale     bool
	buffering bool
	pending   []broadcast.Decoded
	link      *link

	changes chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func NewSession(baseURL string, opts Options) (*Session, error) {
	opts.defaults()
	api, err := NewAPIClient(baseURL, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		api:     api,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		coll:    NewCollection(),
		state:   Initializing,
		changes: make(chan struct{}, 1),
	}, nil
}

// Init 先连上事件通道并缓存事件，再取一次快照，最后按顺序重放缓存
func (s *Session) Init(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.ctx.Err() != nil {
		return ErrDisposed
	}
	if s.State() != Initializing {
		return nil
	}

	conn, _, err := s.opts.Dialer.DialContext(ctx, s.api.WebsocketURL(), nil)
	if err != nil {
		return fmt.Errorf("dial events: %w", err)
	}
	// 握手完成不代表已加入广播，等到 subscribed 再取快照
	if err := s.awaitSubscribed(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}
	l := &link{conn: conn, done: make(chan struct{})}
	s.mu.Lock()
	s.link = l
	s.buffering = true
	s.pending = nil
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(l)

	snapshot, err := s.api.List(ctx)
	if err != nil {
		l.abandoned.Store(true)
		_ = conn.Close()
		<-l.done
		s.mu.Lock()
		s.link = nil
		s.state = Initializing
		s.buffering = false
		s.pending = nil
		s.mu.Unlock()
		return fmt.Errorf("initial list: %w", err)
	}

	s.mu.Lock()
	s.resetLocked(snapshot)
	if s.state == Initializing {
		s.state = Synced
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Session) awaitSubscribed(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(s.opts.SubscribeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await subscribed: %w", err)
		}
		e, err := broadcast.ParseEvent(frame)
		if err != nil {
			logger.Warn("skip malformed event", zap.Error(err))
			continue
		}
		if e.Name == broadcast.Subscribed {
			return conn.SetReadDeadline(time.Time{})
		}
	}
}

// Reload 显式全量重新同步，清除 stale 标记
func (s *Session) Reload(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return ErrDisposed
	}
	s.mu.Lock()
	if s.state == Initializing {
		s.mu.Unlock()
		return ErrNotSynced
	}
	s.buffering = true
	s.pending = nil
	s.mu.Unlock()

	snapshot, err := s.api.List(ctx)
	s.mu.Lock()
	if err != nil {
		for _, d := range s.pending {
			s.coll.Apply(d)
		}
		s.buffering = false
		s.pending = nil
		s.mu.Unlock()
		s.notify()
		return fmt.Errorf("reload: %w", err)
	}
	s.resetLocked(snapshot)
	if s.state == Synced {
		s.stale = false
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Session) resetLocked(snapshot []model.Post) {
	s.coll.Reset(snapshot)
	for _, d := range s.pending {
		s.coll.Apply(d)
	}
	s.buffering = false
	s.pending = nil
}

// Create / Update / Delete 只调用接口，本地集合等服务端事件回显后才变化
func (s *Session) Create(ctx context.Context, title, content string) error {
	_, err := s.api.Create(ctx, title, content)
	return err
}

func (s *Session) Update(ctx context.Context, id int64, title, content string) error {
	_, err := s.api.Update(ctx, id, title, content)
	return err
}

func (s *Session) Delete(ctx context.Context, id int64) error {
	return s.api.Delete(ctx, id)
}

func (s *Session) Posts() []model.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coll.Snapshot()
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stale reports whether events may have been missed while disconnected.
func (s *Session) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}

// Changes 合并后的变更信号，容量为 1
func (s *Session) Changes() <-chan struct{} { return s.changes }

// Dispose 可重复调用
func (s *Session) Dispose() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		l := s.link
		s.mu.Unlock()
		if l != nil {
			l.abandoned.Store(true)
			_ = l.conn.Close()
		}
		s.wg.Wait()
	})
}

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Session) handle(d broadcast.Decoded) {
	s.mu.Lock()
	if s.buffering {
		s.pending = append(s.pending, d)
		s.mu.Unlock()
		return
	}
	if s.state != Synced {
		s.mu.Unlock()
		return
	}
	changed := s.coll.Apply(d)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Session) readLoop(l *link) {
	defer s.wg.Done()
	for {
		err := s.read(l)
		close(l.done)
		if l.abandoned.Load() || s.ctx.Err() != nil {
			return
		}
		logger.Warn("event channel lost", zap.Error(err))

		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		s.notify()

		next, err := s.reconnect(l)
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, errAbandoned) {
				logger.Error("reconnect gave up", zap.Error(err))
			}
			return
		}
		s.mu.Lock()
		if l.abandoned.Load() || s.ctx.Err() != nil {
			s.mu.Unlock()
			_ = next.conn.Close()
			return
		}
		s.link = next
		s.state = Synced
		s.stale = true
		s.mu.Unlock()
		s.notify()
		logger.Info("event channel restored")
		l = next
	}
}

func (s *Session) read(l *link) error {
	for {
		_, frame, err := l.conn.ReadMessage()
		if err != nil {
			return err
		}
		e, err := broadcast.ParseEvent(frame)
		if err != nil {
			logger.Warn("skip malformed event", zap.Error(err))
			continue
		}
		if e.Name == broadcast.Subscribed {
			continue
		}
		d, err := e.Decode()
		if err != nil {
			logger.Warn("skip undecodable event", zap.String("event", e.Name), zap.Error(err))
			continue
		}
		s.handle(d)
	}
}

func (s *Session) reconnect(prev *link) (*link, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.ReconnectInitial
	eb.MaxInterval = s.opts.ReconnectMax

	dial := func() (*websocket.Conn, error) {
		if prev.abandoned.Load() {
			return nil, backoff.Permanent(errAbandoned)
		}
		conn, _, err := s.opts.Dialer.DialContext(s.ctx, s.api.WebsocketURL(), nil)
		return conn, err
	}
	conn, err := backoff.Retry(s.ctx, dial,
		backoff.WithBackOff(eb),
		backoff.WithMaxElapsedTime(s.opts.ReconnectMaxElapsed),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Debug("reconnect failed", zap.Error(err), zap.Duration("retry_in", wait))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &link{conn: conn, done: make(chan struct{})}, nil
}
