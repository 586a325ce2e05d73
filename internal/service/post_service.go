package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/d60-Lab/livepost/internal/broadcast"
	"github.com/d60-Lab/livepost/internal/cache"
	"github.com/d60-Lab/livepost/internal/model"
	"github.com/d60-Lab/livepost/internal/repository"
)

var (
	// ErrPostNotFound 引用的 id 不存在
	ErrPostNotFound = errors.New("post not found")
	// ErrPersistence 存储读写失败，原始错误被包装在内
	ErrPersistence = errors.New("persistence failure")
)

var tracer = otel.Tracer("github.com/d60-Lab/livepost/internal/service")

// PostService 帖子变更服务：持久化成功后广播一次对应事件
type PostService interface {
	Create(ctx context.Context, title, content string) (*model.Post, error)
	List(ctx context.Context) ([]*model.Post, error)
	Update(ctx context.Context, id int64, title, content string) (*model.Post, error)
	Delete(ctx context.Context, id int64) (int64, error)
}

type postService struct {
	repo        repository.PostRepository
	broadcaster broadcast.Broadcaster
	listCache   *cache.PostListCache
}

// NewPostService broadcaster 与 listCache 均可为 nil
func NewPostService(repo repository.PostRepository, broadcaster broadcast.Broadcaster, listCache *cache.PostListCache) PostService {
	return &postService{repo: repo, broadcaster: broadcaster, listCache: listCache}
}

func (s *postService) Create(ctx context.Context, title, content string) (*model.Post, error) {
	// 请求方断开不会中断已发出的写入
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "PostService.Create")
	defer span.End()

	post := &model.Post{Title: title, Content: content}
	if err := s.repo.Create(ctx, post); err != nil {
		return nil, fail(span, persistence(err))
	}
	span.SetAttributes(attribute.Int64("post.id", post.ID))
	s.committed(ctx, broadcast.Created(*post))
	return post, nil
}

func (s *postService) List(ctx context.Context) ([]*model.Post, error) {
	ctx, span := tracer.Start(ctx, "PostService.List")
	defer span.End()

	version := int64(-1)
	if s.listCache != nil {
		cached, v, ok := s.listCache.Get(ctx)
		if ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
		version = v
	}
	posts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fail(span, persistence(err))
	}
	if s.listCache != nil {
		// 读快照期间有写入提交时不回填
		s.listCache.Set(ctx, posts, version)
	}
	span.SetAttributes(attribute.Int("post.count", len(posts)))
	return posts, nil
}

func (s *postService) Update(ctx context.Context, id int64, title, content string) (*model.Post, error) {
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "PostService.Update", trace.WithAttributes(attribute.Int64("post.id", id)))
	defer span.End()

	post, err := s.repo.Update(ctx, id, title, content)
	if err != nil {
		return nil, fail(span, persistence(err))
	}
	s.committed(ctx, broadcast.Updated(*post))
	return post, nil
}

func (s *postService) Delete(ctx context.Context, id int64) (int64, error) {
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "PostService.Delete", trace.WithAttributes(attribute.Int64("post.id", id)))
	defer span.End()

	if err := s.repo.Delete(ctx, id); err != nil {
		return 0, fail(span, persistence(err))
	}
	s.committed(ctx, broadcast.Deleted(id))
	return id, nil
}

// committed 写入已提交：先失效列表缓存，再广播
func (s *postService) committed(ctx context.Context, e broadcast.Event) {
	if s.listCache != nil {
		s.listCache.Invalidate(ctx)
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(e)
	}
}

func persistence(err error) error {
	if errors.Is(err, repository.ErrPostNotFound) {
		return ErrPostNotFound
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func fail(span trace.Span, err error) error {
	if !errors.Is(err, ErrPostNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
