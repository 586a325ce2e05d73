package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/d60-Lab/livepost/internal/model"
)

// ErrPostNotFound 指定 id 的帖子不存在
var ErrPostNotFound = errors.New("post not found")

// PostRepository 帖子仓储接口
type PostRepository interface {
	// Create 创建帖子，id 由数据库分配并回填
	Create(ctx context.Context, post *model.Post) error

	// List 按 id 升序（即插入顺序）返回全部帖子
	List(ctx context.Context) ([]*model.Post, error)

	// Get 根据 id 查询
	Get(ctx context.Context, id int64) (*model.Post, error)

	// Update 更新标题与内容，不存在时返回 ErrPostNotFound
	Update(ctx context.Context, id int64, title, content string) (*model.Post, error)

	// Delete 删除帖子，不存在时返回 ErrPostNotFound
	Delete(ctx context.Context, id int64) error

	// Count 统计帖子数量
	Count(ctx context.Context) (int64, error)
}

type postRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) PostRepository { return &postRepository{db: db} }

// InitSchema 初始化 posts 表结构
func InitSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Post{}); err != nil {
		return fmt.Errorf("failed to migrate posts table: %w", err)
	}
	return nil
}

func (r *postRepository) Create(ctx context.Context, post *model.Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

func (r *postRepository) List(ctx context.Context) ([]*model.Post, error) {
	res := make([]*model.Post, 0)
	err := r.db.WithContext(ctx).Order("id ASC").Find(&res).Error
	return res, err
}

func (r *postRepository) Get(ctx context.Context, id int64) (*model.Post, error) {
	var post model.Post
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &post, nil
}

// Update 只更新已存在的行，不会插入
func (r *postRepository) Update(ctx context.Context, id int64, title, content string) (*model.Post, error) {
	var post model.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&post, id).Error; err != nil {
			return notFound(err)
		}
		res := tx.Model(&post).Updates(map[string]any{"title": title, "content": content})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPostNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	post.Title = title
	post.Content = content
	return &post, nil
}

func (r *postRepository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&model.Post{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPostNotFound
	}
	return nil
}

func (r *postRepository) Count(ctx context.Context) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Post{}).Count(&cnt).Error
	return cnt, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPostNotFound
	}
	return err
}
