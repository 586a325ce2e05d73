package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/livepost/internal/broadcast"
	"github.com/d60-Lab/livepost/internal/cache"
	"github.com/d60-Lab/livepost/internal/model"
	"github.com/d60-Lab/livepost/internal/repository"
)

type recordingBroadcaster struct{ events []broadcast.Event }

func (r *recordingBroadcaster) Broadcast(e broadcast.Event) { r.events = append(r.events, e) }

// failingRepo 模拟存储不可用
type failingRepo struct{ err error }

func (f failingRepo) Create(context.Context, *model.Post) error { return f.err }

func (f failingRepo) List(context.Context) ([]*model.Post, error) { return nil, f.err }

func (f failingRepo) Get(context.Context, int64) (*model.Post, error) { return nil, f.err }

func (f failingRepo) Update(context.Context, int64, string, string) (*model.Post, error) {
	return nil, f.err
}

func (f failingRepo) Delete(context.Context, int64) error { return f.err }

func (f failingRepo) Count(context.Context) (int64, error) { return 0, f.err }

// racingRepo 在快照读出之后、返回之前插入一次写入
type racingRepo struct {
	repository.PostRepository
	onList func()
}

func (r *racingRepo) List(ctx context.Context) ([]*model.Post, error) {
	posts, err := r.PostRepository.List(ctx)
	if r.onList != nil {
		r.onList()
		r.onList = nil
	}
	return posts, err
}

func setupService(t *testing.T, listCache *cache.PostListCache) (PostService, *recordingBroadcaster) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.InitSchema(db))

	rec := &recordingBroadcaster{}
	return NewPostService(repository.NewPostRepository(db), rec, listCache), rec
}

func decode(t *testing.T, e broadcast.Event) broadcast.Decoded {
	t.Helper()
	d, err := e.Decode()
	require.NoError(t, err)
	return d
}

func TestPostService_CreateThenList(t *testing.T) {
	svc, rec := setupService(t, nil)
	ctx := context.Background()

	post, err := svc.Create(ctx, "x", "y")
	require.NoError(t, err)
	assert.Equal(t, int64(1), post.ID)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, *post, *list[0])

	require.Len(t, rec.events, 1)
	d := decode(t, rec.events[0])
	assert.Equal(t, broadcast.PostCreated, d.Name)
	assert.Equal(t, model.Post{ID: 1, Title: "x", Content: "y"}, d.Post)
}

func TestPostService_Update(t *testing.T) {
	svc, rec := setupService(t, nil)
	ctx := context.Background()

	a, err := svc.Create(ctx, "a", "1")
	require.NoError(t, err)
	b, err := svc.Create(ctx, "b", "2")
	require.NoError(t, err)

	updated, err := svc.Update(ctx, a.ID, "a2", "11")
	require.NoError(t, err)
	assert.Equal(t, "a2", updated.Title)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a2", list[0].Title)
	assert.Equal(t, "11", list[0].Content)
	assert.Equal(t, b.Title, list[1].Title)
	assert.Equal(t, b.Content, list[1].Content)

	require.Len(t, rec.events, 3)
	d := decode(t, rec.events[2])
	assert.Equal(t, broadcast.PostUpdated, d.Name)
	assert.Equal(t, model.Post{ID: a.ID, Title: "a2", Content: "11"}, d.Post)
}

func TestPostService_UpdateMissing(t *testing.T) {
	svc, rec := setupService(t, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, "a", "1")
	require.NoError(t, err)

	_, err = svc.Update(ctx, 999, "x", "y")
	assert.ErrorIs(t, err, ErrPostNotFound)
	assert.Len(t, rec.events, 1)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Title)
}

func TestPostService_Delete(t *testing.T) {
	svc, rec := setupService(t, nil)
	ctx := context.Background()

	a, err := svc.Create(ctx, "a", "1")
	require.NoError(t, err)

	id, err := svc.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.Len(t, rec.events, 2)
	d := decode(t, rec.events[1])
	assert.Equal(t, broadcast.PostDeleted, d.Name)
	assert.Equal(t, a.ID, d.ID)
}

func TestPostService_DeleteMissing(t *testing.T) {
	svc, rec := setupService(t, nil)

	_, err := svc.Delete(context.Background(), 999)
	assert.ErrorIs(t, err, ErrPostNotFound)
	assert.Empty(t, rec.events)
}

func TestPostService_PersistenceErrorsNeverBroadcast(t *testing.T) {
	storeErr := errors.New("connection refused")
	rec := &recordingBroadcaster{}
	svc := NewPostService(failingRepo{err: storeErr}, rec, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, "x", "y")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, storeErr)

	_, err = svc.List(ctx)
	assert.ErrorIs(t, err, ErrPersistence)

	_, err = svc.Update(ctx, 1, "x", "y")
	assert.ErrorIs(t, err, ErrPersistence)

	_, err = svc.Delete(ctx, 1)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.NotErrorIs(t, err, ErrPostNotFound)

	assert.Empty(t, rec.events)
}

func TestPostService_NilBroadcaster(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, repository.InitSchema(db))

	svc := NewPostService(repository.NewPostRepository(db), nil, nil)
	_, err = svc.Create(context.Background(), "x", "y")
	assert.NoError(t, err)
}

func TestPostService_ListCacheInvalidatedOnMutation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	listCache := cache.NewPostListCache(client, time.Minute)

	svc, _ := setupService(t, listCache)
	ctx := context.Background()

	a, err := svc.Create(ctx, "a", "1")
	require.NoError(t, err)

	list, err := svc.List(ctx) // miss -> fill
	require.NoError(t, err)
	require.Len(t, list, 1)
	_, err = svc.List(ctx) // hit
	require.NoError(t, err)

	hits, _ := listCache.Counters()
	assert.Equal(t, int64(1), hits)

	_, err = svc.Update(ctx, a.ID, "a2", "1")
	require.NoError(t, err)
	list, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", list[0].Title)

	_, err = svc.Create(ctx, "b", "2")
	require.NoError(t, err)
	list, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = svc.Delete(ctx, a.ID)
	require.NoError(t, err)
	list, err = svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].Title)
}

func TestPostService_ListDoesNotCacheSnapshotOlderThanMutation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	listCache := cache.NewPostListCache(client, time.Minute)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.InitSchema(db))

	repo := &racingRepo{PostRepository: repository.NewPostRepository(db)}
	svc := NewPostService(repo, nil, listCache)
	writer := NewPostService(repository.NewPostRepository(db), nil, listCache)
	ctx := context.Background()

	_, err = svc.Create(ctx, "a", "1")
	require.NoError(t, err)

	repo.onList = func() {
		_, err := writer.Create(ctx, "b", "2")
		require.NoError(t, err)
	}
	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	hits, _ := listCache.Counters()
	assert.Zero(t, hits)
}
