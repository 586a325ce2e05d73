package liveview

import (
	"github.com/d60-Lab/livepost/internal/broadcast"
	"github.com/d60-Lab/livepost/internal/model"
)

// Collection 按 id 索引的有序帖子序列，只能被事件或快照修改
type Collection struct {
	posts []model.Post
	index map[int64]int
}

func NewCollection() *Collection {
	return &Collection{index: make(map[int64]int)}
}

// Reset 用快照整体替换
func (c *Collection) Reset(snapshot []model.Post) {
	c.posts = make([]model.Post, 0, len(snapshot))
	c.index = make(map[int64]int, len(snapshot))
	for _, p := range snapshot {
		c.Upsert(p)
	}
}

// Upsert 已存在则原位替换，否则追加到末尾
func (c *Collection) Upsert(p model.Post) {
	if i, ok := c.index[p.ID]; ok {
		c.posts[i] = p
		return
	}
	c.index[p.ID] = len(c.posts)
	c.posts = append(c.posts, p)
}

// Replace 不存在时什么也不做
func (c *Collection) Replace(p model.Post) bool {
	i, ok := c.index[p.ID]
	if !ok {
		return false
	}
	c.posts[i] = p
	return true
}

func (c *Collection) Remove(id int64) bool {
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.posts = append(c.posts[:i], c.posts[i+1:]...)
	delete(c.index, id)
	for j := i; j < len(c.posts); j++ {
		c.index[c.posts[j].ID] = j
	}
	return true
}

// Apply reports whether the event changed the collection.
func (c *Collection) Apply(d broadcast.Decoded) bool {
	switch d.Name {
	case broadcast.PostCreated:
		if cur, ok := c.Get(d.Post.ID); ok && cur == d.Post {
			return false
		}
		c.Upsert(d.Post)
		return true
	case broadcast.PostUpdated:
		return c.Replace(d.Post)
	case broadcast.PostDeleted:
		return c.Remove(d.ID)
	}
	return false
}

func (c *Collection) Get(id int64) (model.Post, bool) {
	i, ok := c.index[id]
	if !ok {
		return model.Post{}, false
	}
	return c.posts[i], true
}

func (c *Collection) Len() int { return len(c.posts) }

// Snapshot 返回副本
func (c *Collection) Snapshot() []model.Post {
	out := make([]model.Post, len(c.posts))
	copy(out, c.posts)
	return out
}
