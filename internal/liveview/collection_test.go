package liveview

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/d60-Lab/livepost/internal/broadcast"
	"github.com/d60-Lab/livepost/internal/model"
)

func decode(t *testing.T, e broadcast.Event) broadcast.Decoded {
	t.Helper()
	d, err := e.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return d
}

func TestCollection_AppliesEventsInOrder(t *testing.T) {
	a := model.Post{ID: 1, Title: "A", Content: "a"}
	b := model.Post{ID: 2, Title: "B", Content: "b"}
	c := model.Post{ID: 3, Title: "C", Content: "c"}
	b2 := model.Post{ID: 2, Title: "B'", Content: "b'"}

	coll := NewCollection()
	coll.Reset([]model.Post{a, b})

	assert.True(t, coll.Apply(decode(t, broadcast.Created(c))))
	assert.True(t, coll.Apply(decode(t, broadcast.Updated(b2))))
	assert.True(t, coll.Apply(decode(t, broadcast.Deleted(1))))

	assert.Equal(t, []model.Post{b2, c}, coll.Snapshot())
}

func TestCollection_DuplicateCreatedAppliedOnce(t *testing.T) {
	p := model.Post{ID: 7, Title: "x", Content: "y"}
	coll := NewCollection()

	assert.True(t, coll.Apply(decode(t, broadcast.Created(p))))
	assert.False(t, coll.Apply(decode(t, broadcast.Created(p))))
	assert.Equal(t, 1, coll.Len())
}

func TestCollection_MissingTargetsAreNoops(t *testing.T) {
	a := model.Post{ID: 1, Title: "A", Content: "a"}
	coll := NewCollection()
	coll.Reset([]model.Post{a})

	assert.False(t, coll.Apply(decode(t, broadcast.Updated(model.Post{ID: 9, Title: "z", Content: "z"}))))
	assert.False(t, coll.Apply(decode(t, broadcast.Deleted(9))))
	assert.Equal(t, []model.Post{a}, coll.Snapshot())
}

func TestCollection_RemoveKeepsIndex(t *testing.T) {
	coll := NewCollection()
	for i := int64(1); i <= 5; i++ {
		coll.Upsert(model.Post{ID: i, Title: "t", Content: "c"})
	}
	assert.True(t, coll.Remove(2))
	assert.True(t, coll.Remove(4))

	ids := make([]int64, 0, coll.Len())
	for _, p := range coll.Snapshot() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{1, 3, 5}, ids)

	got, ok := coll.Get(5)
	assert.True(t, ok)
	assert.Equal(t, int64(5), got.ID)
}

func TestCollection_SnapshotIsCopy(t *testing.T) {
	coll := NewCollection()
	coll.Upsert(model.Post{ID: 1, Title: "A", Content: "a"})

	snap := coll.Snapshot()
	snap[0].Title = "mutated"

	got, _ := coll.Get(1)
	assert.Equal(t, "A", got.Title)
}
