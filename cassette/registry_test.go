package cassette

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := NewRegistry(store, 2)

	a := r.Get("albums")
	assert.Check(t, r.Get("albums") == a, "same name shares one instance")
	assert.Check(t, r.Get("artists") != a)
	assert.Check(t, r.Store() == Store(store))

	assert.Assert(t, a.Append(ctx, interaction("https://api/albums", 200, "")))

	t.Run("evicted cassettes reload from the store", func(t *testing.T) {
		r.Get("tracks")
		assert.Check(t, cmp.Equal(r.Len(), 2))

		again := r.Get("albums")
		assert.Check(t, again != a)
		assert.Assert(t, again.Load(ctx))
		assert.Check(t, cmp.Equal(again.Len(), 1))
	})

	t.Run("forget", func(t *testing.T) {
		b := r.Get("albums")
		r.Forget("albums")
		assert.Check(t, r.Get("albums") != b)
	})
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	assert.Assert(t, s.Save(ctx, "b", nil))
	assert.Assert(t, s.Append(ctx, "a", interaction("https://x", 200, "")))

	names, err := s.List(ctx)
	assert.Assert(t, err)
	assert.Check(t, cmp.DeepEqual(names, []string{"a", "b"}))

	assert.Assert(t, s.Delete(ctx, "a"))
	names, err = s.List(ctx)
	assert.Assert(t, err)
	assert.Check(t, cmp.DeepEqual(names, []string{"b"}))
}
