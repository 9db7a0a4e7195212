package cassette

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

const defaultRegistrySize = 128

// Registry hands out one shared Cassette per name over a single store, so concurrent
// recorders in a process append to the same in-memory log. The least recently used
// cassettes are dropped once the registry is full; a dropped cassette is reloaded from the
// store on its next Get.
type Registry struct {
	store Store

	mu    sync.Mutex
	cache *lru.Cache
}

// NewRegistry returns a registry over store. A size of zero or less uses the default.
func NewRegistry(store Store, size int) *Registry {
	if size <= 0 {
		size = defaultRegistrySize
	}
	// New only fails for a non-positive size
	cache, _ := lru.New(size)
	return &Registry{store: store, cache: cache}
}

func (r *Registry) Store() Store {
	return r.store
}

// Get returns the cassette registered under name, creating it if needed.
func (r *Registry) Get(name string) *Cassette {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cache.Get(name); ok {
		return c.(*Cassette)
	}
	c := New(name, r.store)
	r.cache.Add(name, c)
	return c
}

// Forget drops name from the registry without touching the store.
func (r *Registry) Forget(name string) {
	r.cache.Remove(name)
}

func (r *Registry) Len() int {
	return r.cache.Len()
}
