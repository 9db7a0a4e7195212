package cassette

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Store persists cassettes by name. Loading a name that was never saved returns an empty
// sequence, not an error. Order must be preserved.
type Store interface {
	Save(ctx context.Context, name string, interactions []Interaction) error
	LoadAll(ctx context.Context, name string) ([]Interaction, error)
	Delete(ctx context.Context, name string) error
}

// Appender is implemented by stores that can add one interaction without rewriting the
// whole cassette. The append must be atomic with respect to concurrent readers.
type Appender interface {
	Append(ctx context.Context, name string, i Interaction) error
}

// Lister is implemented by stores that can enumerate the cassettes they hold.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// StoreError is returned by Cassette operations when the backing store fails.
type StoreError struct {
	Op   string
	Name string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("cassette %q: %s failed: %v", e.Name, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func IsStoreError(err error) bool {
	var e *StoreError
	return errors.As(err, &e)
}

// MemoryStore keeps cassettes in process. It is safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	cassettes map[string][]Interaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cassettes: map[string][]Interaction{}}
}

func (s *MemoryStore) Save(_ context.Context, name string, interactions []Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cassettes[name] = cloneAll(interactions)
	return nil
}

func (s *MemoryStore) Append(_ context.Context, name string, i Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cassettes[name] = append(s.cassettes[name], i.Clone())
	return nil
}

func (s *MemoryStore) LoadAll(_ context.Context, name string) ([]Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.cassettes[name]), nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cassettes, name)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.cassettes))
	for n := range s.cassettes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func cloneAll(in []Interaction) []Interaction {
	out := make([]Interaction, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
