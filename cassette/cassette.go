// Package cassette holds recorded HTTP interactions.
//
// A Cassette is a named, ordered log of interactions kept in memory and mirrored to a Store.
// The name is the identity key in the store: two Cassette values with the same name over the
// same store see the same persisted interactions. Use a Registry to share one instance per
// name inside a process.
//
// Appends are persisted before they become visible in memory, and Erase deletes from the
// store before clearing memory, so memory never runs ahead of the store.
package cassette

import (
	"context"
	"reflect"
	"sync"

	"github.com/circleci/vcr/o11y"
)

type Cassette struct {
	name  string
	store Store

	mu           sync.RWMutex
	loaded       bool
	interactions []Interaction
	// consumed holds indexes into interactions that a single use replay has handed out
	consumed map[int]bool
}

// New returns an unloaded cassette. Nothing is read from the store until Load, Append or
// Select is called.
func New(name string, store Store) *Cassette {
	return &Cassette{
		name:     name,
		store:    store,
		consumed: map[int]bool{},
	}
}

func (c *Cassette) Name() string {
	return c.name
}

// Load reads the cassette from the store. It is idempotent: once loaded, further calls
// return immediately.
func (c *Cassette) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx, false)
}

// Reload discards the in-memory state, including consumed marks, and reads the store again.
func (c *Cassette) Reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx, true)
}

// load requires the write lock.
func (c *Cassette) load(ctx context.Context, force bool) (err error) {
	if c.loaded && !force {
		return nil
	}
	ctx, span := o11y.StartSpan(ctx, "cassette: load")
	defer o11y.End(span, &err)
	span.AddField("cassette", c.name)

	interactions, err := c.store.LoadAll(ctx, c.name)
	if err != nil {
		return &StoreError{Op: "load", Name: c.name, Err: err}
	}
	span.AddField("interactions", len(interactions))

	c.interactions = interactions
	c.consumed = map[int]bool{}
	c.loaded = true
	return nil
}

// Append persists i and then adds it to the end of the in-memory sequence. If the store
// write fails the in-memory sequence is unchanged.
func (c *Cassette) Append(ctx context.Context, i Interaction) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx, false); err != nil {
		return err
	}

	ctx, span := o11y.StartSpan(ctx, "cassette: append")
	defer o11y.End(span, &err)
	span.AddField("cassette", c.name)
	span.AddField("method", i.Request.Method)
	span.AddField("url", i.Request.URL)

	i = i.Clone()
	var next []Interaction
	if a, ok := c.store.(Appender); ok {
		err = a.Append(ctx, c.name, i)
		next = make([]Interaction, len(c.interactions), len(c.interactions)+1)
		copy(next, c.interactions)
		next = append(next, i)
	} else {
		next, err = c.saveAppended(ctx, i)
	}
	if err != nil {
		return &StoreError{Op: "append", Name: c.name, Err: err}
	}

	if len(next) < len(c.interactions)+1 {
		// the store was erased behind our back, the old consumed marks mean nothing now
		c.consumed = map[int]bool{}
	}
	c.interactions = next
	span.AddField("interactions", len(next))
	return nil
}

// Interactions returns a copy of the loaded sequence, oldest first. The copies share
// header and body storage with the cassette, which callers must treat as read only.
func (c *Cassette) Interactions() []Interaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Interaction, len(c.interactions))
	copy(out, c.interactions)
	return out
}

func (c *Cassette) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.interactions)
}

// Erase deletes the cassette from the store and then clears memory. On a store failure
// memory is left as it was.
func (c *Cassette) Erase(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := o11y.StartSpan(ctx, "cassette: erase")
	defer o11y.End(span, &err)
	span.AddField("cassette", c.name)

	if err := c.store.Delete(ctx, c.name); err != nil {
		return &StoreError{Op: "erase", Name: c.name, Err: err}
	}
	span.AddField("erased", len(c.interactions))

	c.interactions = nil
	c.consumed = map[int]bool{}
	c.loaded = true
	return nil
}

// Select loads the cassette if needed and calls pick with the candidate interactions in
// order. When consume is set, interactions handed out by an earlier consuming Select are not
// offered again, and the picked interaction is marked as consumed.
func (c *Cassette) Select(ctx context.Context, pick func([]Interaction) (int, bool), consume bool) (Interaction, bool, error) {
	if !consume {
		if err := c.ensureLoaded(ctx); err != nil {
			return Interaction{}, false, err
		}
		c.mu.RLock()
		defer c.mu.RUnlock()
		idx, ok := pick(c.interactions)
		if !ok {
			return Interaction{}, false, nil
		}
		return c.interactions[idx], true, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx, false); err != nil {
		return Interaction{}, false, err
	}
	candidates := make([]Interaction, 0, len(c.interactions))
	positions := make([]int, 0, len(c.interactions))
	for i, in := range c.interactions {
		if c.consumed[i] {
			continue
		}
		candidates = append(candidates, in)
		positions = append(positions, i)
	}
	idx, ok := pick(candidates)
	if !ok {
		return Interaction{}, false, nil
	}
	c.consumed[positions[idx]] = true
	return candidates[idx], true, nil
}

// saveAppended reads what the store holds now and saves it with i added, so appends made
// through other Cassette values of the same name are kept.
func (c *Cassette) saveAppended(ctx context.Context, i Interaction) ([]Interaction, error) {
	unlock := lockName(c.store, c.name)
	defer unlock()

	stored, err := c.store.LoadAll(ctx, c.name)
	if err != nil {
		return nil, err
	}
	next := append(stored[:len(stored):len(stored)], i)
	if err := c.store.Save(ctx, c.name, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (c *Cassette) ensureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.Load(ctx)
}

type nameKey struct {
	store Store
	name  string
}

// nameLocks serialises read-modify-write saves per store and cassette name in this process.
var nameLocks sync.Map

func lockName(store Store, name string) (unlock func()) {
	if !reflect.TypeOf(store).Comparable() {
		return func() {}
	}
	mu, _ := nameLocks.LoadOrStore(nameKey{store: store, name: name}, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}
