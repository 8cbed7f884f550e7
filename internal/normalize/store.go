package normalize

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

// MappingStore persists ingredient mappings by key.
type MappingStore interface {
	// Get returns the mapping for key and whether it exists.
	Get(ctx context.Context, key string) (entity.IngredientMapping, bool, error)
	// Insert stores m unless its key is already present. It returns the
	// stored mapping and whether this call created it.
	Insert(ctx context.Context, m entity.IngredientMapping) (entity.IngredientMapping, bool, error)
	// Update applies fn to the mapping stored under key while holding that
	// key's lock and returns the result.
	Update(ctx context.Context, key string, fn func(*entity.IngredientMapping)) (entity.IngredientMapping, error)
}

// IngredientCatalog persists canonical ingredients.
type IngredientCatalog interface {
	// EnsureIngredient returns the ingredient with the given name, creating it if needed.
	EnsureIngredient(ctx context.Context, ing entity.Ingredient) (entity.Ingredient, error)
}

// DefaultMaxEntries bounds a MemoryStore created with a non-positive capacity.
const DefaultMaxEntries = 10000

// MemoryStore is an in-process MappingStore bounded by least-recently-used eviction.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
	locks    keyLocks
}

// NewMemoryStore creates a MemoryStore holding at most capacity mappings.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMaxEntries
	}
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		locks:    keyLocks{m: make(map[string]*keyLock)},
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (entity.IngredientMapping, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	if !ok {
		return entity.IngredientMapping{}, false, nil
	}
	s.order.MoveToFront(el)
	return el.Value.(entity.IngredientMapping), true, nil
}

func (s *MemoryStore) Insert(_ context.Context, m entity.IngredientMapping) (entity.IngredientMapping, bool, error) {
	unlock := s.locks.lock(m.Key)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[m.Key]; ok {
		s.order.MoveToFront(el)
		return el.Value.(entity.IngredientMapping), false, nil
	}
	s.items[m.Key] = s.order.PushFront(m)
	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(entity.IngredientMapping).Key)
	}
	return m, true, nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, fn func(*entity.IngredientMapping)) (entity.IngredientMapping, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	cur, ok, _ := s.Get(ctx, key)
	if !ok {
		return entity.IngredientMapping{}, fmt.Errorf("mapping %q: %w", key, common.ErrNotFound)
	}
	fn(&cur)
	cur.Key = key

	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		el.Value = cur
		s.order.MoveToFront(el)
	} else {
		s.items[key] = s.order.PushFront(cur)
	}
	return cur, nil
}

// Len returns the number of cached mappings.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

type keyLock struct {
	sync.Mutex
	refs int
}

// keyLocks hands out one mutex per key and frees it when unused.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &keyLock{}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
