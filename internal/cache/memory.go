package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// defaultMemoryCapacity bounds the in-memory cache when no capacity is given.
const defaultMemoryCapacity = 1000

// Memory is an in-process [Client] with a bounded capacity and FIFO eviction.
// It backs the routing cache in single-node deployments and in tests.
//
// Expired entries are dropped lazily on read; FIFO eviction (insertion order,
// not recency) keeps the implementation simple and the hot path allocation
// free.
//
// All methods are safe for concurrent use.
type Memory struct {
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = oldest insertion
}

// memoryEntry is the value stored in each list element.
type memoryEntry struct {
	key       string
	val       []byte
	expiresAt time.Time
}

// Compile-time interface check.
var _ Client = (*Memory)(nil)

// MemoryOption configures a [Memory] cache.
type MemoryOption func(*Memory)

// WithCapacity bounds the number of entries. When full, the oldest insertion
// is evicted. Default: 1000.
func WithCapacity(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory cache client.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		capacity: defaultMemoryCapacity,
		now:      time.Now,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get implements [Client].
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*memoryEntry)
	if !ent.expiresAt.IsZero() && m.now().After(ent.expiresAt) {
		m.removeLocked(el)
		return nil, false
	}
	return ent.val, true
}

// Set implements [Client]. A ttl of zero stores the entry without expiry
// (still subject to FIFO eviction).
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}

	if el, ok := m.entries[key]; ok {
		ent := el.Value.(*memoryEntry)
		ent.val = val
		ent.expiresAt = expires
		return
	}

	for m.order.Len() >= m.capacity {
		m.removeLocked(m.order.Front())
	}

	el := m.order.PushBack(&memoryEntry{key: key, val: val, expiresAt: expires})
	m.entries[key] = el
}

// Del implements [Client].
func (m *Memory) Del(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		m.removeLocked(el)
	}
}

// IsReady implements [Client]. The memory cache is always ready.
func (m *Memory) IsReady() bool {
	return true
}

// Len returns the current number of entries (including not-yet-collected
// expired ones).
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// removeLocked drops el from both the map and the list. Caller holds m.mu.
func (m *Memory) removeLocked(el *list.Element) {
	ent := el.Value.(*memoryEntry)
	delete(m.entries, ent.key)
	m.order.Remove(el)
}
