package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrTimeout is returned when a lock could not be acquired in time. Callers
// may retry the whole operation.
var ErrTimeout = errors.New("lock acquire timeout")

const DefaultTimeout = 5 * time.Second

// Locker serializes work on a set of keys. The returned unlock func releases
// every key acquired by the call.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (func(), error)
}

// ProductKey builds the lock key guarding a product's stock and cost.
func ProductKey(productID string) string {
	return fmt.Sprintf("product:%s", productID)
}

// SaleKey builds the lock key guarding a sale's return bookkeeping.
func SaleKey(saleID string) string {
	return fmt.Sprintf("sale:%s", saleID)
}

// normalizeKeys sorts and dedupes keys so every caller acquires in the same
// order.
func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// KeyedMutex is an in-process Locker for single-process deployments. A key's
// slot lives only while someone holds or waits on it.
type KeyedMutex struct {
	mu      sync.Mutex
	slots   map[string]*slot
	timeout time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex(timeout time.Duration) *KeyedMutex {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &KeyedMutex{slots: make(map[string]*slot), timeout: timeout}
}

func (m *KeyedMutex) retain(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *KeyedMutex) drop(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

func (m *KeyedMutex) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	acquireCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	held := make([]string, 0, len(keys))
	heldSlots := make([]*slot, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-heldSlots[i].ch
			m.drop(held[i], heldSlots[i])
		}
	}

	for _, key := range keys {
		s := m.retain(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, key)
			heldSlots = append(heldSlots, s)
		case <-acquireCtx.Done():
			m.drop(key, s)
			release()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}
