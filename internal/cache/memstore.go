package cache

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// MemStore is an in-process, mutex-protected implementation of Store. It
// backs the module's tests: storage sits behind a narrow interface so
// tests never need a real Redis,
// just a couple of Go maps instead.
type MemStore struct {
	mu      sync.Mutex
	sets    map[string]map[string]struct{}
	hashes  map[string]map[string]string
	expires map[string]time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		sets:    make(map[string]map[string]struct{}),
		hashes:  make(map[string]map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (m *MemStore) expired(key string) bool {
	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		delete(m.sets, key)
		delete(m.hashes, key)
		delete(m.expires, key)
		return true
	}
	return false
}

func (m *MemStore) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired(key)
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, mem := range members {
		set[mem] = struct{}{}
	}
	return nil
}

func (m *MemStore) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil
	}
	set, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, mem := range members {
		delete(set, mem)
	}
	return nil
}

func (m *MemStore) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil, nil
	}
	set := m.sets[key]
	out := make([]string, 0, len(set))
	for mem := range set {
		out = append(out, mem)
	}
	return out, nil
}

func (m *MemStore) SRandMember(ctx context.Context, key string, count int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil, nil
	}
	set := m.sets[key]
	all := make([]string, 0, len(set))
	for mem := range set {
		all = append(all, mem)
	}
	if count >= len(all) {
		return all, nil
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:count], nil
}

func (m *MemStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *MemStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return map[string]string{}, nil
	}
	h := m.hashes[key]
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (m *MemStore) HDel(ctx context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil
	}
	h, ok := m.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h, f)
	}
	return nil
}

func (m *MemStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = time.Now().Add(ttl)
	return nil
}

func (m *MemStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.sets, key)
		delete(m.hashes, key)
		delete(m.expires, key)
	}
	return nil
}

func (m *MemStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return false, nil
	}
	if _, ok := m.sets[key]; ok {
		return true, nil
	}
	if _, ok := m.hashes[key]; ok {
		return true, nil
	}
	return false, nil
}

func (m *MemStore) Pipeline() Pipeline {
	return &memPipeline{store: m}
}

// memPipeline queues operations and applies them to the backing MemStore
// on Exec. There's no real round-trip to batch here, but the interface
// keeps callers identical between MemStore and RedisStore.
type memPipeline struct {
	store *MemStore
	ops   []func(context.Context) error
}

func (p *memPipeline) SAdd(key string, members ...string) {
	p.ops = append(p.ops, func(ctx context.Context) error { return p.store.SAdd(ctx, key, members...) })
}

func (p *memPipeline) SRem(key string, members ...string) {
	p.ops = append(p.ops, func(ctx context.Context) error { return p.store.SRem(ctx, key, members...) })
}

func (p *memPipeline) HSet(key string, fields map[string]string) {
	p.ops = append(p.ops, func(ctx context.Context) error { return p.store.HSet(ctx, key, fields) })
}

func (p *memPipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func(ctx context.Context) error { return p.store.Expire(ctx, key, ttl) })
}

func (p *memPipeline) Del(key ...string) {
	p.ops = append(p.ops, func(ctx context.Context) error { return p.store.Del(ctx, key...) })
}

func (p *memPipeline) Exec(ctx context.Context) error {
	for _, op := range p.ops {
		if err := op(ctx); err != nil {
			return err
		}
	}
	return nil
}
