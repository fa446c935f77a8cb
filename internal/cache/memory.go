package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sells-group/scopesignal/internal/model"
)

const memoryShards = 32

type memoryEntry struct {
	result    model.ClassificationResult
	createdAt time.Time
	ttl       time.Duration
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// Memory is an in-process cache. Keys are spread over independently locked
// shards so operations on distinct fingerprints rarely contend.
type Memory struct {
	opts   options
	shards [memoryShards]*memoryShard
}

// NewMemory creates an empty in-memory cache.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{opts: buildOptions(opts)}
	for i := range m.shards {
		m.shards[i] = &memoryShard{entries: make(map[string]memoryEntry)}
	}
	return m
}

func (m *Memory) shard(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck
	return m.shards[h.Sum32()%memoryShards]
}

// Get returns a copy of the live entry for key.
func (m *Memory) Get(_ context.Context, key string) (*model.ClassificationResult, bool, error) {
	s := m.shard(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || expired(m.opts.now(), e.createdAt, e.ttl) {
		return nil, false, nil
	}
	res := e.result
	return &res, true, nil
}

// Set stores result under key, replacing any previous entry.
func (m *Memory) Set(_ context.Context, key string, result model.ClassificationResult) error {
	if err := validateStored(result); err != nil {
		return err
	}
	s := m.shard(key)
	s.mu.Lock()
	s.entries[key] = memoryEntry{result: result, createdAt: m.opts.now(), ttl: m.opts.ttl}
	s.mu.Unlock()
	return nil
}

// Stats reports entry counts and ages.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	now := m.opts.now()
	st := Stats{Backend: "memory", TTL: m.opts.ttl}
	var oldest, newest time.Time
	for _, s := range m.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			st.Entries++
			if expired(now, e.createdAt, e.ttl) {
				st.Expired++
			}
			if oldest.IsZero() || e.createdAt.Before(oldest) {
				oldest = e.createdAt
			}
			if newest.IsZero() || e.createdAt.After(newest) {
				newest = e.createdAt
			}
		}
		s.mu.RUnlock()
	}
	if st.Entries > 0 {
		st.OldestAge = now.Sub(oldest)
		st.NewestAge = now.Sub(newest)
	}
	return st, nil
}

// Clear removes every entry and returns how many were removed.
func (m *Memory) Clear(_ context.Context) (int, error) {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.entries = make(map[string]memoryEntry)
		s.mu.Unlock()
	}
	return n, nil
}

// Purge removes expired entries one shard at a time.
func (m *Memory) Purge(_ context.Context) (int, error) {
	now := m.opts.now()
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if expired(now, e.createdAt, e.ttl) {
				delete(s.entries, k)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
