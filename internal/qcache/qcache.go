// Package qcache caches skill-filtered question lists in front of the
// database. Question content changes only on sync runs, so short TTLs keep
// session starts cheap without a coherence protocol.
package qcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
	"github.com/tedlu-tw/learnwise-demo/internal/metrics"
)

const keyPrefix = "questions:"

// Backend is a minimal byte cache. Implementations must treat misses as
// (nil, false, nil), not as errors.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Source is the underlying question store.
type Source interface {
	QuestionsForSkills(ctx context.Context, skills []string) ([]domain.Question, error)
}

// Cache decorates a Source with read-through caching keyed by the sorted
// skill set. Backend failures degrade to direct reads.
type Cache struct {
	source  Source
	backend Backend
	ttl     time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New builds a Cache. ttl zero defaults to five minutes; metrics may be nil.
func New(source Source, backend Backend, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{source: source, backend: backend, ttl: ttl, metrics: m, log: logger}
}

// QuestionsForSkills serves from cache when possible, otherwise reads
// through and stores the result.
func (c *Cache) QuestionsForSkills(ctx context.Context, skills []string) ([]domain.Question, error) {
	key := Key(skills)

	if raw, ok, err := c.backend.Get(ctx, key); err != nil {
		c.log.Warn("question cache read failed, falling back to store", "key", key, "error", err)
	} else if ok {
		var qs []domain.Question
		if err := json.Unmarshal(raw, &qs); err == nil {
			c.metrics.CacheHit()
			return qs, nil
		}
		c.log.Warn("question cache entry corrupt, discarding", "key", key)
	}
	c.metrics.CacheMiss()

	qs, err := c.source.QuestionsForSkills(ctx, skills)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(qs); err == nil {
		if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
			c.log.Warn("question cache write failed", "key", key, "error", err)
		}
	}
	return qs, nil
}

// Invalidate drops every cached question list. Called after content sync.
func (c *Cache) Invalidate(ctx context.Context) error {
	if err := c.backend.DeletePrefix(ctx, keyPrefix); err != nil {
		return fmt.Errorf("qcache: invalidating: %w", err)
	}
	return nil
}

// Key builds the cache key for a skill set: skills are lowercased, sorted,
// and joined so equivalent requests share an entry.
func Key(skills []string) string {
	normalized := make([]string, 0, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			normalized = append(normalized, s)
		}
	}
	sort.Strings(normalized)
	if len(normalized) == 0 {
		return keyPrefix + "all"
	}
	return keyPrefix + strings.Join(normalized, ",")
}

// RedisBackend stores entries in Redis.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) DeletePrefix(ctx context.Context, prefix string) error {
	iter := b.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}

// MemoryBackend is a process-local fallback used when Redis is not
// configured.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry), now: time.Now}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	if b.now().After(e.expires) {
		delete(b.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = memoryEntry{value: value, expires: b.now().Add(ttl)}
	return nil
}

func (b *MemoryBackend) DeletePrefix(_ context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.entries {
		if strings.HasPrefix(key, prefix) {
			delete(b.entries, key)
		}
	}
	return nil
}
