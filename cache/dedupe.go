package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateProcessing = "PROCESSING"
	stateDone       = "DONE"
)

// RedisDeduper tracks change events by key so a redelivered event is not
// handled twice. A claim expires after processingTTL in case the holder
// dies; a completed key is kept for doneTTL.
type RedisDeduper struct {
	rdb           redis.UniversalClient
	prefix        string
	processingTTL time.Duration
	doneTTL       time.Duration
}

func NewRedisDeduper(rdb redis.UniversalClient, doneTTL time.Duration) *RedisDeduper {
	if doneTTL <= 0 {
		doneTTL = 24 * time.Hour
	}
	return &RedisDeduper{
		rdb:           rdb,
		prefix:        "triggers:dedupe:",
		processingTTL: 30 * time.Second,
		doneTTL:       doneTTL,
	}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.prefix+key, stateProcessing, d.processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("cache: claim %s: %w", key, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Complete(ctx context.Context, key string) error {
	if err := d.rdb.Set(ctx, d.prefix+key, stateDone, d.doneTTL).Err(); err != nil {
		return fmt.Errorf("cache: complete %s: %w", key, err)
	}
	return nil
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	if err := d.rdb.Del(ctx, d.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache: release %s: %w", key, err)
	}
	return nil
}

type memoryEntry struct {
	state   string
	expires time.Time
}

// MemoryDeduper is the single-process equivalent of RedisDeduper.
type MemoryDeduper struct {
	mu            sync.Mutex
	entries       map[string]memoryEntry
	now           func() time.Time
	processingTTL time.Duration
	doneTTL       time.Duration
}

func NewMemoryDeduper(doneTTL time.Duration) *MemoryDeduper {
	if doneTTL <= 0 {
		doneTTL = 24 * time.Hour
	}
	return &MemoryDeduper{
		entries:       make(map[string]memoryEntry),
		now:           time.Now,
		processingTTL: 30 * time.Second,
		doneTTL:       doneTTL,
	}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if e, ok := d.entries[key]; ok && now.Before(e.expires) {
		return false, nil
	}
	d.entries[key] = memoryEntry{state: stateProcessing, expires: now.Add(d.processingTTL)}
	d.sweep(now)
	return true, nil
}

func (d *MemoryDeduper) Complete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = memoryEntry{state: stateDone, expires: d.now().Add(d.doneTTL)}
	return nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key)
	return nil
}

// sweep drops expired keys once the map grows. Caller holds mu.
func (d *MemoryDeduper) sweep(now time.Time) {
	if len(d.entries) < 1024 {
		return
	}
	for k, e := range d.entries {
		if !now.Before(e.expires) {
			delete(d.entries, k)
		}
	}
}
