package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"

	"github.com/obsidianstack/microclimate/server/internal/metrics"
)

// DefaultDialTimeout bounds the connectivity check in Connect.
const DefaultDialTimeout = 2 * time.Second

// Mode identifies the active backend.
type Mode string

const (
	ModeFallback Mode = "fallback"
	ModeDurable  Mode = "durable"
)

// backend is implemented by both storage variants.
type backend interface {
	mode() Mode
	set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	get(ctx context.Context, key string) ([]byte, bool, error)
	close() error
}

// Options configures a Store.
type Options struct {
	// URL is the Redis connection URL (redis://host:port/db). Empty keeps
	// the store in fallback mode.
	URL string

	// DialTimeout bounds the initial Ping. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration
}

// Store is safe for concurrent use.
type Store struct {
	opts Options

	mu       sync.RWMutex
	active   backend
	fallback *memoryBackend
}

// New returns a Store in fallback mode. Call Connect to try the durable backend.
func New(opts Options) *Store {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	fb := newMemoryBackend()
	return &Store{opts: opts, active: fb, fallback: fb}
}

// Connect attempts to establish the durable backend. Failures are logged and
// leave the store in fallback mode; Connect never fails.
func (s *Store) Connect(ctx context.Context) {
	if s.opts.URL == "" {
		slog.Info("store: no redis url configured, using in-process fallback")
		metrics.SetStoreMode(string(ModeFallback))
		return
	}

	rb, err := dialRedis(ctx, s.opts.URL, s.opts.DialTimeout)
	if err != nil {
		slog.Warn("store: redis unavailable, using in-process fallback", "err", err)
		metrics.SetStoreMode(string(ModeFallback))
		return
	}

	s.mu.Lock()
	s.active = rb
	s.mu.Unlock()

	metrics.SetStoreMode(string(ModeDurable))
	slog.Info("store: connected to redis", "addr", rb.rdb.Options().Addr)
}

// Mode reports the active backend.
func (s *Store) Mode() Mode {
	return s.backend().mode()
}

// Set JSON-encodes value and writes it under key. ttl <= 0 means no expiry.
// Errors are returned for logging; callers must not treat them as fatal.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %q: %w", key, err)
	}
	b := s.backend()
	if err := b.set(ctx, key, data, ttl); err != nil {
		metrics.RecordStoreWrite(string(b.mode()), false)
		return fmt.Errorf("store: set %q: %w", key, err)
	}
	metrics.RecordStoreWrite(string(b.mode()), true)
	return nil
}

// Get decodes the value under key into dst. It reports false when the key is
// absent, the backend errors, or the stored value does not decode into dst.
func (s *Store) Get(ctx context.Context, key string, dst any) bool {
	data, ok, err := s.backend().get(ctx, key)
	if err != nil {
		slog.Warn("store: get failed, treating as absent", "key", key, "err", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		slog.Debug("store: undecodable value, treating as absent", "key", key, "err", err)
		return false
	}
	return true
}

// Close releases the durable connection, if any, and stops the fallback
// janitor. Safe to call on a never-connected store.
func (s *Store) Close() error {
	s.mu.Lock()
	active := s.active
	s.active = s.fallback
	s.mu.Unlock()

	var err error
	if active != s.fallback {
		err = active.close()
	}
	s.fallback.close() //nolint:errcheck
	return err
}

func (s *Store) backend() backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// --- durable ----------------------------------------------------------------

type redisBackend struct {
	rdb *redis.Client
}

func dialRedis(ctx context.Context, url string, timeout time.Duration) (*redisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = timeout

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping %s: %w", opts.Addr, err)
	}
	return &redisBackend{rdb: rdb}, nil
}

func (b *redisBackend) mode() Mode { return ModeDurable }

func (b *redisBackend) set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return b.rdb.Set(ctx, key, val, ttl).Err()
}

func (b *redisBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *redisBackend) close() error { return b.rdb.Close() }

// --- fallback ---------------------------------------------------------------

type memoryBackend struct {
	cache *ttlcache.Cache[string, []byte]
	stop  sync.Once
}

func newMemoryBackend() *memoryBackend {
	c := ttlcache.New[string, []byte](
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go c.Start()
	return &memoryBackend{cache: c}
}

func (b *memoryBackend) mode() Mode { return ModeFallback }

func (b *memoryBackend) set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	b.cache.Set(key, val, ttl)
	return nil
}

func (b *memoryBackend) get(_ context.Context, key string) ([]byte, bool, error) {
	item := b.cache.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (b *memoryBackend) close() error {
	b.stop.Do(b.cache.Stop)
	return nil
}
