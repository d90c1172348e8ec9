package rules

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Loader produces a fresh Rules snapshot.
type Loader interface {
	Load(ctx context.Context) (Rules, error)
}

// FileLoader reads a YAML rules file. An empty Path serves Defaults.
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(_ context.Context) (Rules, error) {
	if strings.TrimSpace(l.Path) == "" {
		return Defaults(), nil
	}
	return Load(l.Path)
}

// RefreshPolicy decides whether a snapshot fetched at fetchedAt must be reloaded.
type RefreshPolicy interface {
	Stale(fetchedAt, now time.Time) bool
}

type TTLPolicy struct {
	TTL time.Duration
}

func (p TTLPolicy) Stale(fetchedAt, now time.Time) bool {
	if fetchedAt.IsZero() {
		return true
	}
	if p.TTL <= 0 {
		return false
	}
	return now.Sub(fetchedAt) >= p.TTL
}

// Cache holds the current snapshot and when it was fetched. Callers receive a
// pointer to a snapshot they must treat as read-only.
type Cache struct {
	loader Loader
	policy RefreshPolicy
	log    *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	value     *Rules
	fetchedAt time.Time
}

func NewCache(loader Loader, policy RefreshPolicy, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = TTLPolicy{TTL: time.Minute}
	}
	return &Cache{
		loader: loader,
		policy: policy,
		log:    logger,
		now:    time.Now,
	}
}

// Static wraps a fixed snapshot that never refreshes.
func Static(r Rules) *Cache {
	c := NewCache(nil, TTLPolicy{}, nil)
	c.value = &r
	c.fetchedAt = time.Now()
	return c
}

// Get returns the current snapshot, reloading it when the policy says it is
// stale. A failed reload keeps serving the previous snapshot if there is one.
func (c *Cache) Get(ctx context.Context) (*Rules, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.value != nil && (c.loader == nil || !c.policy.Stale(c.fetchedAt, now)) {
		return c.value, nil
	}
	next, err := c.loader.Load(ctx)
	if err != nil {
		if c.value != nil {
			c.log.Warn("rules refresh failed, serving previous snapshot", "err", err, "fetched_at", c.fetchedAt)
			return c.value, nil
		}
		return nil, err
	}
	c.value = &next
	c.fetchedAt = now
	return c.value, nil
}

// FetchedAt reports when the current snapshot was loaded.
func (c *Cache) FetchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAt
}
