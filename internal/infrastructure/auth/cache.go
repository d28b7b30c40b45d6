package auth

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/infrastructure/logger"
)

// DefaultCacheCapacity bounds the number of per-tenant credential managers.
const DefaultCacheCapacity = 100

// Cache is a bounded LRU of credential managers keyed by refresh token, used
// in multi-tenant mode where every request may carry its own token. The
// mutex makes getOrCreate atomic: two concurrent misses on the same key
// produce one manager.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, *Manager]
	tmpl   ManagerConfig // template; RefreshToken is overridden per entry
	logger *zap.Logger
}

// NewCache builds a manager cache. capacity <= 0 uses the default.
func NewCache(capacity int, tmpl ManagerConfig, log *zap.Logger) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	inner, err := lru.New[string, *Manager](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{
		lru:    inner,
		tmpl:   tmpl,
		logger: log.With(zap.String("component", "credential-cache")),
	}, nil
}

// GetOrCreate returns the manager for refreshToken, constructing one on a
// miss. Hits move the key to most-recently-used; inserts beyond capacity
// evict the least-recently-used manager.
func (c *Cache) GetOrCreate(refreshToken, region, profileArn string) (*Manager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.lru.Get(refreshToken); ok {
		return m, nil
	}

	cfg := c.tmpl
	cfg.RefreshToken = refreshToken
	cfg.CredsSource = "" // per-tenant managers never persist to disk
	if region != "" {
		cfg.Region = region
	}
	if profileArn != "" {
		cfg.ProfileArn = profileArn
	}

	m, err := NewManager(cfg, c.logger)
	if err != nil {
		return nil, err
	}
	if evicted := c.lru.Add(refreshToken, m); evicted {
		c.logger.Debug("Evicted least-recently-used credential manager")
	}
	c.logger.Info("Created credential manager",
		zap.String("refresh_token", logger.RedactToken(refreshToken)))
	return m, nil
}

// Len returns the number of cached managers.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Contains reports whether a manager exists for the token without updating
// recency.
func (c *Cache) Contains(refreshToken string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(refreshToken)
}
