package cache

import (
	"context"
	"sync"

	"github.com/trezcool/examinator/core/user"
)

type memoryPermissionCache struct {
	mutex sync.RWMutex
	perms map[string][]string
	gens  map[string]int64 // bumped by every invalidation
}

var _ user.PermissionCache = (*memoryPermissionCache)(nil) // interface compliance check

// NewMemoryPermissionCache returns a process-local cache, used when no Redis is configured.
func NewMemoryPermissionCache() user.PermissionCache {
	return &memoryPermissionCache{
		perms: make(map[string][]string),
		gens:  make(map[string]int64),
	}
}

func (c *memoryPermissionCache) Get(ctx context.Context, userID string) ([]string, int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	perms, ok := c.perms[userID]
	if !ok {
		return nil, c.gens[userID], user.ErrCacheMissed
	}
	return append(make([]string, 0, len(perms)), perms...), c.gens[userID], nil
}

func (c *memoryPermissionCache) Set(ctx context.Context, userID string, codenames []string, gen int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.gens[userID] != gen {
		return nil
	}
	c.perms[userID] = append(make([]string, 0, len(codenames)), codenames...)
	return nil
}

func (c *memoryPermissionCache) Invalidate(ctx context.Context, userIDs ...string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, id := range userIDs {
		delete(c.perms, id)
		c.gens[id]++
	}
	return nil
}
