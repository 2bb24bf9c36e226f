// Package memory 提供进程内的缓存与按键互斥实现，适用于单实例部署和测试。
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/RosarioB/eliza-nft/internal/storage"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache 以 map 保存数据，读取时惰性淘汰过期键。
type Cache struct {
	mu    sync.RWMutex
	items map[string]entry
	now   func() time.Time
}

// NewCache 创建内存缓存。
func NewCache() *Cache {
	return &Cache{items: make(map[string]entry), now: time.Now}
}

// NewCacheWithClock 使用自定义时间源创建缓存。
func NewCacheWithClock(now func() time.Time) *Cache {
	c := NewCache()
	if now != nil {
		c.now = now
	}
	return c
}

// Get 实现 storage.Cache。
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	if c.expired(item) {
		c.mu.Lock()
		if current, ok := c.items[key]; ok && c.expired(current) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

// Set 实现 storage.Cache。零值 expiresAt 表示永不过期。
func (c *Cache) Set(_ context.Context, key string, value []byte, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry{value: append([]byte(nil), value...), expiresAt: expiresAt}
	return nil
}

// Delete 实现 storage.Cache。
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// Sweep 删除所有已过期的键并返回删除数量。
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, item := range c.items {
		if c.expired(item) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Len 返回当前保存的键数量（包括尚未淘汰的过期键）。
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) expired(item entry) bool {
	return !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt)
}

var _ storage.Cache = (*Cache)(nil)
