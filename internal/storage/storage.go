// Package storage 定义参与者记录所需的键值缓存与按键互斥抽象，
// 具体实现位于 memory、redis、dynamodb 子包。
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 表示键不存在或已过期。
var ErrNotFound = errors.New("storage: key not found")

// Cache 是带过期时间的键值存储。
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	Delete(ctx context.Context, key string) error
}

// Locker 为同一个键上的读改写提供串行化。
// 返回的 unlock 必须且只能调用一次。
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}
