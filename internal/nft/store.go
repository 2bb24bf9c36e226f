package nft

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"time"

	xerrors "github.com/RosarioB/eliza-nft/internal/errors"
	"github.com/RosarioB/eliza-nft/internal/storage"
)

// DefaultTTL 是记录最后一次写入后的保留时间。
const DefaultTTL = 10 * time.Minute

// Store 在字节级缓存之上读写 Record。
type Store struct {
	cache storage.Cache
	ttl   time.Duration
	now   func() time.Time
}

// StoreOption 定义可选配置。
type StoreOption func(*Store)

// WithTTL 设置记录的过期时间。
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock 替换时间源，主要用于测试。
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore 创建记录存储。
func NewStore(cache storage.Cache, opts ...StoreOption) *Store {
	s := &Store{cache: cache, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// TTL 返回当前的过期策略。
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Load 读取记录，不存在或已过期时返回空记录。
func (s *Store) Load(ctx context.Context, key string) (Record, error) {
	if s == nil || s.cache == nil {
		return Record{}, xerrors.New(xerrors.CodeInitializationFailure, "记录存储未初始化")
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if stdErrors.Is(err, storage.ErrNotFound) {
			return Empty(), nil
		}
		return Record{}, xerrors.Wrap(xerrors.CodeCacheFailure, err, "读取记录失败", xerrors.WithMetadata("key", key))
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, xerrors.Wrap(xerrors.CodeCacheFailure, err, "解析记录失败", xerrors.WithMetadata("key", key))
	}
	if record.State == "" {
		record.State = StateCollecting
	}
	return record, nil
}

// Save 写入记录，过期时间从本次写入开始计算。
func (s *Store) Save(ctx context.Context, key string, record Record) error {
	if s == nil || s.cache == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "记录存储未初始化")
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeCacheFailure, err, "序列化记录失败", xerrors.WithMetadata("key", key))
	}
	if err := s.cache.Set(ctx, key, encoded, s.now().Add(s.ttl)); err != nil {
		return xerrors.Wrap(xerrors.CodeCacheFailure, err, "写入记录失败", xerrors.WithMetadata("key", key))
	}
	return nil
}

// Reset 删除记录，相当于提前过期。
func (s *Store) Reset(ctx context.Context, key string) error {
	if s == nil || s.cache == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "记录存储未初始化")
	}
	if err := s.cache.Delete(ctx, key); err != nil && !stdErrors.Is(err, storage.ErrNotFound) {
		return xerrors.Wrap(xerrors.CodeCacheFailure, err, "删除记录失败", xerrors.WithMetadata("key", key))
	}
	return nil
}
