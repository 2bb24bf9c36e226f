// Package dynamodb 使用 DynamoDB 表实现 storage.Cache。
//
// 表结构：分区键 key(S)，值 value(B)，过期时间 expires_at(N, Unix 秒)。
// expires_at 可直接配置为表的 TTL 属性；由于 DynamoDB 的 TTL 删除存在延迟，
// 读取时也会过滤已过期的条目。
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/RosarioB/eliza-nft/internal/storage"
)

const (
	attrKey       = "key"
	attrValue     = "value"
	attrExpiresAt = "expires_at"
)

// API 是缓存依赖的 DynamoDB 方法子集，*dynamodb.Client 满足该接口。
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Cache 将每条记录保存为表中的一项。
type Cache struct {
	api       API
	tableName string
	now       func() time.Time
}

// New 创建 DynamoDB 缓存。
func New(api API, tableName string) (*Cache, error) {
	if api == nil {
		return nil, errors.New("dynamodb: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamodb: table name must not be empty")
	}
	return &Cache{api: api, tableName: tableName, now: time.Now}, nil
}

func (c *Cache) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey: &types.AttributeValueMemberS{Value: key},
	}
}

// Get 实现 storage.Cache。
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, storage.ErrNotFound
	}

	if raw, ok := out.Item[attrExpiresAt].(*types.AttributeValueMemberN); ok {
		expires, err := strconv.ParseInt(raw.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("dynamodb: decode %s: %w", attrExpiresAt, err)
		}
		if expires > 0 && !c.now().Before(time.Unix(expires, 0)) {
			return nil, storage.ErrNotFound
		}
	}

	value, ok := out.Item[attrValue].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("dynamodb: attribute %q missing or not binary", attrValue)
	}
	return value.Value, nil
}

// Set 实现 storage.Cache。零值 expiresAt 不写入过期属性。
func (c *Cache) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	item := c.itemKey(key)
	item[attrValue] = &types.AttributeValueMemberB{Value: value}
	if !expiresAt.IsZero() {
		// TTL 属性精度为秒，向上取整避免提前过期。
		secs := expiresAt.Unix()
		if expiresAt.Nanosecond() > 0 {
			secs++
		}
		item[attrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(secs, 10)}
	}

	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamodb: put item: %w", err)
	}
	return nil
}

// Delete 实现 storage.Cache。
func (c *Cache) Delete(ctx context.Context, key string) error {
	if _, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.itemKey(key),
	}); err != nil {
		return fmt.Errorf("dynamodb: delete item: %w", err)
	}
	return nil
}

var _ storage.Cache = (*Cache)(nil)
