package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"pulse/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = fmt.Errorf("cache miss")

// Cache Redis 缓存实现
//
// 保存已通过 bcrypt 慢校验的密钥（按 HMAC 摘要索引），
// 使后续请求跳过慢哈希比对。撤销/更新密钥时必须调用
// InvalidateVerifiedKey 使缓存失效
type Cache struct {
	client *redis.Client
	ctx    context.Context
}

// NewCache 创建 Redis 缓存实例
func NewCache(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})

	ctx := context.Background()

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{
		client: client,
		ctx:    ctx,
	}, nil
}

// Client 返回底层 Redis 客户端，供限流器与消息驱动复用同一连接池
func (c *Cache) Client() *redis.Client {
	return c.client
}

// ========== 已验证密钥缓存 ==========

// CacheVerifiedKey 缓存已通过慢校验的API密钥，按摘要索引
func (c *Cache) CacheVerifiedKey(digest string, apiKey *domain.APIKey, ttl time.Duration) error {
	key := fmt.Sprintf("apikey:verified:%s", digest)
	data, err := json.Marshal(apiKey)
	if err != nil {
		return err
	}
	return c.client.Set(c.ctx, key, data, ttl).Err()
}

// GetVerifiedKey 获取已缓存的验证结果
func (c *Cache) GetVerifiedKey(digest string) (*domain.APIKey, error) {
	key := fmt.Sprintf("apikey:verified:%s", digest)
	data, err := c.client.Get(c.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var apiKey domain.APIKey
	if err := json.Unmarshal([]byte(data), &apiKey); err != nil {
		return nil, err
	}

	return &apiKey, nil
}

// InvalidateVerifiedKey 使验证缓存失效（撤销或更新密钥时调用）
func (c *Cache) InvalidateVerifiedKey(digest string) error {
	key := fmt.Sprintf("apikey:verified:%s", digest)
	return c.client.Del(c.ctx, key).Err()
}

// ========== 聚合结果缓存 ==========

// CacheAggregate 缓存指标聚合结果，降低告警评估对存储的压力
func (c *Cache) CacheAggregate(cacheKey string, result *domain.AggregateResult, ttl time.Duration) error {
	key := fmt.Sprintf("aggregate:%s", cacheKey)
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.client.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedAggregate 获取缓存的聚合结果
func (c *Cache) GetCachedAggregate(cacheKey string) (*domain.AggregateResult, error) {
	key := fmt.Sprintf("aggregate:%s", cacheKey)
	data, err := c.client.Get(c.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var result domain.AggregateResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// ========== 工具方法 ==========

// Delete 删除键
func (c *Cache) Delete(key string) error {
	return c.client.Del(c.ctx, key).Err()
}

// Exists 检查键是否存在
func (c *Cache) Exists(key string) (bool, error) {
	count, err := c.client.Exists(c.ctx, key).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Health 检查 Redis 连接状态
func (c *Cache) Health() error {
	return c.client.Ping(c.ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.client.Close()
}
