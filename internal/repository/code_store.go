// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// CodeStore 定义了一次性验证码与 access token 黑名单的存储接口。
// 两者都是带 TTL 的短命状态，由 Redis 承载。
type CodeStore interface {
	SetCode(ctx context.Context, kind, key, code string, ttl time.Duration) error
	// GetCode 返回存储的验证码；不存在时返回空串而非错误。
	GetCode(ctx context.Context, kind, key string) (string, error)
	DeleteCode(ctx context.Context, kind, key string) error
	// BlacklistToken 将 access token 加入黑名单，TTL 取 token 的剩余有效期。
	BlacklistToken(ctx context.Context, token string, ttl time.Duration) error
	IsTokenBlacklisted(ctx context.Context, token string) (bool, error)
	// MarkFamilyRevoked 记录一个已被整体撤销的令牌家族，
	// 使该家族已签发的 access token 立即失效。TTL 取 access token 的有效期。
	MarkFamilyRevoked(ctx context.Context, familyID string, ttl time.Duration) error
	IsFamilyRevoked(ctx context.Context, familyID string) (bool, error)
}

type redisCodeStore struct {
	redisClient *redis.Client
}

// NewCodeStore 创建一个新的 CodeStore 实例。
func NewCodeStore(redisClient *redis.Client) CodeStore {
	return &redisCodeStore{redisClient: redisClient}
}

// SetCode 存储一个验证码，TTL 到期后自动失效。
func (r *redisCodeStore) SetCode(ctx context.Context, kind, key, code string, ttl time.Duration) error {
	redisKey := fmt.Sprintf("code:%s:%s", kind, key)
	if err := r.redisClient.Set(ctx, redisKey, code, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s code: %w", kind, err)
	}
	return nil
}

// GetCode 读取验证码，key 不存在时返回空串。
func (r *redisCodeStore) GetCode(ctx context.Context, kind, key string) (string, error) {
	redisKey := fmt.Sprintf("code:%s:%s", kind, key)
	code, err := r.redisClient.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s code: %w", kind, err)
	}
	return code, nil
}

// DeleteCode 删除已消费的验证码。
func (r *redisCodeStore) DeleteCode(ctx context.Context, kind, key string) error {
	redisKey := fmt.Sprintf("code:%s:%s", kind, key)
	return r.redisClient.Del(ctx, redisKey).Err()
}

// BlacklistToken 将 access token 加入黑名单。
func (r *redisCodeStore) BlacklistToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil // 已过期的 token 无需入黑名单
	}
	return r.redisClient.Set(ctx, "blacklist:"+token, "true", ttl).Err()
}

// IsTokenBlacklisted 检查 access token 是否在黑名单中。
func (r *redisCodeStore) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	_, err := r.redisClient.Get(ctx, "blacklist:"+token).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkFamilyRevoked 标记一个已被整体撤销的令牌家族。
// 标记的存活窗口等于 access token 的有效期，窗口过后该家族的
// access token 已全部自然过期，无需继续占用存储。
func (r *redisCodeStore) MarkFamilyRevoked(ctx context.Context, familyID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.redisClient.Set(ctx, "revoked-family:"+familyID, "true", ttl).Err()
}

// IsFamilyRevoked 检查令牌家族是否已被整体撤销。
func (r *redisCodeStore) IsFamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	_, err := r.redisClient.Get(ctx, "revoked-family:"+familyID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
