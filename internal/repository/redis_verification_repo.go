package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/socialauth/internal/model"
)

const verificationKeyPrefix = "socialauth:verification:"

// redisVerificationRecord はRedisに保存するVerificationのJSON表現。
type redisVerificationRecord struct {
	ID        string    `json:"id"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// RedisVerificationRepo はRedisを使用したVerificationリポジトリ。
// 失効はキーのTTLに任せるため、DeleteExpiredは何もしない。
type RedisVerificationRepo struct {
	client *redis.Client
}

// NewRedisVerificationRepo はRedisVerificationRepoを生成する。
func NewRedisVerificationRepo(client *redis.Client) *RedisVerificationRepo {
	return &RedisVerificationRepo{client: client}
}

func verificationKey(identifier string) string {
	return verificationKeyPrefix + identifier
}

// Create はVerificationを保存する。IDとIdentifierを生成してvに設定する。
// キーのTTLはExpiresAtとCreatedAtの差分とする。
func (r *RedisVerificationRepo) Create(ctx context.Context, v *model.Verification) error {
	ttl := v.ExpiresAt.Sub(v.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("verification already expired: expires_at=%s", v.ExpiresAt)
	}

	identifier, err := newIdentifier()
	if err != nil {
		return err
	}
	id := uuid.New().String()

	data, err := json.Marshal(redisVerificationRecord{
		ID:        id,
		Value:     v.Value,
		ExpiresAt: v.ExpiresAt.UTC(),
		CreatedAt: v.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode verification: %w", err)
	}

	ok, err := r.client.SetNX(ctx, verificationKey(identifier), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create verification: %w", err)
	}
	if !ok {
		return fmt.Errorf("failed to create verification: %w", ErrDuplicate)
	}

	v.ID = id
	v.Identifier = identifier
	return nil
}

// Consume はGETDELでVerificationを取得と同時に削除する。見つからない場合はnilを返す。
func (r *RedisVerificationRepo) Consume(ctx context.Context, identifier string) (*model.Verification, error) {
	data, err := r.client.GetDel(ctx, verificationKey(identifier)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification: %w", err)
	}

	var rec redisVerificationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode verification: %w", err)
	}

	return &model.Verification{
		ID:         rec.ID,
		Identifier: identifier,
		Value:      rec.Value,
		ExpiresAt:  rec.ExpiresAt,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

// DeleteExpired はRedis側のTTLで失効するため常に0を返す。
func (r *RedisVerificationRepo) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// compile-time interface check
var _ VerificationRepository = (*RedisVerificationRepo)(nil)
