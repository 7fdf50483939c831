package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/Skufu/DianaV2/internal/domain"
)

// RedisStore — Store поверх Redis (GET/SET без TTL: состояние тестов
// и референс живут до явной замены оператором)
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, &domain.PersistenceError{Op: "load", Key: key, Cause: err}
	}
	return data, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return &domain.PersistenceError{Op: "save", Key: key, Cause: err}
	}
	return nil
}
