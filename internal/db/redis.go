package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pysugar/mailauth/internal/auth/token"
)

const (
	redisKeyPrefix = "mailauth:account:"
	redisIndexKey  = "mailauth:accounts"
)

// RedisStore keeps each account as a JSON value plus a set of known ids.
type RedisStore struct {
	client redis.UniversalClient
}

var _ token.Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func accountKey(id string) string { return redisKeyPrefix + id }

func (s *RedisStore) SaveAccount(ctx context.Context, acc token.Account) error {
	payload, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", acc.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, accountKey(acc.ID), payload, 0)
		pipe.SAdd(ctx, redisIndexKey, acc.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist account %s: %w", acc.ID, err)
	}
	return nil
}

func (s *RedisStore) LoadAccounts(ctx context.Context) ([]token.Account, error) {
	ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = accountKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	return decodeAccounts(ids, values)
}

// decodeAccounts pairs MGET results with their ids. Ids whose key has
// vanished are skipped.
func decodeAccounts(ids []string, values []any) ([]token.Account, error) {
	accounts := make([]token.Account, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var acc token.Account
		if err := json.Unmarshal([]byte(raw), &acc); err != nil {
			return nil, fmt.Errorf("decode account %s: %w", ids[i], err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}
