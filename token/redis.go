package token

import (
	"context"
	"fmt"

	"github.com/hatcher/kbchat/pkg/redisx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisOption struct {
	redisx.RedisConfig `mapstructure:",squash"`
	Prefix             string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
}

// RedisStore shares the pair across processes, e.g. several tools on one host
// driving the same account.
type RedisStore struct {
	RedisCli redisx.Redis
	Prefix   string
}

func (r *RedisStore) key(name string) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = "kbchat"
	}
	return fmt.Sprintf("%s:%s", prefix, name)
}

func (r *RedisStore) Save(ctx context.Context, pair Pair) error {
	if err := r.RedisCli.Set(ctx, r.key(AccessTokenKey), pair.AccessToken, 0).Err(); err != nil {
		return err
	}
	return r.RedisCli.Set(ctx, r.key(RefreshTokenKey), pair.RefreshToken, 0).Err()
}

func (r *RedisStore) Load(ctx context.Context) (Pair, error) {
	access, err := r.RedisCli.Get(ctx, r.key(AccessTokenKey)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Pair{}, err
	}
	refresh, err := r.RedisCli.Get(ctx, r.key(RefreshTokenKey)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	return r.RedisCli.Del(ctx, r.key(AccessTokenKey), r.key(RefreshTokenKey)).Err()
}
