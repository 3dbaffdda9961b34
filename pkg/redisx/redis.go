package redisx

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Address  string `json:"address" yaml:"address" mapstructure:"address"`
	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
	DB       int    `json:"db" yaml:"db" mapstructure:"db"`
	// RedisType 支持 standalone（默认）和 cluster
	RedisType string `json:"redisType" yaml:"redis-type" mapstructure:"redis-type"`
}

type Redis redis.Cmdable

// NewRedis 创建redis客户端，并验证连通性
func NewRedis(cfg RedisConfig) (Redis, error) {
	var redisClient Redis

	switch cfg.RedisType {
	case "standalone", "":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	case "cluster":
		redisClient = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    strings.Split(cfg.Address, ","),
			Username: cfg.Username,
			Password: cfg.Password,
		})
	default:
		return nil, errors.Errorf("不支持的redis类型: %s", cfg.RedisType)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, errors.WithMessagef(err, "连接redis失败, address: %s", cfg.Address)
	}
	return redisClient, nil
}
