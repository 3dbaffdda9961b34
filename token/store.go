// Package token persists the access/refresh token pair between runs.
package token

import (
	"context"
	"fmt"

	"github.com/hatcher/kbchat/pkg/redisx"
	"github.com/hatcher/kbchat/pkg/util"
)

// Fixed storage keys. The pair survives restarts and is cleared on logout
// or when a refresh attempt fails for good.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (p Pair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

type Store interface {
	Save(ctx context.Context, pair Pair) error
	Load(ctx context.Context) (Pair, error)
	Clear(ctx context.Context) error
}

type Config struct {
	Type   string                 `json:"type" yaml:"type" mapstructure:"type"`
	Option map[string]interface{} `json:"option" yaml:"option" mapstructure:"option"`
}

func NewStore(cfg Config) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "file", "":
		fileConfig, err := util.Convert[FileConfig](cfg.Option)
		if err != nil {
			return nil, err
		}
		return NewFileStore(*fileConfig)
	case "redis":
		redisConfig, err := util.Convert[RedisOption](cfg.Option)
		if err != nil {
			return nil, err
		}
		cli, err := redisx.NewRedis(redisConfig.RedisConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to initial redis token store client: %s", err)
		}
		return &RedisStore{RedisCli: cli, Prefix: redisConfig.Prefix}, nil
	default:
		return nil, fmt.Errorf("unknown token store type: %s", cfg.Type)
	}
}
