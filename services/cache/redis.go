package cachesvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/bursar/core"
)

type RedisCache struct {
	client *redis.Client
}

var _ core.Cache = (*RedisCache)(nil)

// NewRedisCache connects to conf.Redis.URL, e.g: redis://:password@localhost:6379/0
func NewRedisCache(conf *core.Config) (*RedisCache, error) {
	opts, err := redis.ParseURL(conf.Redis.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "getting %s", key)
	}
	if err = json.Unmarshal(data, dst); err != nil {
		return false, errors.Wrapf(err, "decoding %s", key)
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", key)
	}
	return errors.Wrapf(c.client.Set(ctx, key, data, ttl).Err(), "setting %s", key)
}

func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	return n, errors.Wrapf(err, "incrementing %s", key)
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
