package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/examinator/core/user"
)

const (
	permKeyPrefix = "perms:"
	genKeyPrefix  = "perms-gen:"
	permTTL       = 1 * time.Hour
	genTTL        = 2 * permTTL // outlives any entry it guards
)

// RedisPermissionCache shares cached permission sets between API instances.
type RedisPermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ user.PermissionCache = (*RedisPermissionCache)(nil) // interface compliance check

// NewRedisPermissionCache connects to redisURL and checks the connection.
func NewRedisPermissionCache(redisURL string) (*RedisPermissionCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return &RedisPermissionCache{client: client, ttl: permTTL}, nil
}

func permKey(userID string) string {
	return permKeyPrefix + userID
}

func genKey(userID string) string {
	return genKeyPrefix + userID
}

func (c *RedisPermissionCache) Get(ctx context.Context, userID string) ([]string, int64, error) {
	var permsCmd, genCmd *redis.StringCmd
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		permsCmd = pipe.Get(ctx, permKey(userID))
		genCmd = pipe.Get(ctx, genKey(userID))
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, 0, errors.Wrap(err, "reading cached permissions")
	}

	gen, err := genCmd.Int64()
	if err != nil && err != redis.Nil {
		return nil, 0, errors.Wrap(err, "reading cache generation")
	}
	val, err := permsCmd.Bytes()
	if err == redis.Nil {
		return nil, gen, user.ErrCacheMissed
	}
	if err != nil {
		return nil, 0, errors.Wrap(err, "reading cached permissions")
	}
	var perms []string
	if err := json.Unmarshal(val, &perms); err != nil {
		return nil, 0, errors.Wrap(err, "decoding cached permissions")
	}
	return perms, gen, nil
}

// Set caches codenames unless the user was invalidated since gen was read. The generation
// key is watched so that a concurrent invalidation aborts the write.
func (c *RedisPermissionCache) Set(ctx context.Context, userID string, codenames []string, gen int64) error {
	if codenames == nil {
		codenames = []string{}
	}
	data, err := json.Marshal(codenames)
	if err != nil {
		return errors.Wrap(err, "encoding permissions")
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey(userID)).Int64()
		if err != nil && err != redis.Nil {
			return errors.Wrap(err, "reading cache generation")
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, permKey(userID), data, c.ttl)
			return nil
		})
		return err
	}, genKey(userID))
	if err == redis.TxFailedErr {
		return nil
	}
	return errors.Wrap(err, "caching permissions")
}

func (c *RedisPermissionCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			pipe.Del(ctx, permKey(id))
			pipe.Incr(ctx, genKey(id))
			pipe.Expire(ctx, genKey(id), genTTL)
		}
		return nil
	})
	return errors.Wrap(err, "invalidating cached permissions")
}

func (c *RedisPermissionCache) Close() error {
	return c.client.Close()
}
