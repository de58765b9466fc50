package nonce

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v7"
)

// RedisCoordinator is a Coordinator backed by Redis, satisfying the
// durability and atomic-increment requirements the spec places on the
// backing store. go-redis/v7's GET/SET/SETNX/EXISTS/INCR/EXPIRE/DEL/LPUSH/RPOP cover every
// operation Initialize/GetAndIncrement/Set/ReturnNonce need without any
// client-side locking.
type RedisCoordinator struct {
	rdb *redis.Client
}

// NewRedisCoordinator wraps an already-connected *redis.Client.
func NewRedisCoordinator(rdb *redis.Client) *RedisCoordinator {
	return &RedisCoordinator{rdb: rdb}
}

func wrapRedisErr(op string, err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func (c *RedisCoordinator) Initialize(ctx context.Context, signer, chain, network string, networkNonce uint64) error {
	key := slotKey(chain, network, signer)
	cur, ok, err := c.Get(ctx, signer, chain, network)
	if err != nil {
		return err
	}
	target := networkNonce
	if ok && cur > target {
		target = cur
	}
	if err := c.rdb.Set(key, strconv.FormatUint(target, 10), DefaultTTL).Err(); err != nil {
		return wrapRedisErr("initialize nonce slot", err)
	}
	return nil
}

func (c *RedisCoordinator) GetAndIncrement(ctx context.Context, signer, chain, network string) (uint64, error) {
	// Drain the reuse pool first (resolution of the open question in
	// DESIGN.md): a returned nonce is reused before the monotonic counter
	// advances, so a single failed-then-returned nonce never leaves a
	// permanent gap.
	if n, ok, perr := c.popReuse(chain, network, signer); perr != nil {
		return 0, perr
	} else if ok {
		return n, nil
	}

	key := slotKey(chain, network, signer)
	first := false
	if exists, err := c.rdb.Exists(key).Result(); err != nil {
		return 0, wrapRedisErr("check nonce slot existence", err)
	} else if exists == 0 {
		first = true
	}

	n, err := c.rdb.Incr(key).Result()
	if err != nil {
		return 0, wrapRedisErr("increment nonce slot", err)
	}
	if first {
		if err := c.rdb.Expire(key, DefaultTTL).Err(); err != nil {
			return 0, wrapRedisErr("set nonce slot ttl", err)
		}
	}
	// INCR returns the post-increment value; GetAndIncrement contracts to
	// return the pre-increment value.
	return uint64(n) - 1, nil
}

func (c *RedisCoordinator) Set(ctx context.Context, signer, chain, network string, n uint64) error {
	key := slotKey(chain, network, signer)
	if err := c.rdb.Set(key, strconv.FormatUint(n, 10), DefaultTTL).Err(); err != nil {
		return wrapRedisErr("set nonce slot", err)
	}
	return nil
}

func (c *RedisCoordinator) Get(ctx context.Context, signer, chain, network string) (uint64, bool, error) {
	key := slotKey(chain, network, signer)
	val, err := c.rdb.Get(key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapRedisErr("get nonce slot", err)
	}
	n, perr := strconv.ParseUint(val, 10, 64)
	if perr != nil {
		return 0, false, fmt.Errorf("parse nonce slot value %q: %w", val, perr)
	}
	return n, true, nil
}

func (c *RedisCoordinator) Clear(ctx context.Context, signer, chain, network string) error {
	key := slotKey(chain, network, signer)
	if err := c.rdb.Del(key).Err(); err != nil {
		return wrapRedisErr("clear nonce slot", err)
	}
	return nil
}

func (c *RedisCoordinator) IsNonceDuplicate(ctx context.Context, signer, chain, network string, n uint64) (bool, error) {
	key := usedKey(chain, network, signer, n)
	ok, err := c.rdb.SetNX(key, "1", DuplicateWindow).Result()
	if err != nil {
		return false, wrapRedisErr("check nonce duplicate marker", err)
	}
	// SetNX returns true when the key was newly set, i.e. not a duplicate.
	return !ok, nil
}

func (c *RedisCoordinator) ReturnNonce(ctx context.Context, signer, chain, network string, n uint64) error {
	if err := c.rdb.LPush(poolKey(chain, network, signer), strconv.FormatUint(n, 10)).Err(); err != nil {
		return wrapRedisErr("return nonce to pool", err)
	}
	return nil
}

// popReuse pops the oldest returned nonce for (signer, chain, network), if any.
func (c *RedisCoordinator) popReuse(chain, network, signer string) (uint64, bool, error) {
	val, err := c.rdb.RPop(poolKey(chain, network, signer)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapRedisErr("pop reuse pool", err)
	}
	n, perr := strconv.ParseUint(val, 10, 64)
	if perr != nil {
		return 0, false, fmt.Errorf("parse reuse pool value %q: %w", val, perr)
	}
	return n, true, nil
}
