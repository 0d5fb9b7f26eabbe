package stores

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRecordExists is returned by Save when the hash is already taken.
var ErrRecordExists = errors.New("record already exists")

// retentionTTL is the Redis TTL for a record expiring at expiresAt. Records
// outlive their expiry so a late lookup still reports the precise state;
// Sweep normally removes them well before the TTL fires.
func retentionTTL(expiresAt int64, now time.Time, retention time.Duration) time.Duration {
	ttl := time.Unix(expiresAt, 0).Sub(now) + retention
	if ttl < retention {
		return retention
	}
	return ttl
}

// sweepExpired walks the expiry index and deletes records past their expiry.
// Each deletion is WATCHed on the record key so a record that a concurrent
// Consume or Revoke is touching is left for the next pass.
func sweepExpired(
	ctx context.Context,
	client redis.UniversalClient,
	indexKey string,
	keyPrefix string,
	batch int64,
	now time.Time,
	expiryOf func([]byte) (int64, error),
) (int, error) {
	if batch <= 0 {
		batch = 500
	}
	members, err := client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: batch,
	}).Result()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, member := range members {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		key := keyPrefix + member
		var removed bool
		err := client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				// Undecodable records are swept too.
				if exp, decErr := expiryOf(data); decErr == nil && exp > now.Unix() {
					return nil
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, indexKey, member)
				return nil
			})
			if err != nil {
				return err
			}
			removed = data != nil
			return nil
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return deleted, err
		}
		if removed {
			deleted++
		}
	}
	return deleted, nil
}
