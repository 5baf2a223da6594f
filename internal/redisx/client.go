package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	r := redis.NewClient(&redis.Options{Addr: addr})
	return r.WithTimeout(2 * time.Second)
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// TxSet is the durable consumed-transaction-id set backing the polling
// reconciler. Entries survive restarts; the TTL is refreshed on every write
// so the set ages out long after any payment window has closed.
type TxSet struct {
	RDB *redis.Client
	Key string
	TTL time.Duration
}

func (s *TxSet) Consumed(ctx context.Context, txid string) (bool, error) {
	return s.RDB.SIsMember(ctx, s.Key, txid).Result()
}

func (s *TxSet) Consume(ctx context.Context, txid string) error {
	if err := s.RDB.SAdd(ctx, s.Key, txid).Err(); err != nil {
		return err
	}
	return s.RDB.Expire(ctx, s.Key, s.TTL).Err()
}
