// Package redis guarda los contadores del rate governor en Redis, compartidos
// entre todas las instancias de la API.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"herb-trace/internal/domain/ratelimit"
)

// fixedWindowScript incrementa y fija el TTL en la misma operación.
// KEYS[1] = clave de la ventana
// ARGV[1] = largo de la ventana en ms
// Devuelve {count, pttl_ms}.
var fixedWindowScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

type CounterStore struct {
	client goredis.UniversalClient
	prefix string
}

var _ ratelimit.CounterStore = (*CounterStore)(nil)

func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		MaxRetries:   1,
	})
}

func NewCounterStore(client goredis.UniversalClient, prefix string) *CounterStore {
	return &CounterStore{client: client, prefix: prefix}
}

func (s *CounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := fixedWindowScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis counter: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, 0, fmt.Errorf("redis counter: unexpected script reply %T", res)
	}
	count, ok1 := vals[0].(int64)
	ttlMs, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("redis counter: unexpected script reply %v", vals)
	}
	return count, time.Duration(ttlMs) * time.Millisecond, nil
}

func (s *CounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
