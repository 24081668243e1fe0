package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// RedisClient owns the connection pool shared by the ledger, queue and lease stores
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client connection
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		// High-performance settings for flash sale load
		PoolSize:     100,
		MinIdleConns: 25,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// WrapRedisClient adopts an already configured go-redis client
func WrapRedisClient(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// Connection management
func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// GetConnectionStats returns pool statistics
func (r *RedisClient) GetConnectionStats() *redis.PoolStats {
	return r.client.PoolStats()
}

// HealthCheck reports connectivity and pool usage
func (r *RedisClient) HealthCheck(ctx context.Context) map[string]interface{} {
	health := make(map[string]interface{})

	if err := r.client.Ping(ctx).Err(); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		return health
	}

	health["status"] = "healthy"

	stats := r.client.PoolStats()
	health["pool_stats"] = map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}

	if dbSize, err := r.client.DBSize(ctx).Result(); err == nil {
		health["total_keys"] = dbSize
	}

	return health
}

// RedisLease implements interfaces.Lease with SET NX PX
type RedisLease struct {
	client *redis.Client
	owner  string
}

// NewRedisLease creates a lease store identified by a random owner token
func NewRedisLease(rc *RedisClient) *RedisLease {
	return &RedisLease{client: rc.client, owner: uuid.NewString()}
}

// Acquire takes the named lease for ttl. It also succeeds when this process already holds it.
func (l *RedisLease) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	key := "lease:" + name
	ok, err := l.client.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return false, models.NewTransientStoreError("lease acquire", err)
	}
	if ok {
		return true, nil
	}

	holder, err := l.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, models.NewTransientStoreError("lease acquire", err)
	}
	if holder != l.owner {
		return false, nil
	}
	if err := l.client.PExpire(ctx, key, ttl).Err(); err != nil {
		return false, models.NewTransientStoreError("lease acquire", err)
	}
	return true, nil
}

// scriptInts converts a Lua table reply of integers
func scriptInts(result interface{}, want int) ([]int64, error) {
	res, ok := result.([]interface{})
	if !ok || len(res) < want {
		return nil, fmt.Errorf("unexpected result from Lua script: %v", result)
	}

	out := make([]int64, len(res))
	for i, v := range res {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected element %d type from Lua script: %T", i, v)
		}
		out[i] = n
	}
	return out, nil
}

func toMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func fromMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func decodeJSON(raw string, dest interface{}) error {
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("invalid stored value: %w", err)
	}
	return nil
}
