package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// admissionRetention bounds the admissions log kept per sale
const admissionRetention = time.Hour

// RedisQueue implements interfaces.QueueStore.
//
// Layout per sale, all keys hash-tagged on the sale id:
//
//	queue:{id}:waiting     ZSET user -> join sequence, waiting entries only
//	queue:{id}:seen        ZSET user -> last seen ms, waiting entries only
//	queue:{id}:seq         INCR counter giving the join order
//	queue:{id}:entries     HASH user -> json entry
//	queue:{id}:admissions  ZSET "user:ms" -> ms
type RedisQueue struct {
	client *redis.Client

	joinScript      *redis.Script
	rankScript      *redis.Script
	touchScript     *redis.Script
	setStatusScript *redis.Script
	evictScript     *redis.Script
}

// KEYS: waiting, seen, seq, entries
// ARGV[1]: user id, ARGV[2]: now ms
// Returns {created, entry json}
const joinLua = `
	local raw = redis.call('HGET', KEYS[4], ARGV[1])
	if raw then
		local e = cjson.decode(raw)
		if e.status ~= 'cancelled' and e.status ~= 'dropped' then
			if e.status == 'waiting' then
				e.seen = ARGV[2]
				raw = cjson.encode(e)
				redis.call('HSET', KEYS[4], ARGV[1], raw)
				redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
			end
			return {0, raw}
		end
	end

	local seq = redis.call('INCR', KEYS[3])
	local enc = cjson.encode({joined = ARGV[2], seq = tostring(seq), seen = ARGV[2], status = 'waiting'})
	redis.call('HSET', KEYS[4], ARGV[1], enc)
	redis.call('ZADD', KEYS[1], seq, ARGV[1])
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])

	return {1, enc}
`

// KEYS: waiting
// Returns {ahead, total}; ahead is -1 when the user is not waiting
const rankLua = `
	local total = redis.call('ZCARD', KEYS[1])
	local r = redis.call('ZRANK', KEYS[1], ARGV[1])
	if not r then
		return {-1, total}
	end
	return {r, total}
`

// KEYS: seen, entries
// ARGV[1]: user id, ARGV[2]: now ms
const touchLua = `
	local raw = redis.call('HGET', KEYS[2], ARGV[1])
	if not raw then
		return 0
	end
	local e = cjson.decode(raw)
	if e.status ~= 'waiting' then
		return 0
	end
	e.seen = ARGV[2]
	redis.call('HSET', KEYS[2], ARGV[1], cjson.encode(e))
	redis.call('ZADD', KEYS[1], 'XX', ARGV[2], ARGV[1])
	return 1
`

// KEYS: waiting, seen, entries
// ARGV[1]: user id, ARGV[2]: status, ARGV[3]: now ms
const setStatusLua = `
	local raw = redis.call('HGET', KEYS[3], ARGV[1])
	if not raw then
		return 0
	end
	local e = cjson.decode(raw)
	e.status = ARGV[2]
	e.seen = ARGV[3]
	redis.call('HSET', KEYS[3], ARGV[1], cjson.encode(e))
	if ARGV[2] == 'waiting' then
		redis.call('ZADD', KEYS[1], tonumber(e.seq), ARGV[1])
		redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
	else
		redis.call('ZREM', KEYS[1], ARGV[1])
		redis.call('ZREM', KEYS[2], ARGV[1])
	end
	return 1
`

// KEYS: waiting, seen, entries
// ARGV[1]: idle-before ms (exclusive), ARGV[2]: now ms
const evictLua = `
	local users = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', '(' .. ARGV[1])
	for _, user in ipairs(users) do
		local raw = redis.call('HGET', KEYS[3], user)
		if raw then
			local e = cjson.decode(raw)
			e.status = 'dropped'
			e.seen = ARGV[2]
			redis.call('HSET', KEYS[3], user, cjson.encode(e))
		end
		redis.call('ZREM', KEYS[1], user)
		redis.call('ZREM', KEYS[2], user)
	end
	return #users
`

type storedEntry struct {
	Joined string `json:"joined"`
	Seq    string `json:"seq"`
	Seen   string `json:"seen"`
	Status string `json:"status"`
}

// NewRedisQueue creates the Redis-backed queue store
func NewRedisQueue(rc *RedisClient) *RedisQueue {
	return &RedisQueue{
		client:          rc.client,
		joinScript:      redis.NewScript(joinLua),
		rankScript:      redis.NewScript(rankLua),
		touchScript:     redis.NewScript(touchLua),
		setStatusScript: redis.NewScript(setStatusLua),
		evictScript:     redis.NewScript(evictLua),
	}
}

func queueKey(saleID, part string) string {
	return fmt.Sprintf("queue:{%s}:%s", saleID, part)
}

func (q *RedisQueue) entry(saleID, userID, raw string) (*models.QueueEntry, error) {
	var stored storedEntry
	if err := decodeJSON(raw, &stored); err != nil {
		return nil, err
	}
	seq, _ := strconv.ParseInt(stored.Seq, 10, 64)
	return &models.QueueEntry{
		SaleID:     saleID,
		UserID:     userID,
		JoinedAt:   fromMillis(stored.Joined),
		Sequence:   seq,
		LastSeenAt: fromMillis(stored.Seen),
		Status:     models.QueueStatus(stored.Status),
	}, nil
}

func (q *RedisQueue) Join(ctx context.Context, saleID, userID string, now time.Time) (*models.QueueEntry, bool, error) {
	keys := []string{
		queueKey(saleID, "waiting"),
		queueKey(saleID, "seen"),
		queueKey(saleID, "seq"),
		queueKey(saleID, "entries"),
	}
	result, err := q.joinScript.Run(ctx, q.client, keys, userID, toMillis(now)).Result()
	if err != nil {
		return nil, false, models.NewTransientStoreError("queue join", err)
	}

	res, ok := result.([]interface{})
	if !ok || len(res) != 2 {
		return nil, false, fmt.Errorf("unexpected result from join script: %v", result)
	}
	created, ok := res[0].(int64)
	if !ok {
		return nil, false, fmt.Errorf("unexpected flag type from join script: %T", res[0])
	}
	raw, ok := res[1].(string)
	if !ok {
		return nil, false, fmt.Errorf("unexpected entry type from join script: %T", res[1])
	}
	entry, err := q.entry(saleID, userID, raw)
	if err != nil {
		return nil, false, err
	}
	return entry, created == 1, nil
}

func (q *RedisQueue) Get(ctx context.Context, saleID, userID string) (*models.QueueEntry, error) {
	raw, err := q.client.HGet(ctx, queueKey(saleID, "entries"), userID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, models.NewTransientStoreError("queue get", err)
	}
	return q.entry(saleID, userID, raw)
}

func (q *RedisQueue) Rank(ctx context.Context, saleID, userID string) (int, int, error) {
	result, err := q.rankScript.Run(ctx, q.client, []string{queueKey(saleID, "waiting")}, userID).Result()
	if err != nil {
		return 0, 0, models.NewTransientStoreError("queue rank", err)
	}

	res, err := scriptInts(result, 2)
	if err != nil {
		return 0, 0, err
	}
	return int(res[0]), int(res[1]), nil
}

func (q *RedisQueue) Touch(ctx context.Context, saleID, userID string, now time.Time) error {
	keys := []string{queueKey(saleID, "seen"), queueKey(saleID, "entries")}
	if err := q.touchScript.Run(ctx, q.client, keys, userID, toMillis(now)).Err(); err != nil {
		return models.NewTransientStoreError("queue touch", err)
	}
	return nil
}

func (q *RedisQueue) SetStatus(ctx context.Context, saleID, userID string, status models.QueueStatus, now time.Time) (bool, error) {
	keys := []string{
		queueKey(saleID, "waiting"),
		queueKey(saleID, "seen"),
		queueKey(saleID, "entries"),
	}
	n, err := q.setStatusScript.Run(ctx, q.client, keys, userID, string(status), toMillis(now)).Int64()
	if err != nil {
		return false, models.NewTransientStoreError("queue set status", err)
	}
	return n == 1, nil
}

func (q *RedisQueue) WaitingCount(ctx context.Context, saleID string) (int, error) {
	n, err := q.client.ZCard(ctx, queueKey(saleID, "waiting")).Result()
	if err != nil {
		return 0, models.NewTransientStoreError("queue count", err)
	}
	return int(n), nil
}

func (q *RedisQueue) EvictIdle(ctx context.Context, saleID string, idleBefore, now time.Time) (int, error) {
	keys := []string{
		queueKey(saleID, "waiting"),
		queueKey(saleID, "seen"),
		queueKey(saleID, "entries"),
	}
	n, err := q.evictScript.Run(ctx, q.client, keys, toMillis(idleBefore), toMillis(now)).Int64()
	if err != nil {
		return 0, models.NewTransientStoreError("queue evict", err)
	}
	return int(n), nil
}

func (q *RedisQueue) RecordAdmission(ctx context.Context, saleID, userID string, at time.Time) error {
	key := queueKey(saleID, "admissions")
	ms := at.UnixMilli()
	cutoff := at.Add(-admissionRetention).UnixMilli()

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(ms), Member: fmt.Sprintf("%s:%d", userID, ms)})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		return nil
	})
	if err != nil {
		return models.NewTransientStoreError("queue record admission", err)
	}
	return nil
}

func (q *RedisQueue) CountAdmissionsSince(ctx context.Context, saleID string, since time.Time) (int, error) {
	n, err := q.client.ZCount(ctx, queueKey(saleID, "admissions"), toMillis(since), "+inf").Result()
	if err != nil {
		return 0, models.NewTransientStoreError("queue count admissions", err)
	}
	return int(n), nil
}
