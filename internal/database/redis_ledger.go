package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// RedisLedger implements interfaces.LedgerStore with one Lua script per
// mutation so every check-and-act runs inside Redis.
type RedisLedger struct {
	client *redis.Client

	initSaleScript  *redis.Script
	reserveScript   *redis.Script
	confirmScript   *redis.Script
	releaseScript   *redis.Script
	snapshotScript  *redis.Script
	reconcileScript *redis.Script
	adjustScript    *redis.Script
}

// KEYS[1]: stock hash {total, remaining}
// ARGV[1]: total
const initSaleLua = `
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	redis.call('HSET', KEYS[1], 'total', ARGV[1], 'remaining', ARGV[1])
	return 1
`

// Lua script for atomic reservation with stock, duplicate and per-user cap checks
// KEYS[1]: stock hash, KEYS[2]: reservations hash (user -> json), KEYS[3]: bought hash (user -> qty)
// ARGV[1]: user id, ARGV[2]: quantity, ARGV[3]: created ms, ARGV[4]: expires ms, ARGV[5]: per-user cap (0 = none)
// Returns {code, remaining}: 1 ok, 0 out of stock, 2 duplicate, 3 limit exceeded, -1 not initialized
const reserveLua = `
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return {-1, 0}
	end

	local remaining = tonumber(redis.call('HGET', KEYS[1], 'remaining'))

	if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
		return {2, remaining}
	end

	local qty = tonumber(ARGV[2])
	local limit = tonumber(ARGV[5])
	if limit > 0 then
		local bought = tonumber(redis.call('HGET', KEYS[3], ARGV[1]) or '0')
		if bought + qty > limit then
			return {3, remaining}
		end
	end

	if remaining < qty then
		return {0, remaining}
	end

	remaining = redis.call('HINCRBY', KEYS[1], 'remaining', -qty)
	redis.call('HSET', KEYS[2], ARGV[1], cjson.encode({qty = qty, created = ARGV[3], expires = ARGV[4]}))
	redis.call('HINCRBY', KEYS[3], ARGV[1], qty)

	return {1, remaining}
`

// KEYS[2]: reservations hash, KEYS[4]: settled hash (user -> created ms of the last settled hold)
// ARGV[1]: user id
// Returns 1 when a reservation was confirmed
const confirmLua = `
	local raw = redis.call('HGET', KEYS[2], ARGV[1])
	if not raw then
		return 0
	end

	redis.call('HDEL', KEYS[2], ARGV[1])
	redis.call('HSET', KEYS[4], ARGV[1], cjson.decode(raw).created)
	return 1
`

// KEYS[1]: stock hash, KEYS[2]: reservations hash, KEYS[3]: bought hash, KEYS[4]: settled hash
// ARGV[1]: user id
// Returns {released, remaining}
const releaseLua = `
	local raw = redis.call('HGET', KEYS[2], ARGV[1])
	local remaining = tonumber(redis.call('HGET', KEYS[1], 'remaining') or '0')
	if not raw then
		return {0, remaining}
	end

	local r = cjson.decode(raw)
	redis.call('HDEL', KEYS[2], ARGV[1])
	redis.call('HSET', KEYS[4], ARGV[1], r.created)

	if redis.call('HINCRBY', KEYS[3], ARGV[1], -tonumber(r.qty)) <= 0 then
		redis.call('HDEL', KEYS[3], ARGV[1])
	end

	local total = tonumber(redis.call('HGET', KEYS[1], 'total') or '0')
	remaining = redis.call('HINCRBY', KEYS[1], 'remaining', tonumber(r.qty))
	if remaining > total then
		redis.call('HSET', KEYS[1], 'remaining', total)
		remaining = total
	end

	return {1, remaining}
`

// Returns {initialized, total, remaining, reserved, reservations}
const snapshotLua = `
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return {0, 0, 0, 0, 0}
	end

	local stock = redis.call('HMGET', KEYS[1], 'total', 'remaining')
	local reserved = 0
	local count = 0
	for _, raw in ipairs(redis.call('HVALS', KEYS[2])) do
		reserved = reserved + tonumber(cjson.decode(raw).qty)
		count = count + 1
	end

	return {1, tonumber(stock[1]), tonumber(stock[2]), reserved, count}
`

// ARGV[1]: json object of confirmed quantity per user from the durable store
// ARGV[2]: purge reservations expiring before this ms timestamp
// ARGV[3]: json array of holds backed by open orders
// Holds created no later than the user's last settled reservation were
// confirmed or released after the durable read and are not restored.
// Returns {initialized, total, remaining, reserved, reservations, purged}
const reconcileLua = `
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return {0, 0, 0, 0, 0, 0}
	end

	local total = tonumber(redis.call('HGET', KEYS[1], 'total'))

	for _, h in ipairs(cjson.decode(ARGV[3])) do
		local settled = redis.call('HGET', KEYS[4], h.user)
		if not settled or tonumber(h.created) > tonumber(settled) then
			redis.call('HSETNX', KEYS[2], h.user, cjson.encode({qty = h.qty, created = h.created, expires = h.expires}))
		end
	end

	local purge_before = tonumber(ARGV[2])
	local reserved = 0
	local count = 0
	local purged = 0
	local floor = {}
	local all = redis.call('HGETALL', KEYS[2])
	for i = 1, #all, 2 do
		local user = all[i]
		local r = cjson.decode(all[i + 1])
		local qty = tonumber(r.qty)
		if tonumber(r.expires) < purge_before then
			redis.call('HDEL', KEYS[2], user)
			if redis.call('HINCRBY', KEYS[3], user, -qty) <= 0 then
				redis.call('HDEL', KEYS[3], user)
			end
			purged = purged + 1
		else
			reserved = reserved + qty
			count = count + 1
			floor[user] = (floor[user] or 0) + qty
		end
	end

	local confirmed = 0
	for user, qty in pairs(cjson.decode(ARGV[1])) do
		qty = tonumber(qty)
		confirmed = confirmed + qty
		floor[user] = (floor[user] or 0) + qty
	end

	for user, qty in pairs(floor) do
		local bought = tonumber(redis.call('HGET', KEYS[3], user) or '0')
		if qty > bought then
			redis.call('HSET', KEYS[3], user, qty)
		end
	end

	local remaining = total - confirmed - reserved
	if remaining < 0 then
		remaining = 0
	end
	if remaining > total then
		remaining = total
	end
	redis.call('HSET', KEYS[1], 'remaining', remaining)

	return {1, total, remaining, reserved, count, purged}
`

// ARGV[1]: signed delta applied to both total and remaining
// Returns {code, total, remaining}: 1 applied, -1 rejected, 0 not initialized
const adjustLua = `
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return {0, 0, 0}
	end

	local total = tonumber(redis.call('HGET', KEYS[1], 'total'))
	local remaining = tonumber(redis.call('HGET', KEYS[1], 'remaining'))
	local delta = tonumber(ARGV[1])

	if remaining + delta < 0 or total + delta < 0 then
		return {-1, total, remaining}
	end

	total = total + delta
	remaining = remaining + delta
	redis.call('HSET', KEYS[1], 'total', total, 'remaining', remaining)

	return {1, total, remaining}
`

type storedReservation struct {
	Qty     int    `json:"qty"`
	Created string `json:"created"`
	Expires string `json:"expires"`
}

type storedHold struct {
	User    string `json:"user"`
	Qty     int    `json:"qty"`
	Created string `json:"created"`
	Expires string `json:"expires"`
}

// NewRedisLedger creates the Redis-backed inventory ledger store
func NewRedisLedger(rc *RedisClient) *RedisLedger {
	return &RedisLedger{
		client:          rc.client,
		initSaleScript:  redis.NewScript(initSaleLua),
		reserveScript:   redis.NewScript(reserveLua),
		confirmScript:   redis.NewScript(confirmLua),
		releaseScript:   redis.NewScript(releaseLua),
		snapshotScript:  redis.NewScript(snapshotLua),
		reconcileScript: redis.NewScript(reconcileLua),
		adjustScript:    redis.NewScript(adjustLua),
	}
}

// Keys share a hash tag so a cluster keeps one sale on one slot.
func ledgerKeys(saleID string) []string {
	return []string{
		fmt.Sprintf("ledger:{%s}:stock", saleID),
		fmt.Sprintf("ledger:{%s}:reservations", saleID),
		fmt.Sprintf("ledger:{%s}:bought", saleID),
		fmt.Sprintf("ledger:{%s}:settled", saleID),
	}
}

func (l *RedisLedger) InitSale(ctx context.Context, saleID string, total int) (bool, error) {
	res, err := l.initSaleScript.Run(ctx, l.client, ledgerKeys(saleID)[:1], total).Int64()
	if err != nil {
		return false, models.NewTransientStoreError("ledger init", err)
	}
	return res == 1, nil
}

func (l *RedisLedger) Reserve(ctx context.Context, saleID, userID string, qty, limit int, now, expiresAt time.Time) (*models.ReserveResult, error) {
	result, err := l.reserveScript.Run(ctx, l.client, ledgerKeys(saleID),
		userID, qty, toMillis(now), toMillis(expiresAt), limit).Result()
	if err != nil {
		return nil, models.NewTransientStoreError("ledger reserve", err)
	}

	res, err := scriptInts(result, 2)
	if err != nil {
		return nil, err
	}

	out := &models.ReserveResult{Remaining: int(res[1])}
	switch res[0] {
	case 1:
		out.Success = true
		out.Outcome = models.ReserveOK
		out.Reservation = &models.Reservation{
			SaleID:    saleID,
			UserID:    userID,
			Quantity:  qty,
			CreatedAt: fromMillis(toMillis(now)),
			ExpiresAt: fromMillis(toMillis(expiresAt)),
		}
	case 0:
		out.Outcome = models.ReserveOutOfStock
	case 2:
		out.Outcome = models.ReserveDuplicate
	case 3:
		out.Outcome = models.ReserveLimitExceeded
	case -1:
		out.Outcome = models.ReserveSaleNotInitialized
	default:
		return nil, fmt.Errorf("unknown result code from reserve script: %d", res[0])
	}
	return out, nil
}

// Confirm drops the reservation; the stock was already taken at reserve time
// and stays counted against the user's cap.
func (l *RedisLedger) Confirm(ctx context.Context, saleID, userID string) (bool, error) {
	n, err := l.confirmScript.Run(ctx, l.client, ledgerKeys(saleID), userID).Int64()
	if err != nil {
		return false, models.NewTransientStoreError("ledger confirm", err)
	}
	return n == 1, nil
}

func (l *RedisLedger) Release(ctx context.Context, saleID, userID string) (bool, int, error) {
	result, err := l.releaseScript.Run(ctx, l.client, ledgerKeys(saleID), userID).Result()
	if err != nil {
		return false, 0, models.NewTransientStoreError("ledger release", err)
	}

	res, err := scriptInts(result, 2)
	if err != nil {
		return false, 0, err
	}
	return res[0] == 1, int(res[1]), nil
}

func (l *RedisLedger) GetReservation(ctx context.Context, saleID, userID string) (*models.Reservation, error) {
	raw, err := l.client.HGet(ctx, ledgerKeys(saleID)[1], userID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, models.NewTransientStoreError("ledger get reservation", err)
	}

	var stored storedReservation
	if err := decodeJSON(raw, &stored); err != nil {
		return nil, err
	}
	return &models.Reservation{
		SaleID:    saleID,
		UserID:    userID,
		Quantity:  stored.Qty,
		CreatedAt: fromMillis(stored.Created),
		ExpiresAt: fromMillis(stored.Expires),
	}, nil
}

func (l *RedisLedger) Snapshot(ctx context.Context, saleID string) (*models.LedgerSnapshot, error) {
	result, err := l.snapshotScript.Run(ctx, l.client, ledgerKeys(saleID)).Result()
	if err != nil {
		return nil, models.NewTransientStoreError("ledger snapshot", err)
	}

	res, err := scriptInts(result, 5)
	if err != nil {
		return nil, err
	}
	return &models.LedgerSnapshot{
		Initialized:  res[0] == 1,
		Total:        int(res[1]),
		Remaining:    int(res[2]),
		Reserved:     int(res[3]),
		Reservations: int(res[4]),
	}, nil
}

func (l *RedisLedger) Reconcile(ctx context.Context, saleID string, confirmed map[string]int, holds []models.Reservation, purgeBefore time.Time) (*models.LedgerSnapshot, error) {
	stored := make([]storedHold, 0, len(holds))
	for _, h := range holds {
		stored = append(stored, storedHold{
			User:    h.UserID,
			Qty:     h.Quantity,
			Created: toMillis(h.CreatedAt),
			Expires: toMillis(h.ExpiresAt),
		})
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode holds: %w", err)
	}
	if confirmed == nil {
		confirmed = map[string]int{}
	}
	bought, err := json.Marshal(confirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode confirmed quantities: %w", err)
	}

	result, err := l.reconcileScript.Run(ctx, l.client, ledgerKeys(saleID),
		string(bought), toMillis(purgeBefore), string(payload)).Result()
	if err != nil {
		return nil, models.NewTransientStoreError("ledger reconcile", err)
	}

	res, err := scriptInts(result, 6)
	if err != nil {
		return nil, err
	}
	return &models.LedgerSnapshot{
		Initialized:  res[0] == 1,
		Total:        int(res[1]),
		Remaining:    int(res[2]),
		Reserved:     int(res[3]),
		Reservations: int(res[4]),
		Purged:       int(res[5]),
	}, nil
}

func (l *RedisLedger) Adjust(ctx context.Context, saleID string, delta int) (*models.LedgerSnapshot, error) {
	result, err := l.adjustScript.Run(ctx, l.client, ledgerKeys(saleID)[:1], strconv.Itoa(delta)).Result()
	if err != nil {
		return nil, models.NewTransientStoreError("ledger adjust", err)
	}

	res, err := scriptInts(result, 3)
	if err != nil {
		return nil, err
	}
	switch res[0] {
	case 0:
		return nil, models.ErrLedgerNotInitialized
	case -1:
		return nil, models.ErrInvalidAdjustment
	}
	return &models.LedgerSnapshot{Initialized: true, Total: int(res[1]), Remaining: int(res[2])}, nil
}
