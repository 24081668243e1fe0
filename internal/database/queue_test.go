package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

func queueBackends(t *testing.T) map[string]interfaces.QueueStore {
	rc, _ := newTestRedis(t)
	return map[string]interfaces.QueueStore{
		"redis":  NewRedisQueue(rc),
		"memory": NewMemoryQueue(),
	}
}

func TestQueue_JoinOrderAndRank(t *testing.T) {
	for name, q := range queueBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a, _, err := q.Join(ctx, "s1", "alice", testNow)
			require.NoError(t, err)
			b, _, err := q.Join(ctx, "s1", "bob", testNow.Add(time.Second))
			require.NoError(t, err)
			assert.Less(t, a.Sequence, b.Sequence)
			assert.Equal(t, models.QueueStatusWaiting, b.Status)

			ahead, total, err := q.Rank(ctx, "s1", "alice")
			require.NoError(t, err)
			assert.Equal(t, 0, ahead)
			assert.Equal(t, 2, total)

			ahead, total, err = q.Rank(ctx, "s1", "bob")
			require.NoError(t, err)
			assert.Equal(t, 1, ahead)
			assert.Equal(t, 2, total)

			ahead, _, err = q.Rank(ctx, "s1", "nobody")
			require.NoError(t, err)
			assert.Equal(t, -1, ahead)
		})
	}
}

func TestQueue_JoinIsIdempotentWhileWaiting(t *testing.T) {
	for name, q := range queueBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, created, err := q.Join(ctx, "s1", "alice", testNow)
			require.NoError(t, err)
			assert.True(t, created)
			_, _, err = q.Join(ctx, "s1", "bob", testNow)
			require.NoError(t, err)

			again, created, err := q.Join(ctx, "s1", "alice", testNow.Add(time.Minute))
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.Sequence, again.Sequence)
			assert.Equal(t, first.JoinedAt, again.JoinedAt)

			count, err := q.WaitingCount(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 2, count)
		})
	}
}

func TestQueue_StatusChangesLeaveTheWaitingSet(t *testing.T) {
	for name, q := range queueBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, user := range []string{"a", "b", "c"} {
				_, _, err := q.Join(ctx, "s1", user, testNow.Add(time.Duration(i)*time.Second))
				require.NoError(t, err)
			}

			ok, err := q.SetStatus(ctx, "s1", "a", models.QueueStatusReserved, testNow)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = q.SetStatus(ctx, "s1", "ghost", models.QueueStatusDropped, testNow)
			require.NoError(t, err)
			assert.False(t, ok)

			ahead, total, err := q.Rank(ctx, "s1", "c")
			require.NoError(t, err)
			assert.Equal(t, 1, ahead)
			assert.Equal(t, 2, total)

			// reserved entries are returned as-is on join
			e, _, err := q.Join(ctx, "s1", "a", testNow.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, models.QueueStatusReserved, e.Status)

			got, err := q.Get(ctx, "s1", "a")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, models.QueueStatusReserved, got.Status)
		})
	}
}

func TestQueue_RejoinAfterTerminalGoesToBack(t *testing.T) {
	for name, q := range queueBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _, err := q.Join(ctx, "s1", "a", testNow)
			require.NoError(t, err)
			_, _, err = q.Join(ctx, "s1", "b", testNow.Add(time.Second))
			require.NoError(t, err)

			_, err = q.SetStatus(ctx, "s1", "a", models.QueueStatusCancelled, testNow.Add(2*time.Second))
			require.NoError(t, err)

			e, created, err := q.Join(ctx, "s1", "a", testNow.Add(3*time.Second))
			require.NoError(t, err)
			assert.True(t, created)
			assert.Equal(t, models.QueueStatusWaiting, e.Status)

			ahead, total, err := q.Rank(ctx, "s1", "a")
			require.NoError(t, err)
			assert.Equal(t, 1, ahead)
			assert.Equal(t, 2, total)
		})
	}
}

func TestQueue_EvictIdle(t *testing.T) {
	for name, q := range queueBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _, err := q.Join(ctx, "s1", "idle", testNow)
			require.NoError(t, err)
			_, _, err = q.Join(ctx, "s1", "active", testNow)
			require.NoError(t, err)
			_, _, err = q.Join(ctx, "s1", "reserved", testNow)
			require.NoError(t, err)
			_, err = q.SetStatus(ctx, "s1", "reserved", models.QueueStatusReserved, testNow)
			require.NoError(t, err)

			require.NoError(t, q.Touch(ctx, "s1", "active", testNow.Add(3*time.Minute)))

			evicted, err := q.EvictIdle(ctx, "s1", testNow.Add(time.Minute), testNow.Add(3*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 1, evicted)

			e, err := q.Get(ctx, "s1", "idle")
			require.NoError(t, err)
			assert.Equal(t, models.QueueStatusDropped, e.Status)

			e, err = q.Get(ctx, "s1", "reserved")
			require.NoError(t, err)
			assert.Equal(t, models.QueueStatusReserved, e.Status)

			count, err := q.WaitingCount(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestQueue_Admissions(t *testing.T) {
	for name, q := range queueBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.RecordAdmission(ctx, "s1", "a", testNow.Add(-10*time.Minute)))
			require.NoError(t, q.RecordAdmission(ctx, "s1", "b", testNow.Add(-2*time.Minute)))
			require.NoError(t, q.RecordAdmission(ctx, "s1", "c", testNow.Add(-time.Minute)))

			n, err := q.CountAdmissionsSince(ctx, "s1", testNow.Add(-5*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			n, err = q.CountAdmissionsSince(ctx, "other", testNow.Add(-5*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestQueue_ConcurrentJoinsKeepStrictOrder(t *testing.T) {
	for name, q := range queueBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const users = 50

			var wg sync.WaitGroup
			for i := 0; i < users; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _, err := q.Join(ctx, "s1", fmt.Sprintf("user-%d", i), testNow)
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			seen := make(map[int]bool)
			for i := 0; i < users; i++ {
				ahead, total, err := q.Rank(ctx, "s1", fmt.Sprintf("user-%d", i))
				require.NoError(t, err)
				assert.Equal(t, users, total)
				assert.False(t, seen[ahead], "two users share rank %d", ahead)
				seen[ahead] = true
			}
			assert.Len(t, seen, users)
		})
	}
}
