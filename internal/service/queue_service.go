package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue hands admitted job ids to the worker tier. Delivery is at-least-once:
// a consumer must tolerate seeing an id it (or a peer) already handled.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	Requeue(ctx context.Context, jobID string) error
	RequeueStale(ctx context.Context, max int64) (int64, error)
	Len(ctx context.Context) (int64, error)
}

// ErrQueueEmpty is returned by ClaimBlocking when nothing arrived before the timeout.
var ErrQueueEmpty = errors.New("queue empty")

// redisQueue is a reliable FIFO on two Redis lists.
// Enqueue: LPUSH queue
// Claim:   BRPOPLPUSH queue -> processing
// Ack:     LREM processing
// Requeue: LREM processing + RPUSH queue (back to the head, it is next in line)
type redisQueue struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
}

func NewRedisQueue(rdb *redis.Client, queueKey, processingKey string) Queue {
	return &redisQueue{
		rdb:           rdb,
		queueKey:      queueKey,
		processingKey: processingKey,
	}
}

func (q *redisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.queueKey, jobID).Err()
}

// ClaimBlocking waits up to timeout for an id; timeout <= 0 blocks until ctx is done.
func (q *redisQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	id, err := q.rdb.BRPopLPush(ctx, q.queueKey, q.processingKey, timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrQueueEmpty
		}
		return "", err
	}
	return id, nil
}

func (q *redisQueue) Ack(ctx context.Context, jobID string) error {
	return q.rdb.LRem(ctx, q.processingKey, 1, jobID).Err()
}

func (q *redisQueue) Requeue(ctx context.Context, jobID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processingKey, 1, jobID)
	pipe.RPush(ctx, q.queueKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueStale moves up to max items from processing back to the queue.
// It's a simple "reaper": at-least-once delivery.
func (q *redisQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	var moved int64
	for i := int64(0); i < max; i++ {
		id, err := q.rdb.RPopLPush(ctx, q.processingKey, q.queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return moved, err
		}
		if id != "" {
			moved++
		}
	}
	return moved, nil
}

func (q *redisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.queueKey).Result()
}
