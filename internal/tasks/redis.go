package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// jobTTL bounds how long a job's progress hash outlives its last update.
const jobTTL = 24 * time.Hour

// RedisOptions configures a RedisQueue.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Queue names the Redis list jobs are pushed onto.
	Queue string
}

// RedisQueue pushes JSON jobs onto a Redis list and keeps per-job progress in
// a hash that workers update.
type RedisQueue struct {
	rdb   *redis.Client
	queue string
}

// NewRedisQueue connects to Redis and verifies the connection with a PING.
func NewRedisQueue(opts RedisOptions) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	queue := opts.Queue
	if queue == "" {
		queue = "miniblog-tasks"
	}
	return &RedisQueue{rdb: rdb, queue: queue}, nil
}

func (q *RedisQueue) listKey() string {
	return q.queue + ":jobs"
}

func (q *RedisQueue) jobKey(id string) string {
	return q.queue + ":job:" + id
}

// Enqueue pushes job and initializes its progress to zero in one transaction.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) (string, error) {
	prepare(&job)
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encoding job %s: %w", job.Name, err)
	}
	key := q.jobKey(job.ID)
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "name", job.Name, "user_id", job.UserID, "progress", 0)
		p.Expire(ctx, key, jobTTL)
		p.LPush(ctx, q.listKey(), payload)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", job.Name, err)
	}
	return job.ID, nil
}

// Progress reads the job's progress field. A job Redis no longer knows is
// reported as finished.
func (q *RedisQueue) Progress(ctx context.Context, jobID string) (int, error) {
	v, err := q.rdb.HGet(ctx, q.jobKey(jobID), "progress").Result()
	if errors.Is(err, redis.Nil) {
		return 100, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading progress of job %s: %w", jobID, err)
	}
	p, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("job %s has malformed progress %q: %w", jobID, v, err)
	}
	return clampPercent(p), nil
}

// SetProgress records percent and refreshes the job's expiry.
func (q *RedisQueue) SetProgress(ctx context.Context, jobID string, percent int) error {
	key := q.jobKey(jobID)
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "progress", clampPercent(percent))
		p.Expire(ctx, key, jobTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting progress of job %s: %w", jobID, err)
	}
	return nil
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
