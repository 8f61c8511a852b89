package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time check that RedisRepository implements Repository.
var _ Repository = (*RedisRepository)(nil)

// RedisRepository stores jobs as JSON documents in Redis. Each job lives
// under <prefix>:job:<id>; a set under <prefix>:session:<id>:jobs indexes
// the jobs of a session. Both keys expire after the configured TTL.
type RedisRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRepository connects to the Redis server at url.
func NewRedisRepository(ctx context.Context, url, prefix string, ttl time.Duration) (*RedisRepository, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisRepositoryWithClient(client, prefix, ttl), nil
}

// NewRedisRepositoryWithClient wraps an existing client.
func NewRedisRepositoryWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisRepository {
	if prefix == "" {
		prefix = "vbeats"
	}
	return &RedisRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRepository) jobKey(id string) string {
	return r.prefix + ":job:" + id
}

func (r *RedisRepository) sessionKey(sessionID string) string {
	return r.prefix + ":session:" + sessionID + ":jobs"
}

// Save writes the job document and indexes it under its session.
func (r *RedisRepository) Save(ctx context.Context, job *Job) error {
	snapshot := job.Clone()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.jobKey(snapshot.ID), data, r.ttl)
	pipe.SAdd(ctx, r.sessionKey(snapshot.SessionID), snapshot.ID)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.sessionKey(snapshot.SessionID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save job %s: %w", snapshot.ID, err)
	}
	return nil
}

// FindByID loads a job document.
func (r *RedisRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	data, err := r.client.Get(ctx, r.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// ListBySession loads every job indexed under the session. Expired
// documents are dropped from the index as they are found.
func (r *RedisRepository) ListBySession(ctx context.Context, sessionID string) ([]*Job, error) {
	ids, err := r.client.SMembers(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs for session %s: %w", sessionID, err)
	}

	result := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := r.FindByID(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			_ = r.client.SRem(ctx, r.sessionKey(sessionID), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	sortByCreation(result)
	return result, nil
}

// Delete removes the job document and its index entry.
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	job, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.jobKey(id))
	pipe.SRem(ctx, r.sessionKey(job.SessionID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// Ping checks the connection.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
