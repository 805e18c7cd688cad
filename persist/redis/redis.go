// Package redis implements persist.Adapter backed by Redis. Each job is
// stored as a flat value under its own key, with a Set tracking all
// mirrored ids for recovery enumeration.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	adapter := persistredis.New(client)
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/persist"
)

// Key naming conventions. All keys are prefixed with "conveyor:" to
// avoid collisions.
const keyPrefix = "conveyor:"

// jobKey returns the key for a mirrored job: conveyor:job:{id}
func jobKey(jobID string) string { return keyPrefix + "job:" + jobID }

// jobIDsKey is the Set tracking all mirrored job ids for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// Compile-time interface check.
var _ persist.Adapter = (*Adapter)(nil)

// Option configures the Adapter.
type Option func(*Adapter)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithCodec sets the job codec. Defaults to JSON.
func WithCodec(c persist.Codec) Option {
	return func(a *Adapter) { a.codec = c }
}

// Adapter implements persist.Adapter backed by Redis.
type Adapter struct {
	client goredis.Cmdable
	codec  persist.Codec
	logger *slog.Logger
}

// New creates a Redis-backed adapter. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Adapter {
	a := &Adapter{
		client: client,
		codec:  &persist.JSONCodec{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Ping verifies the Redis connection is alive.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// Persist mirrors a job under its own key and registers the id.
func (a *Adapter) Persist(ctx context.Context, j *job.QueuedJob) error {
	data, err := a.codec.Encode(j)
	if err != nil {
		return fmt.Errorf("conveyor/redis: encode job: %w", err)
	}

	jID := j.ID.String()
	pipe := a.client.TxPipeline()
	pipe.Set(ctx, jobKey(jID), data, 0)
	pipe.SAdd(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: persist job: %w", err)
	}
	return nil
}

// Remove deletes a mirrored job and unregisters the id.
func (a *Adapter) Remove(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	pipe := a.client.TxPipeline()
	pipe.Del(ctx, jobKey(jID))
	pipe.SRem(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: remove job: %w", err)
	}
	return nil
}

// Recover loads every mirrored job. Entries that fail to decode are
// skipped with a warning; a stale id whose value is gone is cleaned up.
func (a *Adapter) Recover(ctx context.Context) ([]*job.QueuedJob, error) {
	ids, err := a.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list job ids: %w", err)
	}

	jobs := make([]*job.QueuedJob, 0, len(ids))
	for _, jID := range ids {
		data, err := a.client.Get(ctx, jobKey(jID)).Bytes()
		if errors.Is(err, goredis.Nil) {
			a.client.SRem(ctx, jobIDsKey, jID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: load job %s: %w", jID, err)
		}

		j, err := a.codec.Decode(data)
		if err != nil {
			a.logger.Warn("skipping undecodable mirrored job",
				slog.String("job_id", jID),
				slog.String("error", err.Error()),
			)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
