package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// enqueueScript writes the job hash and schedules it only when no job with
// the same id exists. ARGV[3..] are the hash field/value pairs.
var enqueueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// reserveScript moves the earliest due job from wait to active and stamps
// the lease on its hash. Returns the job id, or false when nothing is due.
//
// The job key is built from ARGV[3] because the id is only known once the
// script has picked it. Every key of a queue shares one hash tag, so the
// undeclared key still lands in the same cluster slot as KEYS[1].
var reserveScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[2], id)
redis.call('HSET', ARGV[3] .. id,
	'state', 'active', 'token', ARGV[4], 'lease_until', ARGV[2], 'updated_at', ARGV[1])
return id
`)

// completeScript returns -1 when the job is gone and 0 when the caller's
// lease token no longer matches.
var completeScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[3], 'token') ~= ARGV[2] then
	return 0
end
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[3],
	'state', 'completed', 'token', '', 'lease_until', '0',
	'finished_at', ARGV[3], 'updated_at', ARGV[3])
return 1
`)

var failScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[4]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[4], 'token') ~= ARGV[2] then
	return 0
end
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[4],
	'attempts_made', ARGV[5], 'last_error', ARGV[6],
	'token', '', 'lease_until', '0', 'updated_at', ARGV[3])
if ARGV[4] == '1' then
	redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
	redis.call('HSET', KEYS[4], 'state', 'failed', 'finished_at', ARGV[3])
else
	redis.call('ZADD', KEYS[2], ARGV[7], ARGV[1])
	redis.call('HSET', KEYS[4], 'state', 'waiting', 'run_at', ARGV[7])
end
return 1
`)

// Redis is a Queue stored in Redis sorted sets and hashes. State changes
// that touch more than one key run as Lua scripts so they are atomic.
type Redis struct {
	client goredis.UniversalClient
	opts   Options
	keys   keys
}

func NewRedis(client goredis.UniversalClient, opts Options) *Redis {
	opts.setDefaults()
	return &Redis{client: client, opts: opts, keys: newKeys(opts.Name)}
}

func (r *Redis) Enqueue(ctx context.Context, name string, payload any, opts JobOptions) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}
	j := newJob(r.opts.Name, name, body, opts, r.opts.Clock())

	args := []any{j.RunAt.UnixMilli(), j.ID}
	for field, v := range jobToMap(j) {
		args = append(args, field, v)
	}
	created, err := enqueueScript.Run(ctx, r.client,
		[]string{r.keys.job(j.ID), r.keys.wait()}, args...,
	).Int()
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	if created == 0 {
		return "", ErrJobExists
	}
	return j.ID, nil
}

func (r *Redis) Reserve(ctx context.Context) (*Job, error) {
	now := r.opts.Clock()
	deadline := now.Add(r.opts.Lease)
	token := uuid.NewString()

	id, err := reserveScript.Run(ctx, r.client,
		[]string{r.keys.wait(), r.keys.active()},
		now.UnixMilli(), deadline.UnixMilli(), r.keys.jobPrefix(), token,
	).Text()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue: reserve: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *Redis) Complete(ctx context.Context, job *Job) error {
	now := r.opts.Clock().UnixMilli()
	res, err := completeScript.Run(ctx, r.client,
		[]string{r.keys.active(), r.keys.completed(), r.keys.job(job.ID)},
		job.ID, job.LeaseToken, now,
	).Int()
	if err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	return scriptResult(res)
}

func (r *Redis) Fail(ctx context.Context, job *Job, cause error) (FailOutcome, error) {
	now := r.opts.Clock()
	out := decideFailure(job, cause, now)

	exhausted := "0"
	if out.Exhausted {
		exhausted = "1"
	}
	res, err := failScript.Run(ctx, r.client,
		[]string{r.keys.active(), r.keys.wait(), r.keys.failed(), r.keys.job(job.ID)},
		job.ID, job.LeaseToken, now.UnixMilli(), exhausted,
		out.AttemptsMade, errorText(cause), out.RetryAt.UnixMilli(),
	).Int()
	if err != nil {
		return FailOutcome{}, fmt.Errorf("queue: fail: %w", err)
	}
	if err := scriptResult(res); err != nil {
		return FailOutcome{}, err
	}
	return out, nil
}

func (r *Redis) RequeueExpired(ctx context.Context) ([]ExpiredJob, error) {
	now := r.opts.Clock()
	ids, err := r.client.ZRangeByScore(ctx, r.keys.active(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list expired: %w", err)
	}

	var expired []ExpiredJob
	for _, id := range ids {
		j, err := r.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			r.client.ZRem(ctx, r.keys.active(), id)
			continue
		}
		if err != nil {
			return expired, err
		}
		out, err := r.Fail(ctx, j, ErrLeaseExpired)
		if errors.Is(err, ErrLeaseLost) {
			// Finished between the scan and the fail.
			continue
		}
		if err != nil {
			return expired, err
		}
		j.AttemptsMade = out.AttemptsMade
		expired = append(expired, ExpiredJob{Job: j, Outcome: out})
	}
	return expired, nil
}

func (r *Redis) Clean(ctx context.Context) (int, error) {
	now := r.opts.Clock()
	ret := r.opts.Retention

	var drop []string
	if ret.CompletedAge > 0 {
		ids, err := r.olderThan(ctx, r.keys.completed(), now.Add(-ret.CompletedAge))
		if err != nil {
			return 0, err
		}
		drop = append(drop, ids...)
	}
	if ret.FailedAge > 0 {
		ids, err := r.olderThan(ctx, r.keys.failed(), now.Add(-ret.FailedAge))
		if err != nil {
			return 0, err
		}
		drop = append(drop, ids...)
	}
	removed, err := r.remove(ctx, drop)
	if err != nil {
		return 0, err
	}

	if ret.CompletedKeep > 0 {
		n, err := r.client.ZCard(ctx, r.keys.completed()).Result()
		if err != nil {
			return removed, fmt.Errorf("queue: count completed: %w", err)
		}
		if excess := n - int64(ret.CompletedKeep); excess > 0 {
			ids, err := r.client.ZRange(ctx, r.keys.completed(), 0, excess-1).Result()
			if err != nil {
				return removed, fmt.Errorf("queue: list oldest completed: %w", err)
			}
			n, err := r.remove(ctx, ids)
			removed += n
			if err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

func (r *Redis) olderThan(ctx context.Context, key string, cutoff time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list finished jobs: %w", err)
	}
	return ids, nil
}

// remove deletes finished jobs from both finished sets and drops their hashes.
func (r *Redis) remove(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	members := make([]any, len(ids))
	jobKeys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		jobKeys[i] = r.keys.job(id)
	}
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.keys.completed(), members...)
	pipe.ZRem(ctx, r.keys.failed(), members...)
	pipe.Del(ctx, jobKeys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queue: remove finished jobs: %w", err)
	}
	return len(ids), nil
}

func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	now := strconv.FormatInt(r.opts.Clock().UnixMilli(), 10)

	pipe := r.client.Pipeline()
	waiting := pipe.ZCount(ctx, r.keys.wait(), "-inf", now)
	delayed := pipe.ZCount(ctx, r.keys.wait(), "("+now, "+inf")
	active := pipe.ZCard(ctx, r.keys.active())
	completed := pipe.ZCard(ctx, r.keys.completed())
	failed := pipe.ZCard(ctx, r.keys.failed())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}
	return Stats{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func (r *Redis) Get(ctx context.Context, id string) (*Job, error) {
	m, err := r.client.HGetAll(ctx, r.keys.job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: get job: %w", err)
	}
	if len(m) == 0 {
		return nil, ErrJobNotFound
	}
	return mapToJob(m)
}

func (r *Redis) Failed(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := r.client.ZRevRange(ctx, r.keys.failed(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list failed: %w", err)
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := r.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			// Cleaned between the scan and the read.
			continue
		}
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func scriptResult(res int) error {
	switch res {
	case 1:
		return nil
	case -1:
		return ErrJobNotFound
	default:
		return ErrLeaseLost
	}
}

// ── serialization ──

func jobToMap(j *Job) map[string]any {
	return map[string]any{
		"id":              j.ID,
		"queue":           j.Queue,
		"name":            j.Name,
		"payload":         string(j.Payload),
		"attempts_made":   j.AttemptsMade,
		"max_attempts":    j.MaxAttempts,
		"backoff_base_ms": j.Backoff.Base.Milliseconds(),
		"backoff_max_ms":  j.Backoff.Max.Milliseconds(),
		"state":           string(j.State),
		"last_error":      j.LastError,
		"run_at":          j.RunAt.UnixMilli(),
		"lease_until":     millis(j.LeaseUntil),
		"created_at":      j.CreatedAt.UnixMilli(),
		"updated_at":      j.UpdatedAt.UnixMilli(),
		"finished_at":     millis(j.FinishedAt),
		"token":           j.LeaseToken,
	}
}

func mapToJob(m map[string]string) (*Job, error) {
	j := &Job{
		ID:         m["id"],
		Queue:      m["queue"],
		Name:       m["name"],
		Payload:    json.RawMessage(m["payload"]),
		State:      State(m["state"]),
		LastError:  m["last_error"],
		LeaseToken: m["token"],
	}
	ints := map[string]*int64{}
	var attempts, maxAttempts, base, maxBackoff, runAt, lease, created, updated, finished int64
	ints["attempts_made"] = &attempts
	ints["max_attempts"] = &maxAttempts
	ints["backoff_base_ms"] = &base
	ints["backoff_max_ms"] = &maxBackoff
	ints["run_at"] = &runAt
	ints["lease_until"] = &lease
	ints["created_at"] = &created
	ints["updated_at"] = &updated
	ints["finished_at"] = &finished
	for field, dst := range ints {
		v, ok := m[field]
		if !ok || v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("queue: decode job %s field %s: %w", j.ID, field, err)
		}
		*dst = n
	}
	j.AttemptsMade = int(attempts)
	j.MaxAttempts = int(maxAttempts)
	j.Backoff = Backoff{Base: time.Duration(base) * time.Millisecond, Max: time.Duration(maxBackoff) * time.Millisecond}
	j.RunAt = time.UnixMilli(runAt).UTC()
	j.LeaseUntil = fromMillis(lease)
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(updated).UTC()
	j.FinishedAt = fromMillis(finished)
	return j, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
