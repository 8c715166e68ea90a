package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campuslink/matchmaker/internal/models"
)

const (
	// QueueCallStats is the Redis list key for finished-call stats jobs.
	QueueCallStats = "jobs:call_stats"
	// QueueTokenUsage is the Redis list key for token debit mirror jobs.
	QueueTokenUsage = "jobs:token_usage"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "jobs:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeCallStats  JobType = "call_stats"
	JobTypeTokenUsage JobType = "token_usage"
)

// ErrUnknownJobType is returned for job types with no list key.
var ErrUnknownJobType = errors.New("unknown job type")

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Key returns the list the job type is pushed to.
func Key(t JobType) (string, error) {
	switch t {
	case JobTypeCallStats:
		return QueueCallStats, nil
	case JobTypeTokenUsage:
		return QueueTokenUsage, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownJobType, t)
}

// NewJob wraps payload in a fresh envelope.
func NewJob(t JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decode parses a raw list entry.
func Decode(raw string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, err
	}
	if _, err := Key(job.Type); err != nil {
		return nil, err
	}
	return &job, nil
}

// Queue enqueues and dequeues jobs via Redis lists.
type Queue struct {
	client redis.Cmdable
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.Cmdable, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// Enqueue pushes a job onto its type's list.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	key, err := Key(job.Type)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	return nil
}

// RecordCall enqueues a call stats job for one side of a finished call.
func (q *Queue) RecordCall(ctx context.Context, rec models.CallRecord) error {
	job, err := NewJob(JobTypeCallStats, rec)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, job)
}

// RecordTokenUsage enqueues a token debit mirror job.
func (q *Queue) RecordTokenUsage(ctx context.Context, usage models.TokenUsage) error {
	job, err := NewJob(JobTypeTokenUsage, usage)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, job)
}

// Dequeue blocks until a job is available or ctx is done. Returns job and key (queue name).
// A nil job with nil error means the entry was unreadable and has been dropped.
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, 0, QueueCallStats, QueueTokenUsage).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	job, err := Decode(result[1])
	if err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	key, err := Key(job.Type)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
