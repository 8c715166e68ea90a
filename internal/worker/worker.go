package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campuslink/matchmaker/internal/models"
	"github.com/campuslink/matchmaker/internal/profiles"
	"github.com/campuslink/matchmaker/pkg/queue"
)

// Store applies persisted stats and token usage.
type Store interface {
	ApplyCallRecord(ctx context.Context, rec models.CallRecord) error
	ApplyTokenUsage(ctx context.Context, usage models.TokenUsage) error
}

// JobSource is the job queue the processor drains.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// StatsProcessor applies call stats and token usage jobs to the profile store.
type StatsProcessor struct {
	store   Store
	queue   JobSource
	backoff time.Duration
	logger  *zap.Logger
}

// NewStatsProcessor creates a stats processor.
func NewStatsProcessor(store Store, q JobSource, logger *zap.Logger) *StatsProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsProcessor{store: store, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one job. Jobs for unknown profiles are dropped without error.
func (p *StatsProcessor) Process(ctx context.Context, job *queue.Job) error {
	var err error
	switch job.Type {
	case queue.JobTypeCallStats:
		var rec models.CallRecord
		if err := json.Unmarshal(job.Payload, &rec); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		err = p.store.ApplyCallRecord(ctx, rec)
		if err == nil {
			p.logger.Debug("call stats applied", zap.String("stable_id", rec.StableID), zap.Int64("duration_seconds", rec.DurationSeconds))
		}
	case queue.JobTypeTokenUsage:
		var usage models.TokenUsage
		if err := json.Unmarshal(job.Payload, &usage); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		err = p.store.ApplyTokenUsage(ctx, usage)
		if err == nil {
			p.logger.Debug("token usage applied", zap.String("stable_id", usage.StableID), zap.String("tier", string(usage.Tier)))
		}
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}

	if errors.Is(err, profiles.ErrNotFound) {
		p.logger.Warn("profile not found, dropping job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		return nil
	}
	return err
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *StatsProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stats worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *StatsProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
