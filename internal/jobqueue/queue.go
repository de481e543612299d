package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// QueueConfig holds the tunable parameters for the job queue.
type QueueConfig struct {
	// MaxWorkers is the number of concurrent workers on the AI queue.
	MaxWorkers int

	// MaxAttempts is the per-job attempt budget before river discards it.
	MaxAttempts int

	// JobTimeout bounds a single job execution.
	JobTimeout time.Duration
}

// DefaultQueueConfig returns the default configuration.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxWorkers:  10,
		MaxAttempts: 5,
		JobTimeout:  2 * time.Minute,
	}
}

// Queue manages the River job queue.
type Queue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
}

// NewQueue creates a queue over the shared pgx pool with the given workers
// registered. Workers are registered by the orchestrator before startup.
func NewQueue(pool *pgxpool.Pool, workers *river.Workers, config QueueConfig) (*Queue, error) {
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: config.MaxWorkers},
			AIQueue:            {MaxWorkers: config.MaxWorkers},
		},
		Workers:     workers,
		JobTimeout:  config.JobTimeout,
		MaxAttempts: config.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &Queue{client: client, pool: pool}, nil
}

// Start starts the job queue workers.
func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop stops the job queue workers.
func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// EnqueueGenerateReply queues an AI decision job for a case's newest
// inbound message.
func (q *Queue) EnqueueGenerateReply(ctx context.Context, args GenerateReplyArgs) error {
	if _, err := q.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("failed to queue generate-reply job: %w", err)
	}
	return nil
}

// EnqueueIntervention queues an idle-customer nudge.
func (q *Queue) EnqueueIntervention(ctx context.Context, args SendInterventionArgs) error {
	if _, err := q.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("failed to queue intervention job: %w", err)
	}
	return nil
}

// EnqueueEscalationNotice queues a forced escalation.
func (q *Queue) EnqueueEscalationNotice(ctx context.Context, args SendEscalationNoticeArgs) error {
	if _, err := q.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("failed to queue escalation-notice job: %w", err)
	}
	return nil
}
