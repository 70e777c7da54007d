// Package worker persists exchanges handed over through the job queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/assistant-relay/internal/chat"
	"github.com/suPer8Hu/assistant-relay/internal/metrics"
	"github.com/suPer8Hu/assistant-relay/internal/store/rabbitmq"
)

const (
	DefaultMaxAttempts = 3
	baseBackoff        = 2 * time.Second
	maxBackoff         = 30 * time.Second
	slowJob            = 2 * time.Second
)

// ErrPermanent marks failures a retry cannot fix.
var ErrPermanent = errors.New("permanent job failure")

type Jobs interface {
	GetJobByID(ctx context.Context, id string) (*chat.Job, error)
	UpdateJobStatusRunning(ctx context.Context, id string) error
	MarkJobSucceeded(ctx context.Context, id string, assistantMsgID uint64) error
	MarkJobFailed(ctx context.Context, id string, errMsg string) error
}

type Saver interface {
	SaveExchange(ctx context.Context, ex chat.Exchange) (uint64, error)
}

type Retrier interface {
	PublishRetry(ctx context.Context, jobID string, attempt int, delay time.Duration) error
}

type Worker struct {
	jobs        Jobs
	saver       Saver
	retry       Retrier
	maxAttempts int
	log         zerolog.Logger
}

// New builds a worker. retry may be nil, failed jobs then go straight to the dead-letter queue.
func New(jobs Jobs, saver Saver, retry Retrier, maxAttempts int, log zerolog.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Worker{
		jobs:        jobs,
		saver:       saver,
		retry:       retry,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "worker").Logger(),
	}
}

// Backoff is the delay before retry number attempt (1-based).
func Backoff(attempt int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Deliver handles one delivery and settles it. Rejected deliveries dead-letter.
func (w *Worker) Deliver(ctx context.Context, d amqp.Delivery) {
	var m rabbitmq.JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		w.log.Warn().Err(err).Str("body", string(d.Body)).Msg("bad job message")
		metrics.JobsProcessed.WithLabelValues("malformed").Inc()
		_ = d.Nack(false, false)
		return
	}

	attempt := rabbitmq.Attempt(d)
	log := w.log.With().Str("job_id", m.JobID).Int("attempt", attempt).Logger()

	err := w.Handle(ctx, m.JobID)
	if err == nil {
		metrics.JobsProcessed.WithLabelValues("succeeded").Inc()
		if err := d.Ack(false); err != nil {
			log.Error().Err(err).Msg("ack failed")
		}
		return
	}

	next := attempt + 1
	if errors.Is(err, ErrPermanent) || w.retry == nil || next >= w.maxAttempts {
		log.Error().Err(err).Msg("job failed, dead-lettering")
		metrics.JobsProcessed.WithLabelValues("dead").Inc()
		if merr := w.jobs.MarkJobFailed(ctx, m.JobID, err.Error()); merr != nil {
			log.Error().Err(merr).Msg("mark job failed")
		}
		_ = d.Nack(false, false)
		return
	}

	delay := Backoff(next)
	if perr := w.retry.PublishRetry(ctx, m.JobID, next, delay); perr != nil {
		log.Error().Err(perr).Msg("schedule retry failed, requeueing")
		metrics.JobsProcessed.WithLabelValues("requeued").Inc()
		_ = d.Nack(false, true)
		return
	}
	log.Warn().Err(err).Dur("delay", delay).Msg("job failed, retry scheduled")
	metrics.JobsProcessed.WithLabelValues("retried").Inc()
	_ = d.Ack(false)
}

// Handle persists the job's exchange. A job that already succeeded is a no-op.
func (w *Worker) Handle(ctx context.Context, jobID string) error {
	jobStart := time.Now()

	j, err := w.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return fmt.Errorf("%w: job %s not found", ErrPermanent, jobID)
		}
		return err
	}
	if j.Status == chat.JobSucceeded {
		return nil
	}
	getJobCost := time.Since(jobStart)

	_ = w.jobs.UpdateJobStatusRunning(ctx, jobID)

	ex, err := j.Exchange()
	if err != nil {
		return fmt.Errorf("%w: decode payload: %v", ErrPermanent, err)
	}

	t := time.Now()
	msgID, err := w.saver.SaveExchange(ctx, ex)
	saveCost := time.Since(t)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return fmt.Errorf("%w: conversation %s is gone", ErrPermanent, ex.ConversationID)
		}
		return err
	}

	if err := w.jobs.MarkJobSucceeded(ctx, jobID, msgID); err != nil {
		return err
	}

	if total := time.Since(jobStart); total > slowJob {
		w.log.Info().
			Str("job_id", jobID).
			Dur("get_job", getJobCost).
			Dur("save", saveCost).
			Dur("total", total).
			Msg("job_timing")
	}
	return nil
}
