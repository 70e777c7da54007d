package chat

import (
	"context"
	"encoding/json"

	"github.com/suPer8Hu/assistant-relay/internal/common"
)

// Recorder persists completed exchanges.
type Recorder interface {
	Record(ctx context.Context, ex Exchange) error
}

// DirectRecorder persists in the calling process.
type DirectRecorder struct {
	Svc *Service
}

func (r DirectRecorder) Record(ctx context.Context, ex Exchange) error {
	_, err := r.Svc.SaveExchange(ctx, ex)
	return err
}

type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// QueueRecorder stores the exchange as a Job and hands its id to the worker queue.
type QueueRecorder struct {
	Svc       *Service
	Publisher JobPublisher
}

func (r QueueRecorder) Record(ctx context.Context, ex Exchange) error {
	payload, err := json.Marshal(ex)
	if err != nil {
		return err
	}
	jobID, err := common.NewULID()
	if err != nil {
		return err
	}
	key := ex.Key

	j, created, err := r.Svc.CreateJobOrGetExisting(ctx, &Job{
		ID:             jobID,
		UserID:         ex.UserID,
		ConversationID: ex.ConversationID,
		Payload:        string(payload),
		IdempotencyKey: &key,
		Status:         JobQueued,
	})
	if err != nil {
		return err
	}
	// Enqueue only when a new job was created
	if !created {
		return nil
	}
	return r.Publisher.PublishJob(ctx, j.ID)
}
