package chat

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a queued exchange waiting to be persisted by the worker.
type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID         string `gorm:"type:varchar(64);not null;index:uniq_user_idempo,unique,priority:1"`
	ConversationID string `gorm:"type:char(36);index;not null"`

	Payload string `gorm:"type:text;not null"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_user_idempo,unique,priority:2" json:"idempotency_key"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded
	ResultMessageID *uint64 `gorm:"index"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Job) TableName() string { return "chat_jobs" }

// AttachmentMeta describes a file that was staged for the user message.
type AttachmentMeta struct {
	Name           string `json:"name"`
	Size           int64  `json:"size"`
	MimeType       string `json:"type"`
	StoragePath    string `json:"url"`
	UpstreamFileID string `json:"file_id,omitempty"`
}

// Exchange is one completed user/assistant turn. Key makes recording it idempotent.
type Exchange struct {
	Key              string           `json:"key"`
	UserID           string           `json:"user_id"`
	ConversationID   string           `json:"conversation_id"`
	ThreadID         string           `json:"thread_id,omitempty"`
	UserContent      string           `json:"user_content"`
	AssistantContent string           `json:"assistant_content"`
	Attachments      []AttachmentMeta `json:"attachments,omitempty"`
}

func (j *Job) Exchange() (Exchange, error) {
	var ex Exchange
	err := json.Unmarshal([]byte(j.Payload), &ex)
	return ex, err
}
