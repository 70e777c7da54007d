package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned for missing rows and rows owned by another user.
var ErrNotFound = gorm.ErrRecordNotFound

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Transaction runs fn with a Repo bound to a single transaction.
func (r *Repo) Transaction(ctx context.Context, fn func(tx *Repo) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{db: tx})
	})
}

// Assistants

func (r *Repo) ListAssistants(ctx context.Context, userID string) ([]Assistant, error) {
	var out []Assistant
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) CountAssistants(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Assistant{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// InsertAssistantIfAbsent ignores (user_id, assistant_id) conflicts.
func (r *Repo) InsertAssistantIfAbsent(ctx context.Context, a *Assistant) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(a).Error
}

func (r *Repo) GetActiveAssistant(ctx context.Context, userID string) (*Assistant, error) {
	var a Assistant
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("updated_at DESC").
		First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repo) GetAssistant(ctx context.Context, userID, assistantID string) (*Assistant, error) {
	var a Assistant
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND assistant_id = ?", userID, assistantID).
		First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repo) ClearActiveAssistants(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Model(&Assistant{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false).Error
}

func (r *Repo) MarkAssistantActive(ctx context.Context, userID, assistantID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Assistant{}).
		Where("user_id = ? AND assistant_id = ?", userID, assistantID).
		Update("is_active", true)
	return res.RowsAffected > 0, res.Error
}

// Settings

func (r *Repo) InsertSettingsIfAbsent(ctx context.Context, s *AssistantSettings) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(s).Error
}

func (r *Repo) GetSettings(ctx context.Context, userID, assistantID string) (*AssistantSettings, error) {
	var s AssistantSettings
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND assistant_id = ?", userID, assistantID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) SaveSettings(ctx context.Context, s *AssistantSettings) error {
	return r.db.WithContext(ctx).Save(s).Error
}

// Conversations

func (r *Repo) CreateConversation(ctx context.Context, c *Conversation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetConversation(ctx context.Context, userID, id string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND is_deleted = ?", id, userID, false).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns live conversations, most recently active first.
func (r *Repo) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	var out []Conversation
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Order("last_message_at IS NULL").
		Order("last_message_at DESC").
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) UpdateConversation(ctx context.Context, userID, id string, fields map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ? AND user_id = ? AND is_deleted = ?", id, userID, false).
		Updates(fields)
	return res.RowsAffected > 0, res.Error
}

// BindThread sets thread_id only while it is still NULL.
func (r *Repo) BindThread(ctx context.Context, userID, id, threadID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ? AND user_id = ? AND thread_id IS NULL", id, userID).
		Update("thread_id", threadID)
	return res.RowsAffected > 0, res.Error
}

// BindVectorStore sets vector_store_id only while it is still NULL.
func (r *Repo) BindVectorStore(ctx context.Context, userID, id, vectorStoreID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ? AND user_id = ? AND vector_store_id IS NULL", id, userID).
		Update("vector_store_id", vectorStoreID)
	return res.RowsAffected > 0, res.Error
}

// Messages

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetMessageByKey(ctx context.Context, conversationID, key string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND idempotency_key = ?", conversationID, key).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, conversationID string, limit int, beforeID uint64) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Preload("Attachments").
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, assistantMsgID uint64) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobSucceeded,
			"result_message_id": assistantMsgID,
			"error":             nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobFailed,
			"error":             errMsg,
			"result_message_id": nil,
		}).Error
}

func (r *Repo) GetJobByUserAndIdempotencyKey(ctx context.Context, userID, key string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job, but if (user_id, idempotency_key) already exists,
// it returns the existing job instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByUserAndIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}

	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

func nowUTC() time.Time { return time.Now().UTC() }
