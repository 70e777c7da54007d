package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Assistant is a user's reference to an upstream assistant. At most one row per user is active.
type Assistant struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID      string    `gorm:"type:varchar(64);not null;index:uniq_user_assistant,unique,priority:1;index:idx_user_active,priority:1" json:"-"`
	AssistantID string    `gorm:"type:varchar(64);not null;index:uniq_user_assistant,unique,priority:2" json:"assistant_id"`
	Name        string    `gorm:"type:varchar(128);not null" json:"name"`
	IsActive    bool      `gorm:"not null;index:idx_user_active,priority:2" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Assistant) TableName() string { return "user_assistants" }

type AssistantSettings struct {
	ID                    uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID                string    `gorm:"type:varchar(64);not null;index:uniq_settings_user_assistant,unique,priority:1" json:"-"`
	AssistantID           string    `gorm:"type:varchar(64);not null;index:uniq_settings_user_assistant,unique,priority:2" json:"assistant_id"`
	EnableFunctionCalling bool      `gorm:"not null" json:"enable_function_calling"`
	EnableWebSearch       bool      `gorm:"not null" json:"enable_web_search"`
	Model                 *string   `gorm:"type:varchar(64)" json:"model"`
	Temperature           *float64  `json:"temperature"`
	MaxTokens             *int      `json:"max_tokens"`
	CustomInstructions    *string   `gorm:"type:text" json:"custom_instructions"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (AssistantSettings) TableName() string { return "assistant_settings" }

// DefaultSettings is what a lazily created settings row holds.
func DefaultSettings(userID, assistantID string) AssistantSettings {
	return AssistantSettings{
		UserID:                userID,
		AssistantID:           assistantID,
		EnableFunctionCalling: true,
		EnableWebSearch:       false,
	}
}

type Conversation struct {
	ID            string     `gorm:"type:char(36);primaryKey" json:"id"`
	UserID        string     `gorm:"type:varchar(64);not null;index:idx_conv_user_last,priority:1" json:"-"`
	AssistantID   string     `gorm:"type:varchar(64);not null" json:"assistant_id"`
	Title         string     `gorm:"type:varchar(255);not null;default:''" json:"title"`
	ThreadID      *string    `gorm:"type:varchar(64)" json:"thread_id"`
	VectorStoreID *string    `gorm:"type:varchar(64)" json:"-"`
	LastMessageAt *time.Time `gorm:"index:idx_conv_user_last,priority:2" json:"last_message_at"`
	IsDeleted     bool       `gorm:"not null;index" json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Conversation) TableName() string { return "chat_conversations" }

type Message struct {
	ID             uint64              `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string              `gorm:"type:char(36);not null;index:idx_chat_msg_conv_id,priority:1;index:uniq_chat_msg_idempo,unique,priority:1" json:"conversation_id"`
	UserID         string              `gorm:"type:varchar(64);not null;index" json:"-"`
	Role           string              `gorm:"type:varchar(16);not null" json:"role"`
	Content        string              `gorm:"type:text;not null" json:"content"`
	IdempotencyKey *string             `gorm:"type:varchar(128);index:uniq_chat_msg_idempo,unique,priority:2" json:"-"`
	Attachments    []MessageAttachment `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

type MessageAttachment struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	MessageID      uint64 `gorm:"not null;index" json:"-"`
	Name           string `gorm:"type:varchar(255);not null" json:"name"`
	Size           int64  `gorm:"not null" json:"size"`
	MimeType       string `gorm:"type:varchar(128);not null" json:"type"`
	StoragePath    string `gorm:"type:varchar(512);not null" json:"url"`
	UpstreamFileID string `gorm:"type:varchar(64)" json:"-"`
}

func (MessageAttachment) TableName() string { return "chat_message_attachments" }
