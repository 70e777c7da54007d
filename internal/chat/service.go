package chat

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrAssistantNotConfigured = errors.New("chat: no active assistant configured")

// TitleMaxChars bounds the title derived from a conversation's first message.
const TitleMaxChars = 50

type Preset struct {
	AssistantID string
	Name        string
}

// Notifier receives messages after they are committed.
type Notifier interface {
	PublishMessage(ctx context.Context, m Message) error
}

type Service struct {
	repo     *Repo
	presets  []Preset
	notifier Notifier
	log      zerolog.Logger
}

func NewService(repo *Repo, presets []Preset, log zerolog.Logger) *Service {
	return &Service{repo: repo, presets: presets, log: log.With().Str("component", "chat").Logger()}
}

func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// ListAssistants returns the user's assistants, seeding the presets on first access.
func (s *Service) ListAssistants(ctx context.Context, userID string) ([]Assistant, error) {
	list, err := s.repo.ListAssistants(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(list) > 0 || len(s.presets) == 0 {
		return list, nil
	}

	if err := s.InitializePresets(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.ListAssistants(ctx, userID)
}

// InitializePresets inserts the configured presets for a user without assistants.
// The first preset becomes active. Safe to call concurrently.
func (s *Service) InitializePresets(ctx context.Context, userID string) error {
	return s.repo.Transaction(ctx, func(tx *Repo) error {
		n, err := tx.CountAssistants(ctx, userID)
		if err != nil || n > 0 {
			return err
		}
		for i, p := range s.presets {
			a := &Assistant{
				UserID:      userID,
				AssistantID: p.AssistantID,
				Name:        p.Name,
				IsActive:    i == 0,
			}
			if err := tx.InsertAssistantIfAbsent(ctx, a); err != nil {
				return err
			}
		}
		s.log.Info().Str("user_id", userID).Int("count", len(s.presets)).Msg("seeded assistant presets")
		return nil
	})
}

// SetActiveAssistant makes assistantID the only active assistant of the user.
func (s *Service) SetActiveAssistant(ctx context.Context, userID, assistantID string) error {
	return s.repo.Transaction(ctx, func(tx *Repo) error {
		if _, err := tx.GetAssistant(ctx, userID, assistantID); err != nil {
			return err
		}
		if err := tx.ClearActiveAssistants(ctx, userID); err != nil {
			return err
		}
		ok, err := tx.MarkAssistantActive(ctx, userID, assistantID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
}

// ResolveActive returns the user's active assistant and its settings.
// A user without an active assistant gets ErrAssistantNotConfigured.
func (s *Service) ResolveActive(ctx context.Context, userID string) (Assistant, AssistantSettings, error) {
	a, err := s.repo.GetActiveAssistant(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Assistant{}, AssistantSettings{}, ErrAssistantNotConfigured
		}
		return Assistant{}, AssistantSettings{}, err
	}
	settings, err := s.settings(ctx, userID, a.AssistantID)
	if err != nil {
		return Assistant{}, AssistantSettings{}, err
	}
	return *a, settings, nil
}

// GetSettings returns the settings of one of the user's assistants, creating them
// with defaults on first access.
func (s *Service) GetSettings(ctx context.Context, userID, assistantID string) (AssistantSettings, error) {
	if _, err := s.repo.GetAssistant(ctx, userID, assistantID); err != nil {
		return AssistantSettings{}, err
	}
	return s.settings(ctx, userID, assistantID)
}

func (s *Service) settings(ctx context.Context, userID, assistantID string) (AssistantSettings, error) {
	st, err := s.repo.GetSettings(ctx, userID, assistantID)
	if err == nil {
		return *st, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return AssistantSettings{}, err
	}

	def := DefaultSettings(userID, assistantID)
	if err := s.repo.InsertSettingsIfAbsent(ctx, &def); err != nil {
		return AssistantSettings{}, err
	}
	st, err = s.repo.GetSettings(ctx, userID, assistantID)
	if err != nil {
		return AssistantSettings{}, err
	}
	return *st, nil
}

// SettingsUpdate replaces every user-editable setting. Nil clears an override.
type SettingsUpdate struct {
	EnableFunctionCalling bool
	EnableWebSearch       bool
	Model                 *string
	Temperature           *float64
	MaxTokens             *int
	CustomInstructions    *string
}

func (s *Service) UpdateSettings(ctx context.Context, userID, assistantID string, u SettingsUpdate) (AssistantSettings, error) {
	if _, err := s.repo.GetAssistant(ctx, userID, assistantID); err != nil {
		return AssistantSettings{}, err
	}
	st, err := s.settings(ctx, userID, assistantID)
	if err != nil {
		return AssistantSettings{}, err
	}
	st.EnableFunctionCalling = u.EnableFunctionCalling
	st.EnableWebSearch = u.EnableWebSearch
	st.Model = blankToNil(u.Model)
	st.Temperature = u.Temperature
	st.MaxTokens = u.MaxTokens
	st.CustomInstructions = blankToNil(u.CustomInstructions)
	if err := s.repo.SaveSettings(ctx, &st); err != nil {
		return AssistantSettings{}, err
	}
	return st, nil
}

// Conversations

// CreateConversation opens a conversation with assistantID, or the active assistant if empty.
func (s *Service) CreateConversation(ctx context.Context, userID, assistantID, title string) (*Conversation, error) {
	if assistantID == "" {
		a, err := s.repo.GetActiveAssistant(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrAssistantNotConfigured
			}
			return nil, err
		}
		assistantID = a.AssistantID
	} else if _, err := s.repo.GetAssistant(ctx, userID, assistantID); err != nil {
		return nil, err
	}

	conv := &Conversation{
		ID:          uuid.NewString(),
		UserID:      userID,
		AssistantID: assistantID,
		Title:       strings.TrimSpace(title),
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Service) GetConversation(ctx context.Context, userID, id string) (*Conversation, error) {
	return s.repo.GetConversation(ctx, userID, id)
}

func (s *Service) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	return s.repo.ListConversations(ctx, userID)
}

func (s *Service) RenameConversation(ctx context.Context, userID, id, title string) error {
	ok, err := s.repo.UpdateConversation(ctx, userID, id, map[string]any{"title": strings.TrimSpace(title)})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation is a soft delete; messages stay in place.
func (s *Service) DeleteConversation(ctx context.Context, userID, id string) error {
	ok, err := s.repo.UpdateConversation(ctx, userID, id, map[string]any{"is_deleted": true})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ListMessages(ctx context.Context, userID, conversationID string, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if _, err := s.repo.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, conversationID, limit, beforeID)
}

// ConversationThread returns the stored upstream thread id, or "" when none is bound yet.
func (s *Service) ConversationThread(ctx context.Context, userID, conversationID string) (string, error) {
	conv, err := s.repo.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return "", err
	}
	if conv.ThreadID == nil {
		return "", nil
	}
	return *conv.ThreadID, nil
}

// BindThread stores threadID on the conversation unless one is already stored.
// It reports whether the value was written.
func (s *Service) BindThread(ctx context.Context, userID, conversationID, threadID string) (bool, error) {
	return s.repo.BindThread(ctx, userID, conversationID, threadID)
}

func (s *Service) ConversationVectorStore(ctx context.Context, userID, conversationID string) (string, error) {
	conv, err := s.repo.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return "", err
	}
	if conv.VectorStoreID == nil {
		return "", nil
	}
	return *conv.VectorStoreID, nil
}

func (s *Service) BindVectorStore(ctx context.Context, userID, conversationID, vectorStoreID string) (bool, error) {
	return s.repo.BindVectorStore(ctx, userID, conversationID, vectorStoreID)
}

// SaveExchange persists a completed turn: the user message with its attachments and the
// assistant reply. Replaying the same Exchange.Key returns the existing assistant message id.
func (s *Service) SaveExchange(ctx context.Context, ex Exchange) (uint64, error) {
	if ex.Key == "" || ex.ConversationID == "" || ex.UserID == "" {
		return 0, errors.New("chat: exchange key, conversation and user are required")
	}

	userKey := ex.Key + ":user"
	assistantKey := ex.Key + ":assistant"

	var assistantID uint64
	var saved []Message
	err := s.repo.Transaction(ctx, func(tx *Repo) error {
		conv, err := tx.GetConversation(ctx, ex.UserID, ex.ConversationID)
		if err != nil {
			return err
		}

		existing, err := tx.GetMessageByKey(ctx, conv.ID, assistantKey)
		if err == nil {
			assistantID = existing.ID
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		userMsg := &Message{
			ConversationID: conv.ID,
			UserID:         ex.UserID,
			Role:           RoleUser,
			Content:        ex.UserContent,
			IdempotencyKey: &userKey,
		}
		for _, a := range ex.Attachments {
			userMsg.Attachments = append(userMsg.Attachments, MessageAttachment{
				Name:           a.Name,
				Size:           a.Size,
				MimeType:       a.MimeType,
				StoragePath:    a.StoragePath,
				UpstreamFileID: a.UpstreamFileID,
			})
		}
		if err := tx.InsertMessage(ctx, userMsg); err != nil {
			return err
		}

		assistantMsg := &Message{
			ConversationID: conv.ID,
			UserID:         ex.UserID,
			Role:           RoleAssistant,
			Content:        ex.AssistantContent,
			IdempotencyKey: &assistantKey,
		}
		if err := tx.InsertMessage(ctx, assistantMsg); err != nil {
			return err
		}

		fields := map[string]any{"last_message_at": nowUTC()}
		if conv.Title == "" {
			fields["title"] = TitleFromMessage(ex.UserContent)
		}
		if _, err := tx.UpdateConversation(ctx, ex.UserID, conv.ID, fields); err != nil {
			return err
		}

		assistantID = assistantMsg.ID
		saved = []Message{*userMsg, *assistantMsg}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if s.notifier != nil {
		for _, m := range saved {
			if err := s.notifier.PublishMessage(ctx, m); err != nil {
				s.log.Warn().Err(err).Str("conversation_id", m.ConversationID).Uint64("message_id", m.ID).Msg("publish message failed")
			}
		}
	}
	return assistantID, nil
}

// Jobs

func (s *Service) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	return s.repo.CreateJobOrGetExisting(ctx, job)
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

// TitleFromMessage is the first TitleMaxChars characters of the trimmed message.
func TitleFromMessage(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= TitleMaxChars {
		return content
	}
	return string([]rune(content)[:TitleMaxChars])
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
