package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/assistant-relay/internal/chat"
)

type ThreadCreator interface {
	CreateThread(ctx context.Context) (string, error)
}

// Conversations stores the thread bound to each conversation.
type Conversations interface {
	ConversationThread(ctx context.Context, userID, conversationID string) (string, error)
	BindThread(ctx context.Context, userID, conversationID, threadID string) (bool, error)
}

const bindTimeout = 5 * time.Second

// ThreadManager picks the upstream thread for a request.
type ThreadManager struct {
	upstream   ThreadCreator
	convs      Conversations
	background func(func())
	log        zerolog.Logger
}

func NewThreadManager(upstream ThreadCreator, convs Conversations, background func(func()), log zerolog.Logger) *ThreadManager {
	if background == nil {
		background = func(f func()) { go f() }
	}
	return &ThreadManager{upstream: upstream, convs: convs, background: background, log: log}
}

// Ensure returns the conversation's stored thread, else the supplied one, else a new thread.
// A thread the conversation does not have yet is bound to it without blocking the request;
// a stored thread is never replaced.
func (m *ThreadManager) Ensure(ctx context.Context, userID, threadID, conversationID string) (string, error) {
	if conversationID != "" {
		stored, err := m.convs.ConversationThread(ctx, userID, conversationID)
		if err != nil {
			if errors.Is(err, chat.ErrNotFound) {
				return "", invalid("conversationId: conversation not found")
			}
			return "", fail(KindInternal, err)
		}
		if stored != "" {
			if threadID != "" && threadID != stored {
				m.log.Warn().
					Str("user_id", userID).
					Str("conversation_id", conversationID).
					Str("supplied_thread_id", threadID).
					Str("thread_id", stored).
					Msg("ignoring supplied thread, conversation is bound to another")
			}
			return stored, nil
		}
	}

	if threadID == "" {
		created, err := m.upstream.CreateThread(ctx)
		if err != nil {
			return "", fail(KindThreadCreateFailed, err)
		}
		threadID = created
		m.log.Info().Str("user_id", userID).Str("thread_id", threadID).Msg("thread created")
	}

	if conversationID != "" {
		m.bind(ctx, userID, conversationID, threadID)
	}
	return threadID, nil
}

func (m *ThreadManager) bind(ctx context.Context, userID, conversationID, threadID string) {
	bctx := context.WithoutCancel(ctx)
	m.background(func() {
		ctx, cancel := context.WithTimeout(bctx, bindTimeout)
		defer cancel()

		bound, err := m.convs.BindThread(ctx, userID, conversationID, threadID)
		log := m.log.With().
			Str("user_id", userID).
			Str("conversation_id", conversationID).
			Str("thread_id", threadID).
			Logger()
		switch {
		case err != nil:
			log.Error().Err(err).Msg("bind thread failed")
		case !bound:
			log.Info().Msg("conversation already bound to a thread")
		}
	})
}
