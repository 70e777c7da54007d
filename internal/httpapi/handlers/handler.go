package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/suPer8Hu/assistant-relay/internal/chat"
	"github.com/suPer8Hu/assistant-relay/internal/common"
	"github.com/suPer8Hu/assistant-relay/internal/config"
	"github.com/suPer8Hu/assistant-relay/internal/httpapi/middleware"
	"github.com/suPer8Hu/assistant-relay/internal/relay"
	"github.com/suPer8Hu/assistant-relay/internal/store/objectstore"
)

type TokenRevoker interface {
	RevokeToken(ctx context.Context, tokenHash string, expiresAt time.Time) error
}

type EventSource interface {
	SubscribeConversation(ctx context.Context, conversationID string) *redis.PubSub
}

type Handler struct {
	DB          *gorm.DB
	Cfg         config.Config
	Log         zerolog.Logger
	ChatSvc     *chat.Service
	Relay       *relay.Relay
	Completions *relay.CompletionRelay
	Blobs       objectstore.Store
	// Revoker and Events may be nil when redis is not configured.
	Revoker TokenRevoker
	Events  EventSource
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func (h *Handler) userID(c *gin.Context) (string, bool) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required")
	}
	return uid, ok
}

// chatError maps chat service errors to the envelope.
func (h *Handler) chatError(c *gin.Context, err error, notFound string) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, common.CodeNotFound, notFound)
	case errors.Is(err, chat.ErrAssistantNotConfigured):
		common.Fail(c, http.StatusBadRequest, "assistant-not-configured", "no assistant configured, choose an assistant first")
	default:
		h.Log.Error().Err(err).
			Str("request_id", middleware.RequestIDFrom(c)).
			Str("user_id", c.GetString(middleware.UserIDKey)).
			Str("path", c.FullPath()).
			Msg("request failed")
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "internal server error")
	}
}
