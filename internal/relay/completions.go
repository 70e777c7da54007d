package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/suPer8Hu/assistant-relay/internal/auth"
	"github.com/suPer8Hu/assistant-relay/internal/common"
	"github.com/suPer8Hu/assistant-relay/internal/metrics"
	"github.com/suPer8Hu/assistant-relay/internal/ratelimit"
)

// CompletionEndpoint is the rate-limit bucket for plain chat completions.
const CompletionEndpoint = "chatgpt"

type CompletionUpstream interface {
	Configured() bool
	StreamChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (io.ReadCloser, error)
}

type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"min=1,max=4000"`
}

// CompletionRequest is the chat relay body.
type CompletionRequest struct {
	Messages       []ChatMessage `json:"messages" validate:"min=1,max=50,dive"`
	ConversationID string        `json:"conversationId" validate:"required,uuid"`
	Model          string        `json:"model"`
}

type CompletionOptions struct {
	Models              []string
	DefaultModel        string
	MaxCompletionTokens int
}

// CompletionRelay forwards a whole conversation to the chat completions API.
type CompletionRelay struct {
	auth     auth.Authenticator
	limiter  ratelimit.Limiter
	upstream CompletionUpstream
	opts     CompletionOptions
	log      zerolog.Logger
}

func NewCompletionRelay(a auth.Authenticator, l ratelimit.Limiter, up CompletionUpstream, opts CompletionOptions, log zerolog.Logger) *CompletionRelay {
	if opts.MaxCompletionTokens <= 0 {
		opts.MaxCompletionTokens = 4096
	}
	return &CompletionRelay{
		auth:     a,
		limiter:  l,
		upstream: up,
		opts:     opts,
		log:      log.With().Str("component", "chat-relay").Logger(),
	}
}

func (r *CompletionRelay) Open(ctx context.Context, call Call) (_ io.ReadCloser, err error) {
	if call.RequestID == "" {
		call.RequestID = common.MustULID()
	}
	log := r.log.With().Str("request_id", call.RequestID).Logger()
	var userID string
	defer func() {
		code := "ok"
		if err != nil {
			e := AsError(err)
			err = e
			code = e.Kind.Code()
			ev := log.Warn()
			if e.Kind.Status() >= 500 {
				ev = log.Error()
			}
			ev.Err(e.Err).Str("user_id", userID).Str("kind", e.Kind.Code()).Msg(e.Message)
		}
		metrics.RelayOutcomes.WithLabelValues(CompletionEndpoint, code).Inc()
	}()

	if r.upstream == nil || !r.upstream.Configured() {
		return nil, fail(KindServiceConfig, errors.New("upstream API key is not configured"))
	}

	id, err := authenticate(ctx, r.auth, call.Authorization)
	if err != nil {
		return nil, err
	}
	userID = id.UserID

	var req CompletionRequest
	if e := decodeBody(call.Body, &req); e != nil {
		return nil, e
	}
	if e := validateStruct(&req); e != nil {
		return nil, e
	}
	model := req.Model
	if model == "" {
		model = r.opts.DefaultModel
	}
	if !slices.Contains(r.opts.Models, model) {
		return nil, invalid(fmt.Sprintf("model: must be one of: %s", strings.Join(r.opts.Models, ", ")))
	}

	if err := admit(ctx, r.limiter, userID, CompletionEndpoint, log); err != nil {
		return nil, err
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	log.Info().Str("user_id", userID).Str("model", model).Msg("chat completion request")
	body, err := r.upstream.StreamChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               model,
		Messages:            msgs,
		MaxCompletionTokens: r.opts.MaxCompletionTokens,
	})
	if err != nil {
		return nil, fail(KindUpstreamFailed, err)
	}
	return body, nil
}
