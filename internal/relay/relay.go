// Package relay turns an authenticated chat request into a streamed assistant run.
package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/assistant-relay/internal/ai"
	"github.com/suPer8Hu/assistant-relay/internal/attachment"
	"github.com/suPer8Hu/assistant-relay/internal/auth"
	"github.com/suPer8Hu/assistant-relay/internal/chat"
	"github.com/suPer8Hu/assistant-relay/internal/common"
	"github.com/suPer8Hu/assistant-relay/internal/metrics"
	"github.com/suPer8Hu/assistant-relay/internal/ratelimit"
)

// Endpoint is the rate-limit bucket for the assistant relay.
const Endpoint = "assistant-relay"

const recordTimeout = 10 * time.Second

// Upstream is the assistants API surface the relay drives.
type Upstream interface {
	Configured() bool
	ThreadCreator
	AppendMessage(ctx context.Context, threadID string, in ai.MessageInput) error
	StartRun(ctx context.Context, threadID string, p ai.RunParams) (io.ReadCloser, error)
}

type Assistants interface {
	ResolveActive(ctx context.Context, userID string) (chat.Assistant, chat.AssistantSettings, error)
}

type Stager interface {
	Stage(ctx context.Context, req attachment.Request) []attachment.Ref
}

type Deps struct {
	Auth          auth.Authenticator
	Limiter       ratelimit.Limiter
	Assistants    Assistants
	Conversations Conversations
	Upstream      Upstream
	// Attachments may be nil; files are then ignored.
	Attachments Stager
	// Recorder may be nil; completed exchanges are then not persisted.
	Recorder chat.Recorder
	// Background runs detached work. Defaults to a new goroutine.
	Background func(func())
	Log        zerolog.Logger
}

type Relay struct {
	auth       auth.Authenticator
	limiter    ratelimit.Limiter
	assistants Assistants
	upstream   Upstream
	threads    *ThreadManager
	stager     Stager
	recorder   chat.Recorder
	background func(func())
	log        zerolog.Logger
}

func New(d Deps) *Relay {
	if d.Background == nil {
		d.Background = func(f func()) { go f() }
	}
	log := d.Log.With().Str("component", "relay").Logger()
	return &Relay{
		auth:       d.Auth,
		limiter:    d.Limiter,
		assistants: d.Assistants,
		upstream:   d.Upstream,
		threads:    NewThreadManager(d.Upstream, d.Conversations, d.Background, log),
		stager:     d.Attachments,
		recorder:   d.Recorder,
		background: d.Background,
		log:        log,
	}
}

// Call is one inbound relay request.
type Call struct {
	RequestID     string
	Authorization string
	Body          io.Reader
}

// Stream is an open upstream run. The caller must close Body.
type Stream struct {
	ThreadID string
	Body     io.ReadCloser
}

// Open runs every stage up to the start of the streamed run. Failures are *Error.
func (r *Relay) Open(ctx context.Context, call Call) (_ *Stream, err error) {
	if call.RequestID == "" {
		if call.RequestID, err = common.NewULID(); err != nil {
			return nil, fail(KindInternal, err)
		}
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
		metrics.RelayOutcomes.WithLabelValues(Endpoint, code).Inc()
	}()

	if r.upstream == nil || !r.upstream.Configured() {
		return nil, fail(KindServiceConfig, errors.New("upstream API key is not configured"))
	}

	id, err := authenticate(ctx, r.auth, call.Authorization)
	if err != nil {
		return nil, err
	}
	userID = id.UserID

	var req Request
	if e := decodeBody(call.Body, &req); e != nil {
		return nil, e
	}
	if e := validateStruct(&req); e != nil {
		return nil, e
	}

	if err := admit(ctx, r.limiter, userID, Endpoint, log); err != nil {
		return nil, err
	}

	asst, settings, err := r.assistants.ResolveActive(ctx, userID)
	if err != nil {
		if errors.Is(err, chat.ErrAssistantNotConfigured) {
			return nil, fail(KindAssistantNotConfigured, err)
		}
		return nil, fail(KindInternal, err)
	}

	start := time.Now()
	threadID, err := r.threads.Ensure(ctx, userID, strings.TrimSpace(req.ThreadID), req.ConversationID)
	metrics.StageDuration.WithLabelValues("thread").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	var refs []attachment.Ref
	if len(req.Files) > 0 && r.stager != nil {
		start = time.Now()
		refs = r.stager.Stage(ctx, attachment.Request{
			UserID:         userID,
			ConversationID: req.ConversationID,
			ThreadID:       threadID,
			Files:          req.Files,
		})
		metrics.StageDuration.WithLabelValues("attachments").Observe(time.Since(start).Seconds())
		if len(refs) < len(req.Files) {
			log.Warn().Str("user_id", userID).
				Int("requested", len(req.Files)).
				Int("staged", len(refs)).
				Msg("some attachments were skipped")
		}
	}

	start = time.Now()
	err = r.upstream.AppendMessage(ctx, threadID, attachment.BuildMessage(req.Message, refs))
	metrics.StageDuration.WithLabelValues("message").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fail(KindMessageSendFailed, err)
	}

	start = time.Now()
	body, err := r.upstream.StartRun(ctx, threadID, runParams(asst, settings, len(refs) > 0))
	metrics.StageDuration.WithLabelValues("run").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fail(KindRunStartFailed, err)
	}

	log.Info().Str("user_id", userID).Str("thread_id", threadID).
		Str("assistant_id", asst.AssistantID).Int("attachments", len(refs)).
		Msg("run streaming")

	if req.ConversationID == "" || r.recorder == nil {
		return &Stream{ThreadID: threadID, Body: body}, nil
	}
	// The request id comes from the caller; the exchange key must not.
	key, err := common.NewULID()
	if err != nil {
		body.Close()
		return nil, fail(KindInternal, err)
	}
	ex := chat.Exchange{
		Key:            key,
		UserID:         userID,
		ConversationID: req.ConversationID,
		ThreadID:       threadID,
		UserContent:    req.Message,
		Attachments:    attachmentMeta(refs),
	}
	return &Stream{ThreadID: threadID, Body: r.observe(ctx, body, ex, log)}, nil
}

func authenticate(ctx context.Context, a auth.Authenticator, header string) (auth.Identity, error) {
	token, ok := auth.BearerToken(header)
	if !ok {
		return auth.Identity{}, fail(KindAuthenticationRequired, auth.ErrUnauthenticated)
	}
	id, err := a.Authenticate(ctx, token)
	if err != nil {
		return auth.Identity{}, fail(KindAuthenticationRequired, err)
	}
	return id, nil
}

// admit denies when the limiter cannot answer.
func admit(ctx context.Context, l ratelimit.Limiter, userID, endpoint string, log zerolog.Logger) error {
	ok, err := l.Admit(ctx, userID, endpoint)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("endpoint", endpoint).Msg("rate limit check failed")
		ok = false
	}
	if !ok {
		metrics.RateLimitDenied.WithLabelValues(endpoint).Inc()
		return fail(KindRateLimitExceeded, err)
	}
	return nil
}

// runParams forwards only explicitly configured settings.
func runParams(a chat.Assistant, s chat.AssistantSettings, staged bool) ai.RunParams {
	p := ai.RunParams{
		AssistantID:         a.AssistantID,
		Model:               nonBlank(s.Model),
		Temperature:         s.Temperature,
		MaxCompletionTokens: s.MaxTokens,
	}
	p.AdditionalInstructions = nonBlank(s.CustomInstructions)
	if !s.EnableFunctionCalling && !staged {
		p.ToolChoice = "none"
	}
	return p
}

func nonBlank(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func attachmentMeta(refs []attachment.Ref) []chat.AttachmentMeta {
	if len(refs) == 0 {
		return nil
	}
	out := make([]chat.AttachmentMeta, 0, len(refs))
	for _, r := range refs {
		out = append(out, chat.AttachmentMeta{
			Name:           r.Name,
			Size:           r.Size,
			MimeType:       r.Type,
			StoragePath:    r.StoragePath,
			UpstreamFileID: r.FileID,
		})
	}
	return out
}

// observe tees the forwarded stream into a Tap and records the exchange once the
// stream has ended cleanly.
func (r *Relay) observe(ctx context.Context, body io.ReadCloser, ex chat.Exchange, log zerolog.Logger) io.ReadCloser {
	rctx := context.WithoutCancel(ctx)
	return &observedBody{
		rc: body,
		onClose: func(eof bool, tap *ai.Tap) {
			acc := tap.Accumulator()
			if !eof || !acc.Finished() {
				if err := acc.Err(); err != nil {
					log.Warn().Err(err).Str("user_id", ex.UserID).Msg("run ended with a failure event")
				}
				return
			}
			if strings.TrimSpace(acc.Text()) == "" {
				metrics.ExchangesRecorded.WithLabelValues("empty").Inc()
				log.Warn().Str("user_id", ex.UserID).
					Str("conversation_id", ex.ConversationID).Msg("run produced no text, exchange not recorded")
				return
			}
			ex.AssistantContent = acc.Text()
			r.background(func() {
				ctx, cancel := context.WithTimeout(rctx, recordTimeout)
				defer cancel()
				if err := r.recorder.Record(ctx, ex); err != nil {
					metrics.ExchangesRecorded.WithLabelValues("failed").Inc()
					log.Error().Err(err).Str("user_id", ex.UserID).
						Str("conversation_id", ex.ConversationID).Msg("record exchange failed")
					return
				}
				metrics.ExchangesRecorded.WithLabelValues("ok").Inc()
			})
		},
	}
}

type observedBody struct {
	rc      io.ReadCloser
	tap     ai.Tap
	eof     bool
	once    sync.Once
	onClose func(eof bool, tap *ai.Tap)
}

func (b *observedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		_, _ = b.tap.Write(p[:n])
	}
	if errors.Is(err, io.EOF) {
		b.eof = true
	}
	return n, err
}

func (b *observedBody) Close() error {
	err := b.rc.Close()
	b.once.Do(func() {
		b.tap.Flush()
		b.onClose(b.eof, &b.tap)
	})
	return err
}
