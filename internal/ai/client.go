package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"resty.dev/v3"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"

	betaHeader       = "OpenAI-Beta"
	assistantsBetaV2 = "assistants=v2"

	errBodyLimit = 4 * 1024
)

// Client talks to an OpenAI-compatible API. Typed calls (threads, files, vector stores)
// go through go-openai; streamed and raw calls go through resty so the response body can
// be handed to the caller untouched.
type Client struct {
	api    *openai.Client
	rc     *resty.Client
	apiKey string
	log    zerolog.Logger
}

func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	log = log.With().Str("component", "upstream").Logger()

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: 90 * time.Second}

	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		rc:     newRestyClient(baseURL, apiKey, log),
		apiKey: apiKey,
		log:    log,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return strings.TrimSpace(c.apiKey) != "" }

type ctxStartKey struct{}

func newRestyClient(baseURL, apiKey string, log zerolog.Logger) *resty.Client {
	rc := resty.New()
	rc.SetBaseURL(baseURL)
	rc.SetHeader("Authorization", "Bearer "+apiKey)
	rc.AddRequestMiddleware(func(_ *resty.Client, r *resty.Request) error {
		r.SetContext(context.WithValue(r.Context(), ctxStartKey{}, time.Now()))
		return nil
	})
	rc.AddResponseMiddleware(func(_ *resty.Client, r *resty.Response) error {
		if r.Request == nil || r.Request.RawRequest == nil {
			return nil
		}
		start, _ := r.Request.Context().Value(ctxStartKey{}).(time.Time)
		ev := log.Debug()
		if r.IsError() {
			ev = log.Warn()
		}
		ev.Int("status", r.StatusCode()).
			Str("method", r.Request.RawRequest.Method).
			Str("path", r.Request.RawRequest.URL.Path).
			Dur("latency", time.Since(start)).
			Msg("upstream request")
		return nil
	})
	return rc
}

// UpstreamError carries the raw upstream failure. It is for logs only.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("upstream %s: status %d: %s", e.Op, e.Status, e.Body)
}

// post sends body and returns the open response. Callers own resp.RawResponse.Body.
func (c *Client) post(ctx context.Context, op, path string, body any, beta bool) (*resty.Response, error) {
	req := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetDoNotParseResponse(true)
	if beta {
		req.SetHeader(betaHeader, assistantsBetaV2)
	}

	resp, err := req.Post(path)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", op, err)
	}
	if resp.IsError() {
		return nil, upstreamError(op, resp)
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return nil, &UpstreamError{Op: op, Status: resp.StatusCode(), Body: "empty response body"}
	}
	return resp, nil
}

// postAndDiscard is post for calls whose response body is not needed.
func (c *Client) postAndDiscard(ctx context.Context, op, path string, body any) error {
	resp, err := c.post(ctx, op, path, body, true)
	if err != nil {
		return err
	}
	defer resp.RawResponse.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.RawResponse.Body, 64*1024))
	return nil
}

func upstreamError(op string, resp *resty.Response) error {
	e := &UpstreamError{Op: op, Status: resp.StatusCode()}
	if resp.RawResponse != nil && resp.RawResponse.Body != nil {
		defer resp.RawResponse.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.RawResponse.Body, errBodyLimit))
		e.Body = strings.TrimSpace(string(b))
	}
	return e
}
