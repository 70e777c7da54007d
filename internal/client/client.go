// Package client is a Go client for the relay API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"
)

const DefaultTimeout = 60 * time.Second

var ErrTimeout = errors.New("request timed out")

// APIError is an error envelope returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (status %d)", e.Code, e.Status)
	}
	return e.Message
}

type Options struct {
	BaseURL string
	Token   string
	// Timeout bounds one Send, stream included. Zero means DefaultTimeout.
	Timeout time.Duration
}

type Client struct {
	rc      *resty.Client
	timeout time.Duration
	log     zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Client {
	rc := resty.New()
	rc.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	if opts.Token != "" {
		rc.SetHeader("Authorization", "Bearer "+opts.Token)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{rc: rc, timeout: opts.Timeout, log: log}
}

func (c *Client) Close() error { return c.rc.Close() }

type envelope struct {
	Code  string          `json:"code"`
	Error string          `json:"error"`
	Data  json.RawMessage `json:"data"`
}

// open sends the request and returns the response with its body unread.
func (c *Client) open(ctx context.Context, method, path string, body any, header http.Header) (*resty.Response, error) {
	req := c.rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if body != nil {
		req.SetBody(body)
		req.SetHeader("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.SetHeader(k, v)
		}
	}

	return execute(req, method, path)
}

// execute runs req and turns timeouts and error envelopes into errors.
func execute(req *resty.Request, method, path string) (*resty.Response, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, err
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return nil, &APIError{Status: resp.StatusCode(), Code: "empty-response"}
	}
	if resp.IsError() {
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *resty.Response) error {
	defer resp.RawResponse.Body.Close()
	e := &APIError{Status: resp.StatusCode(), Code: "http-error"}
	var env envelope
	raw, _ := io.ReadAll(io.LimitReader(resp.RawResponse.Body, 64*1024))
	if json.Unmarshal(raw, &env) == nil && env.Code != "" {
		e.Code = env.Code
		e.Message = env.Error
	}
	return e
}

// call decodes the data field of a JSON envelope into out.
func (c *Client) call(ctx context.Context, method, path string, body any, header http.Header, out any) error {
	resp, err := c.open(ctx, method, path, body, header)
	if err != nil {
		return err
	}
	return decodeData(resp, method, path, out)
}

func decodeData(resp *resty.Response, method, path string, out any) error {
	defer resp.RawResponse.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.RawResponse.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

type Conversation struct {
	ID            string     `json:"id"`
	AssistantID   string     `json:"assistant_id"`
	Title         string     `json:"title"`
	ThreadID      *string    `json:"thread_id"`
	LastMessageAt *time.Time `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.call(ctx, http.MethodGet, "/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	var conv Conversation
	err := c.call(ctx, http.MethodPost, "/conversations", map[string]string{"title": title}, nil, &conv)
	return conv, err
}

// Messages returns the newest page of a conversation's persisted messages.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int) ([]Record, error) {
	path := fmt.Sprintf("/conversations/%s/messages?limit=%d", conversationID, limit)
	var out struct {
		Messages []Record `json:"messages"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}
