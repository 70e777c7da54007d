package ai

import (
	"context"
	"fmt"
	"io"
	"net/url"

	openai "github.com/sashabaranov/go-openai"
)

// Attachment tool types.
const (
	ToolFileSearch      = "file_search"
	ToolCodeInterpreter = "code_interpreter"
)

type Tool struct {
	Type string `json:"type"`
}

type MessageAttachment struct {
	FileID string `json:"file_id"`
	Tools  []Tool `json:"tools"`
}

// MessageInput is a user message to append to a thread.
type MessageInput struct {
	Content      string
	ImageFileIDs []string
	Attachments  []MessageAttachment
}

type contentPart struct {
	Type      string     `json:"type"`
	Text      string     `json:"text,omitempty"`
	ImageFile *imageFile `json:"image_file,omitempty"`
}

type imageFile struct {
	FileID string `json:"file_id"`
}

type messageRequest struct {
	Role        string              `json:"role"`
	Content     any                 `json:"content"`
	Attachments []MessageAttachment `json:"attachments,omitempty"`
}

// RunParams starts a streamed run. Nil fields are omitted so the assistant's own
// configuration applies.
type RunParams struct {
	AssistantID            string   `json:"assistant_id"`
	Stream                 bool     `json:"stream"`
	Model                  *string  `json:"model,omitempty"`
	Temperature            *float64 `json:"temperature,omitempty"`
	MaxCompletionTokens    *int     `json:"max_completion_tokens,omitempty"`
	AdditionalInstructions *string  `json:"additional_instructions,omitempty"`
	ToolChoice             any      `json:"tool_choice,omitempty"`
}

func (c *Client) CreateThread(ctx context.Context) (string, error) {
	th, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("upstream create thread: %w", err)
	}
	if th.ID == "" {
		return "", &UpstreamError{Op: "create thread", Body: "empty thread id"}
	}
	return th.ID, nil
}

func (c *Client) AppendMessage(ctx context.Context, threadID string, in MessageInput) error {
	req := messageRequest{Role: "user", Content: in.Content, Attachments: in.Attachments}
	if len(in.ImageFileIDs) > 0 {
		parts := []contentPart{{Type: "text", Text: in.Content}}
		for _, id := range in.ImageFileIDs {
			parts = append(parts, contentPart{Type: "image_file", ImageFile: &imageFile{FileID: id}})
		}
		req.Content = parts
	}
	return c.postAndDiscard(ctx, "append message", "/threads/"+url.PathEscape(threadID)+"/messages", req)
}

// StartRun starts a streamed run and returns the raw event-stream body.
func (c *Client) StartRun(ctx context.Context, threadID string, p RunParams) (io.ReadCloser, error) {
	p.Stream = true
	resp, err := c.post(ctx, "start run", "/threads/"+url.PathEscape(threadID)+"/runs", p, true)
	if err != nil {
		return nil, err
	}
	return resp.RawResponse.Body, nil
}
