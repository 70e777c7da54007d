package ai

import (
	"context"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// StreamChatCompletion starts a streamed chat completion and returns the raw body.
func (c *Client) StreamChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (io.ReadCloser, error) {
	req.Stream = true
	r := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept-Encoding", "identity").
		SetBody(req).
		SetDoNotParseResponse(true)

	resp, err := r.Post("/chat/completions")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, upstreamError("chat completion", resp)
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return nil, &UpstreamError{Op: "chat completion", Status: resp.StatusCode(), Body: "empty response body"}
	}
	return resp.RawResponse.Body, nil
}
