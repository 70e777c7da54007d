package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

type fakeUpstream struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeUpstream) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, h func(w http.ResponseWriter, r *http.Request)) (*Client, *fakeUpstream) {
	t.Helper()
	up := &fakeUpstream{handler: h}
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/v1/", "sk-test", zerolog.Nop()), up
}

func TestCreateThread(t *testing.T) {
	c, up := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"thread_abc","object":"thread","created_at":1}`)
	})

	id, err := c.CreateThread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_abc", id)

	req := up.last()
	assert.Equal(t, "/v1/threads", req.Path)
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
	assert.Equal(t, "assistants=v2", req.Header.Get("OpenAI-Beta"))
}

func TestAppendMessage_WithAttachmentsAndImages(t *testing.T) {
	c, up := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"msg_1"}`)
	})

	err := c.AppendMessage(context.Background(), "thread_1", MessageInput{
		Content:      "look",
		ImageFileIDs: []string{"file_img"},
		Attachments:  []MessageAttachment{{FileID: "file_doc", Tools: []Tool{{Type: ToolFileSearch}}}},
	})
	require.NoError(t, err)

	req := up.last()
	assert.Equal(t, "/v1/threads/thread_1/messages", req.Path)
	assert.Equal(t, "assistants=v2", req.Header.Get("OpenAI-Beta"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "user", body["role"])
	parts := body["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "image_file", parts[1].(map[string]any)["type"])
	atts := body["attachments"].([]any)
	assert.Equal(t, "file_doc", atts[0].(map[string]any)["file_id"])
}

func TestAppendMessage_PlainContent(t *testing.T) {
	c, up := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	require.NoError(t, c.AppendMessage(context.Background(), "thread_1", MessageInput{Content: "Hello"}))

	var body map[string]any
	require.NoError(t, json.Unmarshal(up.last().Body, &body))
	assert.Equal(t, "Hello", body["content"])
	_, hasAttachments := body["attachments"]
	assert.False(t, hasAttachments)
}

func TestStartRun_OmitsUnsetParams(t *testing.T) {
	c, up := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sampleStream)
	})

	body, err := c.StartRun(context.Background(), "thread_1", RunParams{AssistantID: "asst_1"})
	require.NoError(t, err)
	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, sampleStream, string(raw))

	var sent map[string]any
	require.NoError(t, json.Unmarshal(up.last().Body, &sent))
	assert.Equal(t, "asst_1", sent["assistant_id"])
	assert.Equal(t, true, sent["stream"])
	for _, k := range []string{"temperature", "max_completion_tokens", "additional_instructions", "model", "tool_choice"} {
		_, ok := sent[k]
		assert.False(t, ok, "%s must be omitted when unset", k)
	}
}

func TestStartRun_ForwardsConfiguredParams(t *testing.T) {
	c, up := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})
	temp := 0.0
	maxTokens := 500
	instr := "Be brief"
	body, err := c.StartRun(context.Background(), "thread_1", RunParams{
		AssistantID:            "asst_1",
		Temperature:            &temp,
		MaxCompletionTokens:    &maxTokens,
		AdditionalInstructions: &instr,
	})
	require.NoError(t, err)
	_ = body.Close()

	var sent map[string]any
	require.NoError(t, json.Unmarshal(up.last().Body, &sent))
	assert.Equal(t, 0.0, sent["temperature"], "an explicit zero temperature is still sent")
	assert.Equal(t, 500.0, sent["max_completion_tokens"])
	assert.Equal(t, "Be brief", sent["additional_instructions"])
}

func TestStartRun_UpstreamErrorKeepsDetail(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"No assistant found"}}`)
	})

	_, err := c.StartRun(context.Background(), "thread_1", RunParams{AssistantID: "asst_x"})
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusBadRequest, ue.Status)
	assert.Contains(t, ue.Body, "No assistant found")
}

func TestUploadFile(t *testing.T) {
	c, up := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"file_123","object":"file","bytes":4,"created_at":1,"filename":"a.txt","purpose":"assistants"}`)
	})

	id, err := c.UploadFile(context.Background(), "a.txt", []byte("data"), PurposeAssistants)
	require.NoError(t, err)
	assert.Equal(t, "file_123", id)

	req := up.last()
	assert.Equal(t, "/v1/files", req.Path)
	assert.True(t, strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data"))
	assert.Contains(t, string(req.Body), "assistants")
}

func TestStreamChatCompletion(t *testing.T) {
	c, up := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n")
	})

	body, err := c.StreamChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:               "gpt-5-mini-2025-08-07",
		Messages:            []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
		MaxCompletionTokens: 4096,
	})
	require.NoError(t, err)
	defer body.Close()
	raw, _ := io.ReadAll(body)
	assert.Contains(t, string(raw), "[DONE]")

	var sent map[string]any
	require.NoError(t, json.Unmarshal(up.last().Body, &sent))
	assert.Equal(t, true, sent["stream"])
	assert.Equal(t, 4096.0, sent["max_completion_tokens"])
	assert.Empty(t, up.last().Header.Get("OpenAI-Beta"))
}

func TestConfigured(t *testing.T) {
	assert.False(t, NewClient("", " ", zerolog.Nop()).Configured())
	assert.True(t, NewClient("", "sk", zerolog.Nop()).Configured())
}
