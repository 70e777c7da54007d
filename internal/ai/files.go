package ai

import (
	"context"
	"fmt"
	"net/url"

	openai "github.com/sashabaranov/go-openai"
)

const (
	PurposeAssistants = string(openai.PurposeAssistants)
	PurposeVision     = "vision"
)

// UploadFile stores data in the upstream file store and returns its file id.
func (c *Client) UploadFile(ctx context.Context, name string, data []byte, purpose string) (string, error) {
	f, err := c.api.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: openai.PurposeType(purpose),
	})
	if err != nil {
		return "", fmt.Errorf("upstream upload file: %w", err)
	}
	return f.ID, nil
}

func (c *Client) CreateVectorStore(ctx context.Context, name string) (string, error) {
	vs, err := c.api.CreateVectorStore(ctx, openai.VectorStoreRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("upstream create vector store: %w", err)
	}
	return vs.ID, nil
}

func (c *Client) AddVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error {
	if _, err := c.api.CreateVectorStoreFile(ctx, vectorStoreID, openai.VectorStoreFileRequest{FileID: fileID}); err != nil {
		return fmt.Errorf("upstream add vector store file: %w", err)
	}
	return nil
}

type threadToolResources struct {
	ToolResources struct {
		FileSearch struct {
			VectorStoreIDs []string `json:"vector_store_ids"`
		} `json:"file_search"`
	} `json:"tool_resources"`
}

// AttachVectorStore points the thread's file_search tool at vectorStoreID.
func (c *Client) AttachVectorStore(ctx context.Context, threadID, vectorStoreID string) error {
	var body threadToolResources
	body.ToolResources.FileSearch.VectorStoreIDs = []string{vectorStoreID}
	return c.postAndDiscard(ctx, "attach vector store", "/threads/"+url.PathEscape(threadID), body)
}
