package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/assistant-relay/internal/ai"
)

type memBlobs map[string][]byte

func (m memBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type fakeUploader struct {
	mu       sync.Mutex
	fail     map[string]bool
	purposes map[string]string
	n        int
}

func (u *fakeUploader) UploadFile(_ context.Context, name string, _ []byte, purpose string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail[name] {
		return "", errors.New("upstream 500")
	}
	u.n++
	if u.purposes == nil {
		u.purposes = map[string]string{}
	}
	u.purposes[name] = purpose
	return fmt.Sprintf("file_%s", name), nil
}

type fakeIndex struct {
	mu       sync.Mutex
	created  int
	added    []string
	attached map[string]string
	failAdd  map[string]bool
	storeID  string
}

func (f *fakeIndex) CreateVectorStore(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return fmt.Sprintf("vs_%d", f.created), nil
}

func (f *fakeIndex) AddVectorStoreFile(_ context.Context, _ string, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd[fileID] {
		return errors.New("index failed")
	}
	f.added = append(f.added, fileID)
	return nil
}

func (f *fakeIndex) AttachVectorStore(_ context.Context, threadID, vsID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attached == nil {
		f.attached = map[string]string{}
	}
	f.attached[threadID] = vsID
	return nil
}

func (f *fakeIndex) ConversationVectorStore(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storeID, nil
}

func (f *fakeIndex) BindVectorStore(_ context.Context, _, _ string, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeID != "" {
		return false, nil
	}
	f.storeID = id
	return true, nil
}

func TestStage_RoutesByTypeAndKeepsOrder(t *testing.T) {
	blobs := memBlobs{
		"u1/1_doc.pdf":   pdfHead,
		"u1/2_pic.png":   pngHead,
		"u1/3_data.csv":  []byte("a,b\n1,2\n"),
		"u1/4_script.py": []byte("print(1)"),
	}
	up := &fakeUploader{}
	p := NewPipeline(blobs, up, Options{Concurrency: 2}, zerolog.Nop())

	refs := p.Stage(context.Background(), Request{
		UserID: "u1",
		Files: []File{
			{Name: "doc.pdf", URL: "u1/1_doc.pdf", Type: "application/pdf", Size: int64(len(pdfHead))},
			{Name: "pic.png", URL: "u1/2_pic.png", Type: "image/png", Size: int64(len(pngHead))},
			{Name: "data.csv", URL: "u1/3_data.csv", Type: "text/csv", Size: 8},
			{Name: "script.py", URL: "u1/4_script.py", Type: "text/x-python", Size: 8},
		},
	})

	require.Len(t, refs, 4)
	assert.Equal(t, []Kind{KindFileSearch, KindImage, KindCodeInterpreter, KindFileSearch},
		[]Kind{refs[0].Kind, refs[1].Kind, refs[2].Kind, refs[3].Kind})
	assert.Equal(t, "file_doc.pdf", refs[0].FileID)
	assert.Equal(t, "u1/2_pic.png", refs[1].StoragePath)
	assert.Equal(t, ai.PurposeVision, up.purposes["pic.png"])
	assert.Equal(t, ai.PurposeAssistants, up.purposes["doc.pdf"])

	msg := BuildMessage("look at these", refs)
	assert.Equal(t, []string{"file_pic.png"}, msg.ImageFileIDs)
	require.Len(t, msg.Attachments, 3)
	assert.Equal(t, ai.ToolCodeInterpreter, msg.Attachments[1].Tools[0].Type)
	assert.Equal(t, ai.ToolFileSearch, msg.Attachments[2].Tools[0].Type)
}

func TestStage_SkipsFailedFiles(t *testing.T) {
	blobs := memBlobs{
		"u1/ok.txt":     []byte("fine"),
		"u1/fake.png":   []byte("not a png at all"),
		"u1/upfail.txt": []byte("x"),
		"u2/theirs.txt": []byte("secret"),
	}
	up := &fakeUploader{fail: map[string]bool{"upfail.txt": true}}
	p := NewPipeline(blobs, up, Options{}, zerolog.Nop())

	refs := p.Stage(context.Background(), Request{
		UserID: "u1",
		Files: []File{
			{Name: "missing.txt", URL: "u1/missing.txt", Type: "text/plain", Size: 1},
			{Name: "fake.png", URL: "u1/fake.png", Type: "image/png", Size: 16},
			{Name: "upfail.txt", URL: "u1/upfail.txt", Type: "text/plain", Size: 1},
			{Name: "theirs.txt", URL: "u2/theirs.txt", Type: "text/plain", Size: 6},
			{Name: "big.txt", URL: "u1/ok.txt", Type: "text/plain", Size: MaxFileSize + 1},
			{Name: "ok.txt", URL: "u1/ok.txt", Type: "text/plain", Size: 4},
		},
	})

	require.Len(t, refs, 1)
	assert.Equal(t, "ok.txt", refs[0].Name)
	assert.Equal(t, 1, up.n)
}

func TestStage_RejectsKeysEscapingTheUserPrefix(t *testing.T) {
	blobs := memBlobs{
		"attacker/mine.txt": []byte("mine"),
		"victim/secret.txt": []byte("secret"),
	}
	up := &fakeUploader{}
	p := NewPipeline(blobs, up, Options{}, zerolog.Nop())

	refs := p.Stage(context.Background(), Request{
		UserID: "attacker",
		Files: []File{
			{Name: "secret.txt", URL: "attacker/../victim/secret.txt", Type: "text/plain", Size: 6},
			{Name: "mine.txt", URL: "attacker/./mine.txt", Type: "text/plain", Size: 4},
		},
	})

	require.Len(t, refs, 1)
	assert.Equal(t, "mine.txt", refs[0].Name)
	assert.Equal(t, "attacker/mine.txt", refs[0].StoragePath)
	assert.Equal(t, 1, up.n)
	assert.NotContains(t, up.purposes, "secret.txt")
}

func TestStage_IndexMode(t *testing.T) {
	blobs := memBlobs{
		"u1/a.pdf": pdfHead,
		"u1/b.txt": []byte("notes"),
		"u1/c.png": pngHead,
	}
	idx := &fakeIndex{failAdd: map[string]bool{"file_b.txt": true}}
	p := NewPipeline(blobs, &fakeUploader{}, Options{Mode: ModeIndex, Indexer: idx, VectorStores: idx}, zerolog.Nop())

	req := Request{
		UserID:         "u1",
		ConversationID: "conv-1",
		ThreadID:       "thread_1",
		Files: []File{
			{Name: "a.pdf", URL: "u1/a.pdf", Type: "application/pdf", Size: 1},
			{Name: "b.txt", URL: "u1/b.txt", Type: "text/plain", Size: 5},
			{Name: "c.png", URL: "u1/c.png", Type: "image/png", Size: 1},
		},
	}
	refs := p.Stage(context.Background(), req)

	require.Len(t, refs, 2)
	assert.Equal(t, KindIndexed, refs[0].Kind)
	assert.Equal(t, KindImage, refs[1].Kind)
	assert.Equal(t, "vs_1", idx.attached["thread_1"])
	assert.Equal(t, []string{"file_a.pdf"}, idx.added)

	msg := BuildMessage("q", refs)
	assert.Empty(t, msg.Attachments, "indexed files are reached through the thread's vector store")

	// The stored vector store is reused for the next message.
	p.Stage(context.Background(), req)
	assert.Equal(t, 1, idx.created)
}

func TestStage_IndexModeWithoutConversationFallsBack(t *testing.T) {
	idx := &fakeIndex{}
	p := NewPipeline(memBlobs{"u1/a.pdf": pdfHead}, &fakeUploader{}, Options{Mode: ModeIndex, Indexer: idx, VectorStores: idx}, zerolog.Nop())

	refs := p.Stage(context.Background(), Request{
		UserID:   "u1",
		ThreadID: "thread_1",
		Files:    []File{{Name: "a.pdf", URL: "u1/a.pdf", Type: "application/pdf", Size: 1}},
	})
	require.Len(t, refs, 1)
	assert.Equal(t, KindFileSearch, refs[0].Kind)
	assert.Zero(t, idx.created)
}
