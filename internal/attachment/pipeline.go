package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/assistant-relay/internal/ai"
	"github.com/suPer8Hu/assistant-relay/internal/metrics"
)

// Kind says how a staged file is exposed to the run.
type Kind string

const (
	KindImage           Kind = "image"
	KindCodeInterpreter Kind = "code_interpreter"
	KindFileSearch      Kind = "file_search"
	// KindIndexed files live in the conversation's vector store and are not listed on the message.
	KindIndexed Kind = "indexed"
)

type Mode string

const (
	ModeMessage Mode = "message"
	ModeIndex   Mode = "index"
)

var ErrForeignObject = errors.New("object does not belong to the user")

// Ref is a file that was uploaded upstream.
type Ref struct {
	FileID      string
	Name        string
	Type        string
	Size        int64
	StoragePath string
	Kind        Kind
}

type Blobs interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type Uploader interface {
	UploadFile(ctx context.Context, name string, data []byte, purpose string) (string, error)
}

type Indexer interface {
	CreateVectorStore(ctx context.Context, name string) (string, error)
	AddVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error
	AttachVectorStore(ctx context.Context, threadID, vectorStoreID string) error
}

// VectorStores persists the per-conversation vector store id.
type VectorStores interface {
	ConversationVectorStore(ctx context.Context, userID, conversationID string) (string, error)
	BindVectorStore(ctx context.Context, userID, conversationID, vectorStoreID string) (bool, error)
}

type Options struct {
	Mode         Mode
	Concurrency  int
	Indexer      Indexer
	VectorStores VectorStores
}

type Pipeline struct {
	blobs  Blobs
	up     Uploader
	idx    Indexer
	stores VectorStores
	mode   Mode
	limit  int
	log    zerolog.Logger
}

func NewPipeline(blobs Blobs, up Uploader, opts Options, log zerolog.Logger) *Pipeline {
	p := &Pipeline{
		blobs:  blobs,
		up:     up,
		idx:    opts.Indexer,
		stores: opts.VectorStores,
		mode:   opts.Mode,
		limit:  opts.Concurrency,
		log:    log.With().Str("component", "attachments").Logger(),
	}
	if p.limit <= 0 {
		p.limit = 3
	}
	if p.mode != ModeIndex || p.idx == nil || p.stores == nil {
		p.mode = ModeMessage
	}
	return p
}

type Request struct {
	UserID         string
	ConversationID string
	ThreadID       string
	Files          []File
}

// Stage uploads every file it can and returns their refs in input order.
// A file that fails any step is logged and left out.
func (p *Pipeline) Stage(ctx context.Context, req Request) []Ref {
	if len(req.Files) == 0 {
		return nil
	}

	staged := make([]*Ref, len(req.Files))
	var g errgroup.Group
	g.SetLimit(p.limit)
	for i, f := range req.Files {
		i, f := i, f
		g.Go(func() error {
			ref, err := p.stageOne(ctx, req.UserID, f)
			if err != nil {
				p.log.Warn().Err(err).
					Str("user_id", req.UserID).
					Str("file", f.Name).
					Str("type", f.Type).
					Msg("attachment skipped")
				metrics.AttachmentsTotal.WithLabelValues("", "failed").Inc()
				return nil
			}
			staged[i] = &ref
			return nil
		})
	}
	_ = g.Wait()

	refs := make([]Ref, 0, len(staged))
	for _, r := range staged {
		if r != nil {
			refs = append(refs, *r)
		}
	}

	if p.mode == ModeIndex && req.ConversationID != "" && req.ThreadID != "" {
		refs = p.index(ctx, req, refs)
	}
	for _, r := range refs {
		metrics.AttachmentsTotal.WithLabelValues(string(r.Kind), "staged").Inc()
	}
	return refs
}

func (p *Pipeline) stageOne(ctx context.Context, userID string, f File) (Ref, error) {
	if err := ValidateMeta(f.Type, f.Size); err != nil {
		return Ref{}, err
	}
	key, ok := OwnedKey(f.URL, userID)
	if !ok {
		return Ref{}, ErrForeignObject
	}

	rc, err := p.blobs.Get(ctx, key)
	if err != nil {
		return Ref{}, fmt.Errorf("download %s: %w", f.URL, err)
	}
	data, err := io.ReadAll(io.LimitReader(rc, MaxFileSize+1))
	rc.Close()
	if err != nil {
		return Ref{}, fmt.Errorf("download %s: %w", f.URL, err)
	}
	if int64(len(data)) > MaxFileSize {
		return Ref{}, ErrFileTooLarge
	}
	if err := CheckContent(f.Type, data[:min(len(data), SniffLen)]); err != nil {
		return Ref{}, err
	}

	kind := routeKind(f.Type)
	purpose := ai.PurposeAssistants
	if kind == KindImage {
		purpose = ai.PurposeVision
	}

	start := time.Now()
	fileID, err := p.up.UploadFile(ctx, SanitizeName(f.Name), data, purpose)
	metrics.StageDuration.WithLabelValues("file_upload").Observe(time.Since(start).Seconds())
	if err != nil {
		return Ref{}, err
	}

	return Ref{
		FileID:      fileID,
		Name:        f.Name,
		Type:        NormalizeType(f.Type),
		Size:        int64(len(data)),
		StoragePath: key,
		Kind:        kind,
	}, nil
}

func routeKind(declared string) Kind {
	switch t := NormalizeType(declared); {
	case IsImage(t):
		return KindImage
	case t == "text/csv":
		return KindCodeInterpreter
	default:
		return KindFileSearch
	}
}

// index moves file_search refs into the conversation's vector store.
// When the store cannot be prepared the refs stay message attachments.
func (p *Pipeline) index(ctx context.Context, req Request, refs []Ref) []Ref {
	var pending int
	for _, r := range refs {
		if r.Kind == KindFileSearch {
			pending++
		}
	}
	if pending == 0 {
		return refs
	}

	log := p.log.With().Str("user_id", req.UserID).Str("conversation_id", req.ConversationID).Logger()
	vsID, err := p.vectorStore(ctx, req.UserID, req.ConversationID)
	if err != nil {
		log.Warn().Err(err).Msg("vector store unavailable, attaching files to the message")
		return refs
	}
	if err := p.idx.AttachVectorStore(ctx, req.ThreadID, vsID); err != nil {
		log.Warn().Err(err).Str("vector_store_id", vsID).Msg("attach vector store failed, attaching files to the message")
		return refs
	}

	out := refs[:0]
	for _, r := range refs {
		if r.Kind != KindFileSearch {
			out = append(out, r)
			continue
		}
		if err := p.idx.AddVectorStoreFile(ctx, vsID, r.FileID); err != nil {
			log.Warn().Err(err).Str("file", r.Name).Msg("attachment skipped")
			metrics.AttachmentsTotal.WithLabelValues(string(KindIndexed), "failed").Inc()
			continue
		}
		r.Kind = KindIndexed
		out = append(out, r)
	}
	return out
}

func (p *Pipeline) vectorStore(ctx context.Context, userID, conversationID string) (string, error) {
	id, err := p.stores.ConversationVectorStore(ctx, userID, conversationID)
	if err != nil || id != "" {
		return id, err
	}

	id, err = p.idx.CreateVectorStore(ctx, "conversation-"+conversationID)
	if err != nil {
		return "", err
	}
	bound, err := p.stores.BindVectorStore(ctx, userID, conversationID, id)
	if err != nil {
		return "", err
	}
	if bound {
		return id, nil
	}
	// Another request bound one first.
	id, err = p.stores.ConversationVectorStore(ctx, userID, conversationID)
	if err == nil && id == "" {
		err = errors.New("vector store was not bound")
	}
	return id, err
}

// BuildMessage turns staged refs into the upstream message payload.
func BuildMessage(content string, refs []Ref) ai.MessageInput {
	in := ai.MessageInput{Content: content}
	for _, r := range refs {
		switch r.Kind {
		case KindImage:
			in.ImageFileIDs = append(in.ImageFileIDs, r.FileID)
		case KindCodeInterpreter:
			in.Attachments = append(in.Attachments, ai.MessageAttachment{
				FileID: r.FileID,
				Tools:  []ai.Tool{{Type: ai.ToolCodeInterpreter}},
			})
		case KindFileSearch:
			in.Attachments = append(in.Attachments, ai.MessageAttachment{
				FileID: r.FileID,
				Tools:  []ai.Tool{{Type: ai.ToolFileSearch}},
			})
		}
	}
	return in
}
