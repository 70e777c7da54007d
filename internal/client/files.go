package client

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/suPer8Hu/assistant-relay/internal/attachment"
)

// LocalFile is a file checked and ready for upload.
type LocalFile struct {
	Path string
	Name string
	Type string
	Size int64
}

// ValidateFiles checks count, size, type and content of local files without
// touching the network. The first failing file stops the check.
func ValidateFiles(paths []string) ([]LocalFile, error) {
	if err := attachment.ValidateCount(len(paths)); err != nil {
		return nil, err
	}
	out := make([]LocalFile, 0, len(paths))
	for _, p := range paths {
		lf, err := inspect(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, lf)
	}
	return out, nil
}

func inspect(path string) (LocalFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return LocalFile{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return LocalFile{}, err
	}
	head := make([]byte, attachment.SniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return LocalFile{}, err
	}
	head = head[:n]

	typ := detectType(path, head)
	if err := attachment.Validate(typ, st.Size(), head); err != nil {
		return LocalFile{}, err
	}
	return LocalFile{
		Path: path,
		Name: filepath.Base(path),
		Type: typ,
		Size: st.Size(),
	}, nil
}

// detectType trusts the extension when it names an allowed type, else sniffs.
func detectType(path string, head []byte) string {
	if t := attachment.NormalizeType(mime.TypeByExtension(filepath.Ext(path))); attachment.Allowed(t) {
		return t
	}
	return attachment.NormalizeType(mimetype.Detect(head).String())
}

// Upload stores a validated file and returns the reference to pass to Send.
func (c *Client) Upload(ctx context.Context, lf LocalFile) (attachment.File, error) {
	f, err := os.Open(lf.Path)
	if err != nil {
		return attachment.File{}, err
	}
	defer f.Close()

	req := c.rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetMultipartField("file", lf.Name, lf.Type, f)
	resp, err := execute(req, http.MethodPost, "/attachments")
	if err != nil {
		return attachment.File{}, err
	}

	var out attachment.File
	if err := decodeData(resp, http.MethodPost, "/attachments", &out); err != nil {
		return attachment.File{}, err
	}
	return out, nil
}
