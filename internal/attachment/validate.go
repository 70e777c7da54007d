// Package attachment validates user files and stages them with the upstream file store.
package attachment

import (
	"errors"
	"fmt"
	"mime"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/suPer8Hu/assistant-relay/internal/store/objectstore"
)

const (
	MaxFiles          = 5
	MaxFileSize int64 = 10 << 20

	// SniffLen is how much of a file's head is needed for CheckContent.
	SniffLen = 3072
)

var (
	ErrTooManyFiles    = fmt.Errorf("max %d files per message", MaxFiles)
	ErrFileTooLarge    = errors.New("file exceeds the 10 MB limit")
	ErrEmptyFile       = errors.New("file is empty")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrInvalidFile     = errors.New("invalid file: content does not match the declared type")
)

// allowed maps each accepted MIME type to the detected type its content must match.
// An empty value means the content is not checked.
var allowed = map[string]string{
	"application/pdf":        "application/pdf",
	"image/png":              "image/png",
	"image/jpeg":             "image/jpeg",
	"image/jpg":              "image/jpeg",
	"image/webp":             "image/webp",
	"image/gif":              "image/gif",
	"text/plain":             "",
	"text/csv":               "",
	"application/json":       "",
	"text/javascript":        "",
	"application/javascript": "",
	"text/x-python":          "",
	"text/x-java":            "",
	"text/html":              "",
	"text/css":               "",
}

// File is a blob already placed in the object store, as referenced by a relay request.
type File struct {
	Name string `json:"name" validate:"required,max=255"`
	URL  string `json:"url" validate:"required,max=1024"`
	Type string `json:"type" validate:"required"`
	Size int64  `json:"size" validate:"gte=0"`
}

// NormalizeType lowercases a declared type and strips its parameters.
func NormalizeType(declared string) string {
	declared = strings.TrimSpace(declared)
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		return mt
	}
	return strings.ToLower(declared)
}

func Allowed(declared string) bool {
	_, ok := allowed[NormalizeType(declared)]
	return ok
}

func IsImage(declared string) bool {
	return strings.HasPrefix(NormalizeType(declared), "image/")
}

func ValidateCount(n int) error {
	if n > MaxFiles {
		return ErrTooManyFiles
	}
	return nil
}

// ValidateMeta checks the declared type and size.
func ValidateMeta(declared string, size int64) error {
	if size > MaxFileSize {
		return ErrFileTooLarge
	}
	if !Allowed(declared) {
		return ErrUnsupportedType
	}
	return nil
}

// CheckContent verifies the file's leading bytes against the declared type.
func CheckContent(declared string, head []byte) error {
	want, ok := allowed[NormalizeType(declared)]
	if !ok {
		return ErrUnsupportedType
	}
	if want == "" {
		return nil
	}
	if len(head) == 0 {
		return ErrEmptyFile
	}
	for m := mimetype.Detect(head); m != nil; m = m.Parent() {
		if m.Is(want) {
			return nil
		}
	}
	return ErrInvalidFile
}

// Validate runs every per-file check against the declared type, size and content head.
func Validate(declared string, size int64, head []byte) error {
	if err := ValidateMeta(declared, size); err != nil {
		return err
	}
	return CheckContent(declared, head)
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "file"
	}
	return name
}

// StorageKey is the object store key for a user's upload: "<user>/<unix-ms>_<name>".
func StorageKey(userID string, now time.Time, name string) string {
	return fmt.Sprintf("%s/%d_%s", userID, now.UnixMilli(), SanitizeName(name))
}

// OwnedKey cleans key and reports whether the result lives under the user's prefix.
func OwnedKey(key, userID string) (string, bool) {
	cleaned, err := objectstore.CleanKey(key)
	if err != nil || userID == "" {
		return "", false
	}
	return cleaned, strings.HasPrefix(cleaned, userID+"/")
}
