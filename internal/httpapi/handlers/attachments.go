package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/assistant-relay/internal/attachment"
	"github.com/suPer8Hu/assistant-relay/internal/common"
	"github.com/suPer8Hu/assistant-relay/internal/metrics"
)

// UploadAttachment stores one file under the caller's prefix. The returned
// url is the storage key that later relay requests reference.
func (h *Handler) UploadAttachment(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}
	if h.Blobs == nil {
		common.Fail(c, http.StatusServiceUnavailable, "storage-not-configured", "attachment storage is not configured")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, attachment.MaxFileSize+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidRequest, "file: multipart field is required")
		return
	}

	declared := c.PostForm("type")
	if declared == "" {
		declared = fh.Header.Get("Content-Type")
	}
	declared = attachment.NormalizeType(declared)

	if err := attachment.ValidateMeta(declared, fh.Size); err != nil {
		h.rejectUpload(c, err)
		return
	}

	f, err := fh.Open()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidRequest, "file: unreadable upload")
		return
	}
	defer f.Close()

	head := make([]byte, attachment.SniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidRequest, "file: unreadable upload")
		return
	}
	head = head[:n]

	if err := attachment.Validate(declared, fh.Size, head); err != nil {
		h.rejectUpload(c, err)
		return
	}

	name := attachment.SanitizeName(fh.Filename)
	key := attachment.StorageKey(uid, time.Now(), name)
	body := io.MultiReader(bytes.NewReader(head), f)
	if err := h.Blobs.Put(c.Request.Context(), key, body, fh.Size, declared); err != nil {
		metrics.AttachmentsTotal.WithLabelValues("upload", "failed").Inc()
		h.Log.Error().Err(err).Str("user_id", uid).Str("key", key).Msg("store attachment")
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "failed to store file")
		return
	}
	metrics.AttachmentsTotal.WithLabelValues("upload", "stored").Inc()

	c.JSON(http.StatusCreated, gin.H{
		"code": common.CodeOK,
		"data": attachment.File{
			Name: name,
			URL:  key,
			Type: declared,
			Size: fh.Size,
		},
	})
}

func (h *Handler) rejectUpload(c *gin.Context, err error) {
	metrics.AttachmentsTotal.WithLabelValues("upload", "rejected").Inc()
	status := http.StatusBadRequest
	if errors.Is(err, attachment.ErrFileTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	common.Fail(c, status, common.CodeInvalidRequest, "file: "+strings.TrimPrefix(err.Error(), "attachment: "))
}
