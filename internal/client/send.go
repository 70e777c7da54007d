package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/suPer8Hu/assistant-relay/internal/ai"
	"github.com/suPer8Hu/assistant-relay/internal/attachment"
)

const MaxMessageChars = 4000

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", MaxMessageChars)
)

type SendRequest struct {
	Message        string
	ThreadID       string
	ConversationID string
	Files          []attachment.File
}

type Reply struct {
	ThreadID string
	Text     string
	// EntryID is the local transcript entry holding Text.
	EntryID string
}

type relayBody struct {
	Message        string            `json:"message"`
	ThreadID       string            `json:"threadId,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	Files          []attachment.File `json:"files,omitempty"`
}

// Send posts a message to the assistant relay and streams the reply into t.
// The user message is shown at once; on any failure it is removed again and no
// assistant entry is left behind. onDelta, if set, receives each text fragment.
func (c *Client) Send(ctx context.Context, t *Transcript, req SendRequest, onDelta func(string)) (Reply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return Reply{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(req.Message) > MaxMessageChars {
		return Reply{}, ErrMessageTooLong
	}
	if err := attachment.ValidateCount(len(req.Files)); err != nil {
		return Reply{}, err
	}

	user := t.AddLocal("user", req.Message, req.Files)
	var assistantID string
	rollback := func() {
		t.Remove(user.ID)
		if assistantID != "" {
			t.Remove(assistantID)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.stream(ctx, req, func(text, delta string) {
		if assistantID == "" {
			assistantID = t.AddLocal("assistant", text, nil).ID
		} else {
			t.SetContent(assistantID, text)
		}
		if onDelta != nil {
			onDelta(delta)
		}
	})
	if err != nil {
		rollback()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		c.log.Debug().Err(err).Str("conversation_id", req.ConversationID).Msg("send failed")
		return Reply{}, err
	}

	// the completed message may differ from the streamed deltas
	if assistantID == "" && reply.Text != "" {
		assistantID = t.AddLocal("assistant", reply.Text, nil).ID
	} else if assistantID != "" {
		t.SetContent(assistantID, reply.Text)
	}
	reply.EntryID = assistantID
	return reply, nil
}

func (c *Client) stream(ctx context.Context, req SendRequest, update func(text, delta string)) (Reply, error) {
	resp, err := c.open(ctx, http.MethodPost, "/assistant-relay", relayBody{
		Message:        req.Message,
		ThreadID:       req.ThreadID,
		ConversationID: req.ConversationID,
		Files:          req.Files,
	}, http.Header{"Accept": {"text/event-stream"}})
	if err != nil {
		return Reply{}, err
	}
	body := resp.RawResponse.Body
	defer body.Close()

	reply := Reply{ThreadID: resp.RawResponse.Header.Get("X-Thread-Id")}
	if reply.ThreadID == "" {
		reply.ThreadID = req.ThreadID
	}

	var acc ai.Accumulator
	dec := ai.NewDecoder(body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Reply{}, fmt.Errorf("read stream: %w", err)
		}
		delta, err := acc.Apply(ev)
		if err != nil {
			return Reply{}, err
		}
		if delta != "" {
			update(acc.Text(), delta)
		}
		if ev.IsDone() {
			break
		}
	}
	if n := acc.Malformed(); n > 0 {
		c.log.Warn().Int("malformed", n).Msg("skipped undecodable stream events")
	}
	reply.Text = acc.Text()
	return reply, nil
}
