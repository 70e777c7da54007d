package client

import (
	"strconv"
	"sync"
	"time"

	"github.com/suPer8Hu/assistant-relay/internal/attachment"
	"github.com/suPer8Hu/assistant-relay/internal/common"
)

const localPrefix = "temp-"

// Entry is one message as shown to the user. Local entries exist only on this
// side until the server's record for them arrives.
type Entry struct {
	ID          string
	Role        string
	Content     string
	Attachments []attachment.File
	Local       bool
	CreatedAt   time.Time
}

// Record is a persisted message as returned by the API.
type Record struct {
	ID          uint64            `json:"id"`
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	Attachments []attachment.File `json:"attachments,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Transcript holds the messages of one conversation, local placeholders included.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
}

func (t *Transcript) AddLocal(role, content string, files []attachment.File) Entry {
	e := Entry{
		ID:          localPrefix + common.MustULID(),
		Role:        role,
		Content:     content,
		Attachments: files,
		Local:       true,
		CreatedAt:   time.Now(),
	}
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
	return e
}

// SetContent replaces the text of a local entry. Persisted entries are immutable.
func (t *Transcript) SetContent(id, content string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].ID == id && t.entries[i].Local {
			t.entries[i].Content = content
			return true
		}
	}
	return false
}

func (t *Transcript) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].ID == id {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Reconcile merges server records. A record replaces the first local entry with
// the same role and content; records already present are skipped; the rest are appended.
func (t *Transcript) Reconcile(records []Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range records {
		id := recordID(r.ID)
		if t.indexOf(id) >= 0 {
			continue
		}
		e := Entry{
			ID:          id,
			Role:        r.Role,
			Content:     r.Content,
			Attachments: r.Attachments,
			CreatedAt:   r.CreatedAt,
		}
		if i := t.localMatch(r.Role, r.Content); i >= 0 {
			t.entries[i] = e
			continue
		}
		t.entries = append(t.entries, e)
	}
}

func (t *Transcript) indexOf(id string) int {
	for i, e := range t.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (t *Transcript) localMatch(role, content string) int {
	for i, e := range t.entries {
		if e.Local && e.Role == role && e.Content == content {
			return i
		}
	}
	return -1
}

// Entries returns a copy in display order.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

func (t *Transcript) Reset() {
	t.mu.Lock()
	t.entries = nil
	t.mu.Unlock()
}

func recordID(id uint64) string {
	return "msg-" + strconv.FormatUint(id, 10)
}
