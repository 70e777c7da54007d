package ai

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Assistants v2 stream events.
const (
	EventMessageDelta     = "thread.message.delta"
	EventMessageCompleted = "thread.message.completed"
	EventRunCompleted     = "thread.run.completed"
	EventRunFailed        = "thread.run.failed"
	EventRunCancelled     = "thread.run.cancelled"
	EventRunExpired       = "thread.run.expired"

	DoneMarker = "[DONE]"
)

const (
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 2 * 1024 * 1024
)

// Event is one `data:` line together with the most recent `event:` name.
type Event struct {
	Name string
	Data string
}

func (e Event) IsDone() bool { return e.Data == DoneMarker }

// lineParser turns stream lines into events.
type lineParser struct {
	event string
}

func (p *lineParser) feed(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r")
	switch {
	case line == "":
		p.event = ""
	case strings.HasPrefix(line, "event:"):
		p.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		return Event{Name: p.event, Data: strings.TrimSpace(strings.TrimPrefix(line, "data:"))}, true
	}
	return Event{}, false
}

// Decoder reads events from a text/event-stream body.
type Decoder struct {
	sc *bufio.Scanner
	p  lineParser
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)
	return &Decoder{sc: sc}
}

// Next returns the next event, or io.EOF when the stream ends.
func (d *Decoder) Next() (Event, error) {
	for d.sc.Scan() {
		if ev, ok := d.p.feed(d.sc.Text()); ok {
			return ev, nil
		}
	}
	if err := d.sc.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// RunError is a terminal failure reported inside the stream.
type RunError struct {
	Event   string
	Code    string
	Message string
}

func (e *RunError) Error() string {
	switch e.Event {
	case EventRunCancelled:
		return "assistant run was cancelled"
	case EventRunExpired:
		return "assistant run expired"
	}
	if e.Message == "" {
		return "assistant run failed: unknown error"
	}
	return fmt.Sprintf("assistant run failed: %s", e.Message)
}

var ErrMalformedEvent = errors.New("ai: malformed stream event")

type textPart struct {
	Type string `json:"type"`
	Text *struct {
		Value string `json:"value"`
	} `json:"text,omitempty"`
}

func joinText(parts []textPart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" && p.Text != nil {
			b.WriteString(p.Text.Value)
		}
	}
	return b.String()
}

// Accumulator folds stream events into the assistant's reply.
type Accumulator struct {
	text      strings.Builder
	completed bool
	done      bool
	err       error
	malformed int
}

// Apply consumes one event and returns the text it added. A RunError is returned for
// terminal failure events; events after a terminal failure are ignored.
func (a *Accumulator) Apply(ev Event) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	if ev.IsDone() {
		a.done = true
		return "", nil
	}

	switch ev.Name {
	case EventMessageDelta:
		var payload struct {
			Delta struct {
				Content []textPart `json:"content"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			a.malformed++
			return "", nil
		}
		delta := joinText(payload.Delta.Content)
		a.text.WriteString(delta)
		return delta, nil

	case EventMessageCompleted:
		var payload struct {
			Content []textPart `json:"content"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			a.malformed++
			return "", nil
		}
		// the full message wins over deltas we may have missed
		if full := joinText(payload.Content); full != "" {
			a.text.Reset()
			a.text.WriteString(full)
		}
		a.completed = true

	case EventRunCompleted:
		a.completed = true

	case EventRunFailed, EventRunCancelled, EventRunExpired:
		re := &RunError{Event: ev.Name}
		var payload struct {
			LastError *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"last_error"`
		}
		if json.Unmarshal([]byte(ev.Data), &payload) == nil && payload.LastError != nil {
			re.Code = payload.LastError.Code
			re.Message = payload.LastError.Message
		}
		a.err = re
		return "", re
	}
	return "", nil
}

func (a *Accumulator) Text() string { return a.text.String() }

// Err is the terminal stream failure, if any.
func (a *Accumulator) Err() error { return a.err }

// Finished reports a stream that signalled completion without a terminal failure.
func (a *Accumulator) Finished() bool { return a.err == nil && (a.completed || a.done) }

// Malformed counts events whose payload could not be decoded.
func (a *Accumulator) Malformed() int { return a.malformed }

// Tap observes bytes as they are forwarded and accumulates the reply.
// Write never fails, so it can sit behind an io.TeeReader.
type Tap struct {
	buf      []byte
	p        lineParser
	acc      Accumulator
	overflow bool
}

func (t *Tap) Write(b []byte) (int, error) {
	t.buf = append(t.buf, b...)
	for {
		i := bytes.IndexByte(t.buf, '\n')
		if i < 0 {
			break
		}
		t.line(string(t.buf[:i]))
		t.buf = t.buf[i+1:]
	}
	if len(t.buf) > scannerMaxBuffer {
		t.overflow = true
		t.buf = t.buf[:0]
	}
	return len(b), nil
}

// Flush processes a trailing line without newline.
func (t *Tap) Flush() {
	if len(t.buf) > 0 {
		t.line(string(t.buf))
		t.buf = t.buf[:0]
	}
}

func (t *Tap) line(s string) {
	if ev, ok := t.p.feed(s); ok {
		_, _ = t.acc.Apply(ev)
	}
}

func (t *Tap) Accumulator() *Accumulator { return &t.acc }

// Truncated reports a line longer than the decoder limit was dropped.
func (t *Tap) Truncated() bool { return t.overflow }
