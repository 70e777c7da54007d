package ai

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = "event: thread.created\n" +
	"data: {\"id\":\"thread_1\"}\n\n" +
	"event: thread.message.delta\n" +
	"data: {\"delta\":{\"content\":[{\"index\":0,\"type\":\"text\",\"text\":{\"value\":\"Hel\"}}]}}\n\n" +
	"event: thread.message.delta\n" +
	"data: {\"delta\":{\"content\":[{\"index\":0,\"type\":\"text\",\"text\":{\"value\":\"lo\"}}]}}\n\n" +
	"event: thread.message.completed\n" +
	"data: {\"content\":[{\"type\":\"text\",\"text\":{\"value\":\"Hello\"}}]}\n\n" +
	"event: thread.run.completed\n" +
	"data: {\"id\":\"run_1\"}\n\n" +
	"event: done\n" +
	"data: [DONE]\n\n"

func decodeAll(t *testing.T, r io.Reader) []Event {
	t.Helper()
	d := NewDecoder(r)
	var out []Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestDecoder_PairsEventAndData(t *testing.T) {
	events := decodeAll(t, strings.NewReader(sampleStream))
	require.Len(t, events, 6)
	assert.Equal(t, "thread.created", events[0].Name)
	assert.Equal(t, EventMessageDelta, events[1].Name)
	assert.True(t, events[5].IsDone())
}

func TestAccumulator_DeltasAndCompletion(t *testing.T) {
	var acc Accumulator
	var deltas []string
	for _, ev := range decodeAll(t, strings.NewReader(sampleStream)) {
		d, err := acc.Apply(ev)
		require.NoError(t, err)
		if d != "" {
			deltas = append(deltas, d)
		}
	}
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", acc.Text())
	assert.True(t, acc.Finished())
}

func TestAccumulator_CompletedIsFallback(t *testing.T) {
	var acc Accumulator
	_, _ = acc.Apply(Event{Name: EventMessageCompleted, Data: `{"content":[{"type":"text","text":{"value":"Full answer"}}]}`})
	assert.Equal(t, "Full answer", acc.Text())
	assert.True(t, acc.Finished())
}

func TestAccumulator_TerminalEvents(t *testing.T) {
	cases := map[string]string{
		EventRunFailed:    "assistant run failed: quota",
		EventRunCancelled: "assistant run was cancelled",
		EventRunExpired:   "assistant run expired",
	}
	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			var acc Accumulator
			_, _ = acc.Apply(Event{Name: EventMessageDelta, Data: `{"delta":{"content":[{"type":"text","text":{"value":"partial"}}]}}`})
			_, err := acc.Apply(Event{Name: name, Data: `{"last_error":{"code":"rate_limit_exceeded","message":"quota"}}`})

			var re *RunError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, want, re.Error())
			assert.False(t, acc.Finished())

			// later events do not revive the stream
			_, err = acc.Apply(Event{Data: DoneMarker})
			assert.Error(t, err)
		})
	}
}

func TestAccumulator_SkipsMalformed(t *testing.T) {
	var acc Accumulator
	_, err := acc.Apply(Event{Name: EventMessageDelta, Data: "{not json"})
	require.NoError(t, err)
	_, _ = acc.Apply(Event{Name: EventMessageDelta, Data: `{"delta":{"content":[{"type":"image_file"},{"type":"text","text":{"value":"ok"}}]}}`})
	assert.Equal(t, 1, acc.Malformed())
	assert.Equal(t, "ok", acc.Text())
}

func TestTap_SplitWrites(t *testing.T) {
	var tap Tap
	for _, chunk := range splitEvery(sampleStream, 7) {
		n, err := tap.Write([]byte(chunk))
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)
	}
	tap.Flush()

	assert.Equal(t, "Hello", tap.Accumulator().Text())
	assert.True(t, tap.Accumulator().Finished())
	assert.False(t, tap.Truncated())
}

func TestTap_TrailingLineWithoutNewline(t *testing.T) {
	var tap Tap
	_, _ = tap.Write([]byte("event: thread.message.completed\r\ndata: {\"content\":[{\"type\":\"text\",\"text\":{\"value\":\"x\"}}]}"))
	assert.Equal(t, "", tap.Accumulator().Text())
	tap.Flush()
	assert.Equal(t, "x", tap.Accumulator().Text())
}

func splitEvery(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}
