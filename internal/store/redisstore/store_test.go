package redisstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/assistant-relay/internal/chat"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRevokeToken(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	revoked, err := s.IsTokenRevoked(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, s.RevokeToken(ctx, "abc", time.Now().Add(time.Hour)))
	revoked, err = s.IsTokenRevoked(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL("jwt:blacklist:abc").Seconds(), 5)

	mr.FastForward(2 * time.Hour)
	revoked, err = s.IsTokenRevoked(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, revoked, "the entry lives only until the token expires")
}

func TestRevokeToken_AlreadyExpired(t *testing.T) {
	s, mr := newTestStore(t)

	require.NoError(t, s.RevokeToken(context.Background(), "old", time.Now().Add(-time.Minute)))
	assert.False(t, mr.Exists("jwt:blacklist:old"))
}

func TestPublishMessage_ReachesSubscribers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sub := s.SubscribeConversation(ctx, "conv-1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	other := s.SubscribeConversation(ctx, "conv-2")
	defer other.Close()
	_, err = other.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, s.PublishMessage(ctx, chat.Message{ID: 7, ConversationID: "conv-1", Role: "assistant", Content: "Hi there"}))

	select {
	case m := <-sub.Channel():
		assert.Equal(t, "conversation:conv-1:messages", m.Channel)
		var got chat.Message
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &got))
		assert.EqualValues(t, 7, got.ID)
		assert.Equal(t, "Hi there", got.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	select {
	case m := <-other.Channel():
		t.Fatalf("unexpected message on %s", m.Channel)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(addr, "", 0)
	assert.Error(t, err)
}
