package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/assistant-relay/internal/chat"
	"github.com/suPer8Hu/assistant-relay/internal/db"
	"github.com/suPer8Hu/assistant-relay/internal/store/rabbitmq"
)

type ackRecorder struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

type fakeRetrier struct {
	attempt int
	delay   time.Duration
	err     error
}

func (r *fakeRetrier) PublishRetry(_ context.Context, _ string, attempt int, delay time.Duration) error {
	r.attempt, r.delay = attempt, delay
	return r.err
}

type failingSaver struct{ err error }

func (s failingSaver) SaveExchange(context.Context, chat.Exchange) (uint64, error) { return 0, s.err }

type fixture struct {
	repo *chat.Repo
	svc  *chat.Service
	conv *chat.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.Connect("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared", false)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	repo := chat.NewRepo(gdb)
	svc := chat.NewService(repo, []chat.Preset{{AssistantID: "asst_1", Name: "One"}}, zerolog.Nop())
	ctx := context.Background()
	_, err = svc.ListAssistants(ctx, "u1")
	require.NoError(t, err)
	conv, err := svc.CreateConversation(ctx, "u1", "", "")
	require.NoError(t, err)
	return &fixture{repo: repo, svc: svc, conv: conv}
}

func (f *fixture) queueJob(t *testing.T, payload string) string {
	t.Helper()
	id := uuid.NewString()[:26]
	key := id
	require.NoError(t, f.repo.CreateJob(context.Background(), &chat.Job{
		ID:             id,
		UserID:         "u1",
		ConversationID: f.conv.ID,
		Payload:        payload,
		IdempotencyKey: &key,
		Status:         chat.JobQueued,
	}))
	return id
}

func (f *fixture) exchangePayload(t *testing.T, key string) string {
	t.Helper()
	raw, err := json.Marshal(chat.Exchange{
		Key:              key,
		UserID:           "u1",
		ConversationID:   f.conv.ID,
		UserContent:      "Hello",
		AssistantContent: "Hi there",
	})
	require.NoError(t, err)
	return string(raw)
}

func delivery(t *testing.T, ack amqp.Acknowledger, jobID string, attempt int) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(rabbitmq.JobMessage{JobID: jobID})
	require.NoError(t, err)
	return amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
		Headers:      amqp.Table{rabbitmq.AttemptHeader: int32(attempt)},
	}
}

func TestHandle_PersistsExchange(t *testing.T) {
	f := newFixture(t)
	jobID := f.queueJob(t, f.exchangePayload(t, "req-1"))
	w := New(f.repo, f.svc, nil, 0, zerolog.Nop())

	require.NoError(t, w.Handle(context.Background(), jobID))

	j, err := f.repo.GetJobByID(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, chat.JobSucceeded, j.Status)
	require.NotNil(t, j.ResultMessageID)

	msgs, err := f.svc.ListMessages(context.Background(), "u1", f.conv.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	// redelivery does not duplicate messages
	require.NoError(t, w.Handle(context.Background(), jobID))
	msgs, err = f.svc.ListMessages(context.Background(), "u1", f.conv.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestHandle_PermanentFailures(t *testing.T) {
	f := newFixture(t)
	w := New(f.repo, f.svc, nil, 0, zerolog.Nop())

	err := w.Handle(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPermanent)

	jobID := f.queueJob(t, "{not json")
	err = w.Handle(context.Background(), jobID)
	assert.ErrorIs(t, err, ErrPermanent)

	require.NoError(t, f.svc.DeleteConversation(context.Background(), "u1", f.conv.ID))
	jobID = f.queueJob(t, f.exchangePayload(t, "req-2"))
	err = w.Handle(context.Background(), jobID)
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestDeliver_AcksOnSuccess(t *testing.T) {
	f := newFixture(t)
	jobID := f.queueJob(t, f.exchangePayload(t, "req-1"))
	ack := &ackRecorder{}

	New(f.repo, f.svc, &fakeRetrier{}, 0, zerolog.Nop()).Deliver(context.Background(), delivery(t, ack, jobID, 0))

	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
}

func TestDeliver_TransientFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	jobID := f.queueJob(t, f.exchangePayload(t, "req-1"))
	ack := &ackRecorder{}
	retry := &fakeRetrier{}

	w := New(f.repo, failingSaver{err: errors.New("db timeout")}, retry, 3, zerolog.Nop())
	w.Deliver(context.Background(), delivery(t, ack, jobID, 0))

	assert.Equal(t, 1, ack.acks)
	assert.Equal(t, 1, retry.attempt)
	assert.Equal(t, Backoff(1), retry.delay)

	j, err := f.repo.GetJobByID(context.Background(), jobID)
	require.NoError(t, err)
	assert.NotEqual(t, chat.JobFailed, j.Status)
}

func TestDeliver_LastAttemptDeadLetters(t *testing.T) {
	f := newFixture(t)
	jobID := f.queueJob(t, f.exchangePayload(t, "req-1"))
	ack := &ackRecorder{}
	retry := &fakeRetrier{}

	w := New(f.repo, failingSaver{err: errors.New("db timeout")}, retry, 3, zerolog.Nop())
	w.Deliver(context.Background(), delivery(t, ack, jobID, 2))

	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue)
	assert.Zero(t, retry.attempt)

	j, err := f.repo.GetJobByID(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, chat.JobFailed, j.Status)
}

func TestDeliver_RetryPublishFailureRequeues(t *testing.T) {
	f := newFixture(t)
	jobID := f.queueJob(t, f.exchangePayload(t, "req-1"))
	ack := &ackRecorder{}

	w := New(f.repo, failingSaver{err: errors.New("db timeout")}, &fakeRetrier{err: errors.New("channel closed")}, 3, zerolog.Nop())
	w.Deliver(context.Background(), delivery(t, ack, jobID, 0))

	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeue)
}

func TestDeliver_MalformedMessage(t *testing.T) {
	f := newFixture(t)
	ack := &ackRecorder{}

	New(f.repo, f.svc, nil, 0, zerolog.Nop()).Deliver(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("garbage")})

	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 4*time.Second, Backoff(2))
	assert.Equal(t, 8*time.Second, Backoff(3))
	assert.Equal(t, 30*time.Second, Backoff(10))
}
