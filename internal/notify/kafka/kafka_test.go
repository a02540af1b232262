package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/checkout-api/internal/domain/notify"
)

var testTopics = Topics{
	Notifications: "checkout.notifications",
	Emails:        "checkout.emails",
	DeadLetter:    "checkout.dlq",
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

// fakeReader serves queued messages and cancels the run once drained.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	drained   func()
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	if r.drained != nil {
		r.drained()
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

type fakeStore struct {
	failures int
	saved    []notify.Notification
}

func (s *fakeStore) SaveNotification(_ context.Context, n notify.Notification) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("db down")
	}
	s.saved = append(s.saved, n)
	return nil
}

type fakeMailer struct {
	err  error
	sent []notify.Email
}

func (m *fakeMailer) Send(_ context.Context, e notify.Email) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, e)
	return nil
}

func TestPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, testTopics)
	fixed := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	notificationID := uuid.New()
	p.newID = func() uuid.UUID { return notificationID }

	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, p.Notify(ctx, userID, "Your order has been placed.", notify.CategoryOrder))
	require.NoError(t, p.SendOrderConfirmationEmail(ctx, notify.OrderConfirmation{
		To:       "asha@example.com",
		Name:     "Asha",
		OrderRef: "ord-1",
		LineItems: []notify.LineItem{
			{Name: "Masala Chai", Quantity: 2, Price: decimal.NewFromInt(250)},
		},
		Total:         decimal.RequireFromString("530"),
		PaymentMethod: "COD",
	}))
	require.NoError(t, p.SendStatusUpdateEmail(ctx, notify.StatusUpdate{
		To: "asha@example.com", Name: "Asha", OrderRef: "ord-1", Status: "PENDING",
	}))

	msgs := w.messages()
	require.Len(t, msgs, 3)

	assert.Equal(t, testTopics.Notifications, msgs[0].Topic)
	assert.Equal(t, userID.String(), string(msgs[0].Key))
	n, err := decodeNotification(msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, notificationID, n.ID)
	assert.Equal(t, userID, n.UserID)
	assert.Equal(t, notify.CategoryOrder, n.Category)
	assert.True(t, fixed.Equal(n.CreatedAt))

	assert.Equal(t, testTopics.Emails, msgs[1].Topic)
	m, err := decodeEmail(msgs[1].Value)
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", m.To)
	assert.Contains(t, m.Body, "2 x Masala Chai")

	assert.Equal(t, testTopics.Emails, msgs[2].Topic)
}

func TestPublisher_WriteError(t *testing.T) {
	p := NewPublisher(&fakeWriter{err: errors.New("broker unavailable")}, testTopics)
	err := p.Notify(context.Background(), uuid.New(), "hi", notify.CategoryPayment)
	require.Error(t, err)
	assert.Contains(t, err.Error(), testTopics.Notifications)
}

type workerEnv struct {
	reader *fakeReader
	dlq    *fakeWriter
	store  *fakeStore
	mailer *fakeMailer
	worker *Worker
	sleeps []time.Duration
}

func newWorkerEnv(t *testing.T, msgs ...kafka.Message) *workerEnv {
	t.Helper()
	env := &workerEnv{
		reader: &fakeReader{queue: msgs},
		dlq:    &fakeWriter{},
		store:  &fakeStore{},
		mailer: &fakeMailer{},
	}
	w, err := NewWorker(WorkerConfig{Topics: testTopics, MaxAttempts: 3, Backoff: time.Second},
		[]MessageReader{env.reader}, env.dlq, env.store, env.mailer, noop.NewMeterProvider())
	require.NoError(t, err)
	w.sleep = func(_ context.Context, d time.Duration) error {
		env.sleeps = append(env.sleeps, d)
		return nil
	}
	env.worker = w
	return env
}

func (env *workerEnv) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	env.reader.drained = cancel
	require.NoError(t, env.worker.Run(ctx))
}

func notificationMessage(userID uuid.UUID) kafka.Message {
	return kafka.Message{
		Topic: testTopics.Notifications,
		Value: encodeNotification(notify.Notification{
			ID:        uuid.New(),
			UserID:    userID,
			Message:   "Payment received.",
			Category:  notify.CategoryPayment,
			CreatedAt: time.Now(),
		}),
	}
}

func TestWorker_Delivers(t *testing.T) {
	userID := uuid.New()
	env := newWorkerEnv(t,
		notificationMessage(userID),
		kafka.Message{Topic: testTopics.Emails, Value: encodeEmail(notify.Email{To: "a@example.com", Subject: "s", Body: "b"})},
	)
	env.run(t)

	require.Len(t, env.store.saved, 1)
	assert.Equal(t, userID, env.store.saved[0].UserID)
	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, "a@example.com", env.mailer.sent[0].To)
	assert.Len(t, env.reader.committed, 2)
	assert.Empty(t, env.dlq.messages())
}

func TestWorker_RetriesWithBackoff(t *testing.T) {
	env := newWorkerEnv(t, notificationMessage(uuid.New()))
	env.store.failures = 2
	env.run(t)

	assert.Len(t, env.store.saved, 1)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, env.sleeps)
	assert.Empty(t, env.dlq.messages())
	assert.Len(t, env.reader.committed, 1)
}

func TestWorker_DeadLettersAfterMaxAttempts(t *testing.T) {
	msg := kafka.Message{Topic: testTopics.Emails, Key: []byte("a@example.com"),
		Value: encodeEmail(notify.Email{To: "a@example.com", Subject: "s", Body: "b"})}
	env := newWorkerEnv(t, msg)
	env.mailer.err = errors.New("smtp unavailable")
	env.run(t)

	dead := env.dlq.messages()
	require.Len(t, dead, 1)
	assert.Equal(t, testTopics.DeadLetter, dead[0].Topic)
	assert.Equal(t, msg.Value, dead[0].Value)
	assert.Len(t, env.sleeps, 2)
	assert.Len(t, env.reader.committed, 1)

	headers := map[string]string{}
	for _, h := range dead[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, testTopics.Emails, headers["source_topic"])
	assert.Contains(t, headers[headerError], "smtp unavailable")
}

func TestWorker_DeadLettersUndecodable(t *testing.T) {
	env := newWorkerEnv(t, kafka.Message{Topic: testTopics.Notifications, Value: []byte(`{"id":"nope"}`)})
	env.run(t)

	require.Len(t, env.dlq.messages(), 1)
	assert.Empty(t, env.store.saved)
	assert.Empty(t, env.sleeps)
	assert.Len(t, env.reader.committed, 1)
}

func TestWorker_StopsWhenDeadLetterFails(t *testing.T) {
	env := newWorkerEnv(t, kafka.Message{Topic: "unknown", Value: []byte(`{}`)})
	env.dlq.err = errors.New("broker unavailable")

	err := env.worker.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, env.reader.committed)
}
