package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/checkout-api/internal/domain/notify"
)

// Topics names the topics used by Publisher and Worker.
type Topics struct {
	Notifications string
	Emails        string
	DeadLetter    string
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

var _ notify.Notifier = (*Publisher)(nil)

// Publisher enqueues notifications and rendered emails.
type Publisher struct {
	w      MessageWriter
	topics Topics
	now    func() time.Time
	newID  func() uuid.UUID
}

// NewPublisher creates a Publisher writing through w.
func NewPublisher(w MessageWriter, topics Topics) *Publisher {
	return &Publisher{
		w:      w,
		topics: topics,
		now:    time.Now,
		newID:  uuid.New,
	}
}

// Notify enqueues an in-app notification for userID.
func (p *Publisher) Notify(ctx context.Context, userID uuid.UUID, message string, category notify.Category) error {
	n := notify.Notification{
		ID:        p.newID(),
		UserID:    userID,
		Message:   message,
		Category:  category,
		CreatedAt: p.now(),
	}
	return p.publish(ctx, kafka.Message{
		Topic:   p.topics.Notifications,
		Key:     []byte(userID.String()),
		Value:   encodeNotification(n),
		Headers: []kafka.Header{{Key: headerKind, Value: []byte(kindNotification)}},
	})
}

// SendOrderConfirmationEmail renders and enqueues the confirmation email.
func (p *Publisher) SendOrderConfirmationEmail(ctx context.Context, e notify.OrderConfirmation) error {
	m, err := notify.RenderOrderConfirmation(e)
	if err != nil {
		return err
	}
	return p.publishEmail(ctx, m)
}

// SendStatusUpdateEmail renders and enqueues the status update email.
func (p *Publisher) SendStatusUpdateEmail(ctx context.Context, e notify.StatusUpdate) error {
	m, err := notify.RenderStatusUpdate(e)
	if err != nil {
		return err
	}
	return p.publishEmail(ctx, m)
}

func (p *Publisher) publishEmail(ctx context.Context, m notify.Email) error {
	return p.publish(ctx, kafka.Message{
		Topic:   p.topics.Emails,
		Key:     []byte(m.To),
		Value:   encodeEmail(m),
		Headers: []kafka.Header{{Key: headerKind, Value: []byte(kindEmail)}},
	})
}

func (p *Publisher) publish(ctx context.Context, msg kafka.Message) error {
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish to %s", msg.Topic)
	}
	return nil
}
