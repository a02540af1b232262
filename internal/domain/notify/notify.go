// Package notify defines the notification side channel of checkout.
//
// Producers call Notifier, which only enqueues. Delivery happens in the
// notifier worker through Store and Mailer.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category groups in-app notifications.
type Category string

// Notification categories.
const (
	CategoryOrder   Category = "ORDER"
	CategoryPayment Category = "PAYMENT"
)

// Notification is an in-app message for a user.
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Message   string
	Category  Category
	CreatedAt time.Time
}

// LineItem is one row of an order confirmation email.
type LineItem struct {
	Name     string
	Quantity int
	Price    decimal.Decimal
}

// OrderConfirmation is the payload of the order confirmation email.
type OrderConfirmation struct {
	To            string
	Name          string
	OrderRef      string
	LineItems     []LineItem
	Total         decimal.Decimal
	PaymentMethod string
}

// StatusUpdate is the payload of the order status email.
type StatusUpdate struct {
	To       string
	Name     string
	OrderRef string
	Status   string
}

// Notifier enqueues notifications. Implementations must not block on
// delivery; callers treat every error as best effort.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message string, category Category) error
	SendOrderConfirmationEmail(ctx context.Context, email OrderConfirmation) error
	SendStatusUpdateEmail(ctx context.Context, email StatusUpdate) error
}

// Store persists in-app notifications.
type Store interface {
	SaveNotification(ctx context.Context, n Notification) error
}

// Email is a rendered plain-text message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers rendered email.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}
