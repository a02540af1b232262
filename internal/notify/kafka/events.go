// Package kafka delivers checkout notifications through Kafka topics.
//
// The API server publishes with Publisher. The notifier process consumes with
// Worker, which stores in-app notifications, sends email and dead-letters
// messages that keep failing.
package kafka

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/checkout-api/internal/domain/notify"
)

// Message header keys.
const (
	headerKind  = "kind"
	headerError = "error"
)

// Message kinds.
const (
	kindNotification = "notification"
	kindEmail        = "email"
)

func encodeNotification(n notify.Notification) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(n.ID.String()) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(n.UserID.String()) })
		e.Field("message", func(e *jx.Encoder) { e.Str(n.Message) })
		e.Field("category", func(e *jx.Encoder) { e.Str(string(n.Category)) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(n.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	})
	return e.Bytes()
}

func decodeNotification(data []byte) (notify.Notification, error) {
	var n notify.Notification
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id", "userId":
			s, err := d.Str()
			if err != nil {
				return err
			}
			id, err := uuid.Parse(s)
			if err != nil {
				return errors.Wrapf(err, "parse %s", key)
			}
			if key == "id" {
				n.ID = id
			} else {
				n.UserID = id
			}
			return nil
		case "message":
			s, err := d.Str()
			n.Message = s
			return err
		case "category":
			s, err := d.Str()
			n.Category = notify.Category(s)
			return err
		case "createdAt":
			s, err := d.Str()
			if err != nil {
				return err
			}
			n.CreatedAt, err = time.Parse(time.RFC3339Nano, s)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return n, errors.Wrap(err, "decode notification")
	}
	if n.ID == uuid.Nil || n.UserID == uuid.Nil {
		return n, errors.New("notification without id or user")
	}
	return n, nil
}

func encodeEmail(m notify.Email) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("to", func(e *jx.Encoder) { e.Str(m.To) })
		e.Field("subject", func(e *jx.Encoder) { e.Str(m.Subject) })
		e.Field("body", func(e *jx.Encoder) { e.Str(m.Body) })
	})
	return e.Bytes()
}

func decodeEmail(data []byte) (notify.Email, error) {
	var m notify.Email
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "to":
			m.To, err = d.Str()
		case "subject":
			m.Subject, err = d.Str()
		case "body":
			m.Body, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return m, errors.Wrap(err, "decode email")
	}
	if m.To == "" {
		return m, errors.New("email without recipient")
	}
	return m, nil
}
