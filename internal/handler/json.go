package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxBodySize = 1 << 20

// requestError is a malformed request reported to the client verbatim.
type requestError struct {
	msg string
}

func (e *requestError) Error() string {
	return e.msg
}

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

var errInvalidBody = badRequest("Invalid request body.")

func readBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(b) > maxBodySize {
		return nil, badRequest("Request body too large.")
	}
	return b, nil
}

// decodeObject reads the body as a JSON object, calling fn per key. Errors
// returned by fn that are requestErrors are passed through unchanged.
func decodeObject(r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	b, err := readBody(r)
	if err != nil {
		return err
	}
	if err := jx.DecodeBytes(b).Obj(fn); err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			return reqErr
		}
		return errInvalidBody
	}
	return nil
}

func decodeString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// decodeScalar accepts a string or a bare number, e.g. a pincode sent either
// way.
func decodeScalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Null:
		return "", d.Null()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return string(n), nil
	default:
		return d.Str()
	}
}

func decodeDecimal(d *jx.Decoder, field string) (decimal.Decimal, error) {
	s, err := decodeScalar(d)
	if err != nil {
		return decimal.Zero, err
	}
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, badRequest("Invalid " + field + ".")
	}
	return v, nil
}

// decodeUUID returns uuid.Nil for null or empty values and a requestError
// carrying msg for malformed ones.
func decodeUUID(d *jx.Decoder, msg string) (uuid.UUID, error) {
	s, err := decodeString(d)
	if err != nil {
		return uuid.Nil, err
	}
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, badRequest(msg)
	}
	return id, nil
}

func decodeTime(d *jx.Decoder, field string) (time.Time, error) {
	s, err := decodeString(d)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, badRequest("Invalid " + field + ", expected RFC 3339.")
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

// writeFailure writes the {success:false, message} envelope used by the
// summary and redeem endpoints.
func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("success", func(e *jx.Encoder) { e.Bool(false) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Raw([]byte(v.String()))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}
