// Package razorpay is a minimal client for the Razorpay Orders API and its
// payment webhooks.
package razorpay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/checkout-api/internal/domain/order"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.razorpay.com"

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

var _ order.Gateway = (*Client)(nil)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("razorpay: status %d", e.StatusCode)
	}
	return fmt.Sprintf("razorpay: status %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Client creates gateway orders.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client. The HTTP transport is instrumented with otelhttp.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, otelOpts...),
		},
	}
}

// CreateOrder calls POST /v1/orders with the request credentials.
func (c *Client) CreateOrder(ctx context.Context, req order.GatewayRequest) (*order.GatewayOrder, error) {
	if !req.Credentials.Valid() {
		return nil, errors.New("razorpay: missing credentials")
	}

	body := encodeOrderRequest(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(req.Credentials.KeyID, req.Credentials.KeySecret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, decodeAPIError(resp.StatusCode, data)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	id, err := decodeOrderID(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	if id == "" {
		return nil, errors.New("razorpay: response without order id")
	}
	return &order.GatewayOrder{ID: id}, nil
}

func encodeOrderRequest(req order.GatewayRequest) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) { e.Int64(req.AmountMinor) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(req.Currency) })
		e.Field("receipt", func(e *jx.Encoder) { e.Str(req.Receipt) })
	})
	return e.Bytes()
}

func decodeOrderID(data []byte) (string, error) {
	var id string
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "id" {
			return d.Skip()
		}
		v, err := d.Str()
		id = v
		return err
	})
	return id, err
}

// decodeAPIError reads {"error":{"code":..,"description":..}}. Bodies that do
// not match still produce an APIError with the status code.
func decodeAPIError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	_ = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "error" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "code":
				v, err := d.Str()
				apiErr.Code = v
				return err
			case "description":
				v, err := d.Str()
				apiErr.Description = v
				return err
			default:
				return d.Skip()
			}
		})
	})
	return apiErr
}
