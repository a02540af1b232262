package razorpay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout-api/internal/domain/order"
)

var testCreds = order.Credentials{KeyID: "rzp_test_key", KeySecret: "rzp_test_secret"}

func TestClient_CreateOrder(t *testing.T) {
	var (
		gotAmount   int64
		gotCurrency string
		gotReceipt  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, testCreds.KeyID, user)
		assert.Equal(t, testCreds.KeySecret, pass)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "amount":
				gotAmount, err = d.Int64()
			case "currency":
				gotCurrency, err = d.Str()
			case "receipt":
				gotReceipt, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		}))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"order_Nx1","entity":"order","amount":105883,"status":"created"}`)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/"})
	gw, err := c.CreateOrder(context.Background(), order.GatewayRequest{
		Credentials: testCreds,
		AmountMinor: 105883,
		Currency:    "INR",
		Receipt:     "receipt-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_Nx1", gw.ID)
	assert.EqualValues(t, 105883, gotAmount)
	assert.Equal(t, "INR", gotCurrency)
	assert.Equal(t, "receipt-1", gotReceipt)
}

func TestClient_CreateOrder_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"code":"BAD_REQUEST_ERROR","description":"Authentication failed"}}`)
	}))
	defer srv.Close()

	_, err := New(Options{BaseURL: srv.URL}).CreateOrder(context.Background(), order.GatewayRequest{
		Credentials: testCreds,
		AmountMinor: 100,
		Currency:    "INR",
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "BAD_REQUEST_ERROR", apiErr.Code)
	assert.Equal(t, "Authentication failed", apiErr.Description)
}

func TestClient_CreateOrder_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(Options{BaseURL: srv.URL}).CreateOrder(context.Background(), order.GatewayRequest{
		Credentials: testCreds,
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestClient_CreateOrder_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(Options{BaseURL: srv.URL}).CreateOrder(ctx, order.GatewayRequest{Credentials: testCreds})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_CreateOrder_MissingCredentials(t *testing.T) {
	_, err := New(Options{}).CreateOrder(context.Background(), order.GatewayRequest{})
	require.Error(t, err)
}
