package exchange

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenOrders_SignedRequest(t *testing.T) {
	const secret = "test_secret"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/getOpenOrders", r.URL.Path)
		assert.Equal(t, "test_key", r.Header.Get("X-Api-Key"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		// The signature covers the exact body bytes plus the nonce header
		nonce := r.Header.Get("X-Api-Nonce")
		require.NotEmpty(t, nonce)
		assert.Equal(t, sign(secret, string(body)+nonce), r.Header.Get("X-Api-Sig"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"result":[{"order_id":"EX-1","instr_name":"AAPL.US","side":"BUY","quantity":10,"price":182.5,"status":"open"}]}`)
	}))
	defer srv.Close()

	c := NewClient("test_key", secret, srv.URL, zerolog.Nop())
	defer c.Close()

	orders, err := c.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "EX-1", orders[0].OrderID)
	assert.Equal(t, "AAPL.US", orders[0].Symbol)
	assert.InDelta(t, 182.5, orders[0].Price, 0.001)
}

func TestOpenOrders_EmptyResultIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"result":[]}`)
	}))
	defer srv.Close()

	c := NewClient("key", "secret", srv.URL, zerolog.Nop())
	defer c.Close()

	orders, err := c.OpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestBalances_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"errMsg":"invalid signature"}`)
	}))
	defer srv.Close()

	c := NewClient("key", "secret", srv.URL, zerolog.Nop())
	defer c.Close()

	_, err := c.Balances(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "getBalances", apiErr.Cmd)
	assert.Equal(t, "invalid signature", apiErr.Message)
}

func TestSignedRequest_MissingCredentials(t *testing.T) {
	c := NewClient("", "", "http://localhost", zerolog.Nop())
	defer c.Close()

	_, err := c.OpenOrders(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestSignedRequest_ClosedClient(t *testing.T) {
	c := NewClient("key", "secret", "http://localhost", zerolog.Nop())
	c.Close()

	_, err := c.OpenOrders(context.Background())
	require.Error(t, err)
}
