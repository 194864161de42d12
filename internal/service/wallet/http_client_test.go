package wallet

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

func TestHTTPClient_Credit(t *testing.T) {
	var captured struct {
		path       string
		idemKey    string
		user, pass string
		body       map[string]string
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.idemKey = r.Header.Get("Idempotency-Key")
		captured.user, captured.pass, _ = r.BasicAuth()
		_ = json.NewDecoder(r.Body).Decode(&captured.body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPConfig{
		BaseURL:        server.URL + "/",
		ConsumerKey:    "ck_test",
		ConsumerSecret: "cs_test",
	}, server.Client(), nil)
	require.True(t, client.Configured())

	err := client.Credit(domain.CreditRequest{
		CustomerID: 7,
		Amount:     decimal.RequireFromString("10.50"),
		Note:       "Créditos recebidos pela compra de produtos no pedido #501",
		Reference:  "order:501:credits",
	})
	require.NoError(t, err)

	assert.Equal(t, "/wallet/7/credit", captured.path)
	assert.Equal(t, "order:501:credits", captured.idemKey)
	assert.Equal(t, "ck_test", captured.user)
	assert.Equal(t, "cs_test", captured.pass)
	assert.Equal(t, "10.5", captured.body["amount"])
	assert.Equal(t, "order:501:credits", captured.body["reference"])
}

func TestHTTPClient_CreditRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"invalid_user"}`, http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: server.URL}, server.Client(), nil)
	err := client.Credit(domain.CreditRequest{CustomerID: 7, Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrWalletRejected))
	assert.Contains(t, err.Error(), "422")
}

func TestHTTPClient_Balance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/wallet/7/balance", r.URL.Path)
		_, _ = w.Write([]byte(`{"balance":"1234.50"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: server.URL}, server.Client(), nil)
	balance, err := client.Balance(7)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("1234.5")))
}

func TestHTTPClient_NotConfigured(t *testing.T) {
	client := NewHTTPClient(HTTPConfig{BaseURL: "  "}, nil, nil)
	assert.False(t, client.Configured())
	assert.ErrorIs(t, client.Credit(domain.CreditRequest{}), domain.ErrWalletNotConfigured)

	_, err := client.Balance(1)
	assert.ErrorIs(t, err, domain.ErrWalletNotConfigured)
}
