package sender

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

func TestGatewaySender_SendMessage(t *testing.T) {
	const secret = "gateway-secret"

	var (
		authHeader string
		payload    gatewayMessage
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	gateway := NewGatewaySender(GatewayConfig{URL: server.URL, Secret: secret}, server.Client(), nil)
	require.True(t, gateway.Configured())

	require.NoError(t, gateway.SendMessage("5511912345678", "Olá Ana"))
	assert.Equal(t, "5511912345678", payload.Phone)
	assert.Equal(t, "Olá Ana", payload.Text)

	require.True(t, strings.HasPrefix(authHeader, "Bearer "))
	raw := strings.TrimPrefix(authHeader, "Bearer ")

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "credits-service", claims.Issuer)
	assert.Equal(t, "notifications", claims.Subject)
}

func TestGatewaySender_DeliveryError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	gateway := NewGatewaySender(GatewayConfig{URL: server.URL, Secret: "s"}, server.Client(), nil)
	err := gateway.SendMessage("5511912345678", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMessageDelivery)
	assert.Contains(t, err.Error(), "429")
}

func TestGatewaySender_NotConfigured(t *testing.T) {
	gateway := NewGatewaySender(GatewayConfig{URL: "http://gateway.local"}, nil, nil)
	assert.False(t, gateway.Configured())
	assert.ErrorIs(t, gateway.SendMessage("55", "x"), domain.ErrSenderNotConfigured)
}
