package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	defaultTokenTTL       = 5 * time.Minute
	maxErrorBodyBytes     = 4 << 10
)

// GatewayConfig описывает HTTP-шлюз чат-сообщений.
type GatewayConfig struct {
	URL      string
	Secret   string
	Issuer   string
	Timeout  time.Duration
	TokenTTL time.Duration
}

// GatewaySender отправляет сообщения JSON POST-запросом с JWT в Authorization.
type GatewaySender struct {
	url      string
	secret   []byte
	issuer   string
	timeout  time.Duration
	tokenTTL time.Duration
	client   *http.Client
	logger   *log.Entry
	now      func() time.Time
}

// NewGatewaySender создаёт отправителя; без URL транспорт считается неподключённым.
func NewGatewaySender(cfg GatewayConfig, httpClient *http.Client, logger *log.Entry) *GatewaySender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "credits-service"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = log.New().WithField("component", "sender-gateway")
	}
	return &GatewaySender{
		url:      strings.TrimSpace(cfg.URL),
		secret:   []byte(cfg.Secret),
		issuer:   issuer,
		timeout:  timeout,
		tokenTTL: ttl,
		client:   httpClient,
		logger:   logger,
		now:      time.Now,
	}
}

func (g *GatewaySender) Configured() bool {
	return g.url != "" && len(g.secret) > 0
}

type gatewayMessage struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

// SendMessage отправляет текст на номер в каноническом формате.
func (g *GatewaySender) SendMessage(phone, text string) error {
	if !g.Configured() {
		return domain.ErrSenderNotConfigured
	}

	token, err := g.signToken()
	if err != nil {
		return fmt.Errorf("sign gateway token: %w", err)
	}

	body, err := json.Marshal(gatewayMessage{Phone: phone, Text: text})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMessageDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("%w: status %d: %s", domain.ErrMessageDelivery, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	g.logger.WithField("phone", phone).Debug("message accepted by gateway")
	return nil
}

func (g *GatewaySender) signToken() (string, error) {
	now := g.now()
	claims := jwt.RegisteredClaims{
		Issuer:    g.issuer,
		Subject:   "notifications",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

var _ domain.MessageSender = (*GatewaySender)(nil)
