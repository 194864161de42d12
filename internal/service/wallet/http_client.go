package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxErrorBodyBytes     = 4 << 10
)

// HTTPConfig описывает подключение к REST API ledger.
type HTTPConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

// HTTPClient: адаптер кошелька поверх REST API ledger витрины.
// Reference начисления уходит в заголовке Idempotency-Key.
type HTTPClient struct {
	baseURL string
	key     string
	secret  string
	timeout time.Duration
	client  *http.Client
	logger  *log.Entry
}

// NewHTTPClient создаёт клиента; пустой BaseURL означает неподключённый кошелёк.
func NewHTTPClient(cfg HTTPConfig, httpClient *http.Client, logger *log.Entry) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = log.New().WithField("component", "wallet-http")
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		key:     cfg.ConsumerKey,
		secret:  cfg.ConsumerSecret,
		timeout: timeout,
		client:  httpClient,
		logger:  logger,
	}
}

func (c *HTTPClient) Configured() bool {
	return c.baseURL != ""
}

type creditRequestBody struct {
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note"`
	Reference string          `json:"reference,omitempty"`
}

type balanceResponseBody struct {
	Balance decimal.Decimal `json:"balance"`
}

// Credit отправляет начисление в ledger.
func (c *HTTPClient) Credit(req domain.CreditRequest) error {
	if !c.Configured() {
		return domain.ErrWalletNotConfigured
	}

	body, err := json.Marshal(creditRequestBody{
		Amount:    req.Amount,
		Note:      req.Note,
		Reference: req.Reference,
	})
	if err != nil {
		return fmt.Errorf("marshal credit request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.walletURL(req.CustomerID, "credit"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build credit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Reference != "" {
		httpReq.Header.Set("Idempotency-Key", req.Reference)
	}

	if _, err := c.do(httpReq); err != nil {
		return fmt.Errorf("credit customer %d: %w", req.CustomerID, err)
	}

	c.logger.WithFields(log.Fields{
		"customer_id": req.CustomerID,
		"credits":     req.Amount.String(),
		"reference":   req.Reference,
	}).Debug("wallet credit accepted")
	return nil
}

// Balance запрашивает текущий баланс клиента.
func (c *HTTPClient) Balance(customerID int64) (decimal.Decimal, error) {
	if !c.Configured() {
		return decimal.Zero, domain.ErrWalletNotConfigured
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.walletURL(customerID, "balance"), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build balance request: %w", err)
	}

	payload, err := c.do(httpReq)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance of customer %d: %w", customerID, err)
	}

	var resp balanceResponseBody
	if err := json.Unmarshal(payload, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("decode balance response: %w", err)
	}
	return resp.Balance, nil
}

func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.key != "" {
		req.SetBasicAuth(c.key, c.secret)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrWalletRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *HTTPClient) walletURL(customerID int64, action string) string {
	return c.baseURL + "/wallet/" + strconv.FormatInt(customerID, 10) + "/" + action
}

var _ domain.Wallet = (*HTTPClient)(nil)
