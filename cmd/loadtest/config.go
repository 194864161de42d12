package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type loadMode string

const (
	modeOrderCompleted   loadMode = "order-completed"
	modePaymentCompleted loadMode = "payment-completed"
	// modeReplay шлёт каждую доставку дважды: второй ответ обязан прийти из журнала доставок.
	modeReplay loadMode = "replay"
)

func parseMode(value string) (loadMode, error) {
	mode := loadMode(strings.TrimSpace(value))
	switch mode {
	case modeOrderCompleted, modePaymentCompleted, modeReplay:
		return mode, nil
	}
	return "", fmt.Errorf("unsupported mode: %s", value)
}

type config struct {
	baseURL    string
	mode       loadMode
	orders     int
	ordersSet  bool
	duration   time.Duration
	workers    int
	rps        float64
	timeout    time.Duration
	firstOrder int64
	secret     string
	reportPath string
}

// parseConfig разбирает флаги; при -duration число заказов ограничивает прогон только если задано явно.
func parseConfig(args []string, stderr io.Writer) (config, error) {
	var (
		cfg  config
		mode string
	)
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "credits HTTP API base URL")
	fs.StringVar(&mode, "mode", string(modeOrderCompleted), "order-completed | payment-completed | replay")
	fs.IntVar(&cfg.orders, "orders", 400, "orders to drive through the webhooks")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed order count")
	fs.IntVar(&cfg.workers, "workers", 40, "concurrent webhook senders")
	fs.Float64Var(&cfg.rps, "rps", 0, "cap on orders per second (0 = unlimited)")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.Int64Var(&cfg.firstOrder, "first-order", 1_000_000, "storefront id of the first order")
	fs.StringVar(&cfg.secret, "secret", os.Getenv("CREDITS_WEBHOOK_SECRET"), "webhook HMAC secret (default from CREDITS_WEBHOOK_SECRET)")
	fs.StringVar(&cfg.reportPath, "report", "", "write the JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		cfg.ordersSet = cfg.ordersSet || f.Name == "orders"
	})

	parsed, err := parseMode(mode)
	if err != nil {
		return cfg, err
	}
	cfg.mode = parsed
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch {
	case c.baseURL == "":
		return errors.New("url is required")
	case c.duration < 0:
		return errors.New("duration must not be negative")
	case c.orders <= 0 && (c.duration == 0 || c.ordersSet):
		return errors.New("orders must be positive")
	case c.workers <= 0:
		return errors.New("workers must be positive")
	case c.rps < 0:
		return errors.New("rps must not be negative")
	case c.timeout <= 0:
		return errors.New("timeout must be positive")
	case c.firstOrder <= 0:
		return errors.New("first-order must be positive")
	}
	return nil
}

// limitOrders: верхняя граница числа заказов, 0 без ограничения.
func (c config) limitOrders() int {
	if c.duration > 0 && !c.ordersSet {
		return 0
	}
	return c.orders
}

func (c config) target() string {
	switch limit := c.limitOrders(); {
	case c.duration <= 0:
		return fmt.Sprintf("%d orders", limit)
	case limit > 0:
		return fmt.Sprintf("%s or %d orders", c.duration, limit)
	default:
		return c.duration.String()
	}
}
