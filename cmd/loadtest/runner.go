package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/credits/internal/httpapi"
)

const (
	pathPaymentCompleted = "/webhooks/payment-completed"
	pathOrderCompleted   = "/webhooks/order-completed"
)

var (
	errUnexpectedStatus = errors.New("unexpected status")
	errReplayMissing    = errors.New("delivery processed twice")
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type runner struct {
	client  httpDoer
	cfg     config
	limiter *rate.Limiter
	stats   *stats
	runID   string
}

func newRunner(client httpDoer, cfg config) *runner {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.rps), max(1, int(cfg.rps)))
	}
	return &runner{
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		stats:   newStats(),
		runID:   strconv.FormatInt(time.Now().UnixNano(), 36),
	}
}

// run прогоняет заказы до исчерпания лимита, дедлайна -duration или отмены ctx.
func (r *runner) run(ctx context.Context) report {
	if r.cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.duration)
		defer cancel()
	}

	started := time.Now()
	orders := make(chan int64, r.cfg.workers)
	var wg sync.WaitGroup
	for range r.cfg.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for orderID := range orders {
				_ = r.order(orderID)
			}
		}()
	}

	r.feed(ctx, orders)
	wg.Wait()
	return r.stats.report(r.cfg.mode, started, time.Since(started))
}

func (r *runner) feed(ctx context.Context, orders chan<- int64) {
	defer close(orders)

	limit := r.cfg.limitOrders()
	for i := 0; limit == 0 || i < limit; i++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case orders <- r.cfg.firstOrder + int64(i):
		}
	}
}

// order проводит один заказ через вебхук выбранного режима.
func (r *runner) order(orderID int64) (err error) {
	started := time.Now()
	outcome := outcomeTransport
	defer func() {
		r.stats.observe(stepScenario, time.Since(started), outcome, err == nil)
	}()

	path, step := pathOrderCompleted, "order-completed"
	if r.cfg.mode == modePaymentCompleted {
		path, step = pathPaymentCompleted, "payment-completed"
	}
	deliveryID := fmt.Sprintf("load-%s-%d", r.runID, orderID)

	if outcome, _, err = r.send(step, path, orderID, deliveryID); err != nil || r.cfg.mode != modeReplay {
		return err
	}

	var resp *http.Response
	if outcome, resp, err = r.send("replay", path, orderID, deliveryID); err != nil {
		return err
	}
	if resp.Header.Get(httpapi.HeaderDeliveryReplay) != "true" {
		outcome = outcomeReplayMissing
		return fmt.Errorf("%w: %s", errReplayMissing, deliveryID)
	}
	return nil
}

// send подписывает тело так же, как витрина, и учитывает шаг в статистике.
func (r *runner) send(step, path string, orderID int64, deliveryID string) (string, *http.Response, error) {
	body, err := json.Marshal(struct {
		OrderID int64 `json:"order_id"`
	}{OrderID: orderID})
	if err != nil {
		return outcomeTransport, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, r.cfg.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return outcomeTransport, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpapi.HeaderDeliveryID, deliveryID)
	if r.cfg.secret != "" {
		req.Header.Set(httpapi.HeaderSignature, "sha256="+hex.EncodeToString(httpapi.Sign([]byte(r.cfg.secret), body)))
	}

	started := time.Now()
	resp, err := r.client.Do(req)
	outcome := outcomeTransport
	if err == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		outcome = strconv.Itoa(resp.StatusCode)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			err = fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode)
		}
	}
	r.stats.observe(step, time.Since(started), outcome, err == nil)
	return outcome, resp, err
}
