// Command loadtest гоняет подписанные вебхуки заказов через HTTP API сервиса начислений.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run возвращает код выхода: 2 при ошибке флагов, 1 при неудачных заказах.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := parseConfig(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "invalid flags: %v\n", err)
		return 2
	}

	result := newRunner(&http.Client{Timeout: cfg.timeout}, cfg).run(ctx)
	result.writeText(stdout, cfg.target())

	if cfg.reportPath != "" {
		if err := result.saveJSON(cfg.reportPath); err != nil {
			fmt.Fprintf(stderr, "write report: %v\n", err)
			return 1
		}
	}
	if result.Failed > 0 {
		return 1
	}
	return 0
}
