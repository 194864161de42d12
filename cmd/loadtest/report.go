package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type stepReport struct {
	Calls     int64            `json:"calls"`
	OK        int64            `json:"ok"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Outcomes  map[string]int64 `json:"outcomes"`
	LatencyMs latency          `json:"latency_ms"`
}

type report struct {
	Mode            loadMode              `json:"mode"`
	StartedAt       time.Time             `json:"started_at"`
	DurationSeconds float64               `json:"duration_seconds"`
	Orders          int64                 `json:"orders"`
	Failed          int64                 `json:"failed"`
	ErrorRate       float64               `json:"error_rate"`
	OrdersPerSecond float64               `json:"orders_per_second"`
	Steps           map[string]stepReport `json:"steps"`
}

func (r report) writeText(w io.Writer, target string) {
	sc := r.Steps[stepScenario].LatencyMs
	fmt.Fprintf(w, "credits webhook load: mode=%s target=%s\n", r.Mode, target)
	fmt.Fprintf(w, "orders=%d failed=%d error_rate=%.4f elapsed=%.2fs orders/s=%.2f\n",
		r.Orders, r.Failed, r.ErrorRate, r.DurationSeconds, r.OrdersPerSecond)
	fmt.Fprintf(w, "order latency ms: p50=%.2f p95=%.2f p99=%.2f max=%.2f\n", sc.P50, sc.P95, sc.P99, sc.Max)

	names := make([]string, 0, len(r.Steps))
	for name := range r.Steps {
		if name != stepScenario {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		st := r.Steps[name]
		fmt.Fprintf(w, "  %-18s calls=%d failed=%d p95=%.2fms outcomes=%s\n",
			name, st.Calls, st.Failed, st.LatencyMs.P95, formatOutcomes(st.Outcomes))
	}
}

func formatOutcomes(outcomes map[string]int64) string {
	keys := make([]string, 0, len(outcomes))
	for k := range outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, outcomes[k]))
	}
	return strings.Join(parts, ",")
}

// saveJSON пишет отчёт только внутрь текущего каталога.
func (r report) saveJSON(path string) error {
	clean := filepath.Clean(path)
	if clean == "." || clean == string(filepath.Separator) {
		return errors.New("report path must name a file")
	}
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("report path must stay inside the working directory: %s", path)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(data, '\n'), 0o600)
}
