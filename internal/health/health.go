// Package health отдаёт /healthz, /livez и /readyz сервиса начислений.
package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded: сервис работает, но часть функций отключена.
	StatusDegraded Status = "degraded"
)

// severity упорядочивает статусы для сведения в общий.
func (s Status) severity() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Check: результат одной проверки.
type Check struct {
	Name       string   `json:"name"`
	Status     Status   `json:"status"`
	Message    string   `json:"message,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

// Response: тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type Checker interface {
	Check() Check
}

// Handler выполняет зарегистрированные проверки параллельно.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	started  time.Time
	now      func() time.Time
}

func NewHandler(version string) *Handler {
	now := time.Now
	return &Handler{checkers: make(map[string]Checker), version: version, started: now(), now: now}
}

// Register добавляет проверку; повторная регистрация имени заменяет прежнюю.
func (h *Handler) Register(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Names возвращает имена проверок по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate выполняет все проверки и сводит статус к худшему.
func (h *Handler) Evaluate() Response {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		checkers[name] = checker
	}
	h.mu.RUnlock()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]Check, len(checkers))
	)
	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()
			check := checker.Check()
			mu.Lock()
			checks[name] = check
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, check := range checks {
		if check.Status.severity() > overall.severity() {
			overall = check.Status
		}
	}

	now := h.now()
	return Response{
		Status:        overall,
		Timestamp:     now.UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
	}
}

// ServeHTTP отдаёт /healthz: unhealthy даёт 503, degraded остаётся 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	response := h.Evaluate()

	code := http.StatusOK
	if response.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

// ReadinessHandler: сервис готов, пока ни одна проверка не unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	if h.Evaluate().Status == StatusUnhealthy {
		writeText(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeText(w, http.StatusOK, "ready")
}

// Mount регистрирует /healthz, /livez и /readyz.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.Handle("/healthz", h)
	mux.HandleFunc("/livez", LivenessHandler)
	mux.HandleFunc("/readyz", h.ReadinessHandler)
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// FuncChecker превращает ошибку функции в unhealthy.
type FuncChecker struct {
	name string
	fn   func() error
}

func NewFuncChecker(name string, fn func() error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

func (c *FuncChecker) Check() Check {
	started := time.Now()
	check := Check{Name: c.name, Status: StatusHealthy}
	if err := c.fn(); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	check.DurationMs = time.Since(started).Milliseconds()
	return check
}

// DependencyChecker сообщает о неподключённых коллабораторах.
// Отсутствие обязательного делает сервис unhealthy, остальных только degraded.
type DependencyChecker struct {
	name     string
	missing  func() []string
	required map[string]bool
}

func NewDependencyChecker(name string, missing func() []string, required ...string) *DependencyChecker {
	req := make(map[string]bool, len(required))
	for _, r := range required {
		req[r] = true
	}
	return &DependencyChecker{name: name, missing: missing, required: req}
}

func (c *DependencyChecker) Check() Check {
	started := time.Now()
	missing := append([]string(nil), c.missing()...)
	sort.Strings(missing)

	check := Check{Name: c.name, Status: StatusHealthy}
	if len(missing) > 0 {
		check.Status = StatusDegraded
		check.Missing = missing
		check.Message = "not configured: " + strings.Join(missing, ", ")
	}
	for _, m := range missing {
		if c.required[m] {
			check.Status = StatusUnhealthy
			break
		}
	}
	check.DurationMs = time.Since(started).Milliseconds()
	return check
}
