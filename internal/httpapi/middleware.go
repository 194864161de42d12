package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

const (
	// HeaderSignature: hex HMAC-SHA256 тела запроса.
	HeaderSignature = "X-Signature"
	// HeaderDeliveryID: идентификатор доставки вебхука для дедупликации.
	HeaderDeliveryID = "X-Delivery-ID"
	// HeaderDeliveryReplay выставляется на ответах, взятых из хранилища доставок.
	HeaderDeliveryReplay = "X-Delivery-Replay"
)

func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			if status >= http.StatusInternalServerError {
				entry.Warn("http request failed")
				return
			}
			entry.Debug("http request")
		})
	}
}

func limitBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// requireSignature проверяет X-Signature, если секрет задан; без секрета пропускает всё.
func requireSignature(secret string) func(http.Handler) http.Handler {
	key := []byte(strings.TrimSpace(secret))
	return func(next http.Handler) http.Handler {
		if len(key) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderSignature))
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "signature_missing", "signature header missing")
				return
			}
			signature, err := hex.DecodeString(strings.TrimPrefix(raw, "sha256="))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "signature_invalid", "signature encoding invalid")
				return
			}

			body, err := readAndRestoreBody(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
				return
			}
			if !hmac.Equal(signature, Sign(key, body)) {
				writeError(w, http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Sign возвращает HMAC-SHA256 тела.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// deduplicateDeliveries регистрирует X-Delivery-ID и отдаёт сохранённый ответ на повторы.
// Запросы без заголовка обрабатываются как есть.
func deduplicateDeliveries(repo domain.DeliveryRepository, ttl time.Duration, now func() time.Time, logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if repo == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderDeliveryID))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := readAndRestoreBody(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
				return
			}
			fingerprint := requestFingerprint(r, body)
			entry := logger.WithField("delivery_id", key)

			record, err := repo.Reserve(key, fingerprint, now().UTC().Add(ttl))
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrDeliveryMismatch):
				writeError(w, http.StatusConflict, "delivery_conflict", "delivery id already used for a different request")
				return
			case errors.Is(err, domain.ErrDeliveryExists):
				if record.Replayable() {
					entry.Debug("replaying stored webhook response")
					writeStored(w, record)
					return
				}
				if record.InFlight() {
					writeError(w, http.StatusConflict, "delivery_in_progress", "delivery is being processed")
					return
				}
				// Неудачная доставка обрабатывается повторно под тем же ключом.
			default:
				entry.WithError(err).Error("delivery registration failed")
				writeError(w, http.StatusInternalServerError, "delivery_store_error", "unable to register delivery")
				return
			}

			rec := &bufferedResponse{header: make(http.Header), status: http.StatusOK}
			next.ServeHTTP(rec, r)

			mark := repo.MarkDone
			if rec.status >= http.StatusInternalServerError {
				mark = repo.MarkFailed
			}
			if err := mark(key, rec.body.Bytes(), rec.status); err != nil {
				entry.WithError(err).Warn("failed to persist webhook response")
			}
			rec.flush(w)
		})
	}
}

func requestFingerprint(r *http.Request, body []byte) string {
	sum := sha256.Sum256(append([]byte(r.Method+"|"+r.URL.Path+"|"), body...))
	return hex.EncodeToString(sum[:])
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func writeStored(w http.ResponseWriter, record domain.DeliveryRecord) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderDeliveryReplay, "true")
	w.WriteHeader(record.HTTPStatus)
	_, _ = w.Write(record.ResponseBody)
}

// bufferedResponse копит ответ, чтобы сохранить его до отправки клиенту.
type bufferedResponse struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = status
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}

func (b *bufferedResponse) flush(w http.ResponseWriter) {
	for k, values := range b.header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
