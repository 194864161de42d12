package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
)

type webhookRequest struct {
	OrderID int64 `json:"order_id"`
}

type webhookResponse struct {
	Status  string `json:"status"`
	OrderID int64  `json:"order_id"`
	Event   string `json:"event"`
}

type webhookHandlers struct {
	lifecycle Lifecycle
	logger    *log.Entry
}

func (h *webhookHandlers) paymentCompleted(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "payment_completed", func(id int64) { h.lifecycle.HandlePaymentCompleted(id) })
}

func (h *webhookHandlers) orderCompleted(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "order_completed", func(id int64) { h.lifecycle.HandleOrderCompleted(id) })
}

// handle разбирает тело и синхронно вызывает триггер. Ошибки триггера в ответ не попадают.
func (h *webhookHandlers) handle(w http.ResponseWriter, r *http.Request, event string, trigger func(int64)) {
	if h.lifecycle == nil {
		writeError(w, http.StatusServiceUnavailable, "lifecycle_unavailable", "order lifecycle is not configured")
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}
	if req.OrderID <= 0 {
		writeError(w, http.StatusBadRequest, "order_id_required", "order_id must be a positive integer")
		return
	}

	h.logger.WithFields(log.Fields{"order_id": req.OrderID, "event": event}).Info("webhook received")
	trigger(req.OrderID)

	writeJSON(w, http.StatusOK, webhookResponse{Status: "accepted", OrderID: req.OrderID, Event: event})
}
