package httpapi

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

const noticeText = `O serviço "DSI - Créditos por Produtos" requer que a loja e a carteira TeraWallet estejam configuradas e ativas.`

var (
	creditsFieldTemplate = template.Must(template.New("credits-field").Parse(`<div class="options_group">
<p class="form-field {{.FieldID}}_field">
<label for="{{.FieldID}}">Créditos TeraWallet a conceder</label>
<input type="number" class="short" name="{{.FieldID}}" id="{{.FieldID}}" value="{{.Value}}" placeholder="Ex: 10.50" min="0" step="any">
<span class="description">Quantidade de créditos adicionada à carteira do cliente por unidade comprada.</span>
</p>
</div>
`))

	noticeTemplate = template.Must(template.New("notice").Parse(`<div class="notice notice-error"><p>{{.Text}}</p>{{if .Missing}}<p>Ausente: {{range $i, $m := .Missing}}{{if $i}}, {{end}}{{$m}}{{end}}</p>{{end}}</div>
`))
)

type creditsFieldView struct {
	FieldID string
	Value   string
}

type noticeView struct {
	Text    string
	Missing []string
}

type creditsResponse struct {
	ProductID int64  `json:"product_id"`
	Credits   string `json:"credits"`
}

type adminHandlers struct {
	credits  ProductCredits
	products domain.ProductRepository
	missing  func() []string
	logger   *log.Entry
}

// creditsField рендерит поле количества кредитов формы товара.
func (h *adminHandlers) creditsField(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", "product catalog is not configured")
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	product, err := h.products.Get(productID)
	if err != nil {
		h.writeProductError(w, productID, err)
		return
	}

	renderHTML(w, http.StatusOK, creditsFieldTemplate, creditsFieldView{
		FieldID: domain.MetaCreditsAmount,
		Value:   product.MetaValue(domain.MetaCreditsAmount),
	}, h.logger)
}

// saveCredits применяет значение формы: числовое сохраняется, любое другое удаляет атрибут.
func (h *adminHandlers) saveCredits(w http.ResponseWriter, r *http.Request) {
	if h.credits == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", "product catalog is not configured")
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form", "unable to parse form")
		return
	}

	if err := h.credits.SaveCreditsField(productID, r.PostFormValue(domain.MetaCreditsAmount)); err != nil {
		h.writeProductError(w, productID, err)
		return
	}

	resp := creditsResponse{ProductID: productID}
	if h.products != nil {
		if product, err := h.products.Get(productID); err == nil {
			resp.Credits = product.MetaValue(domain.MetaCreditsAmount)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// notices рендерит баннер об отсутствующих зависимостях; без проблем отвечает 204.
func (h *adminHandlers) notices(w http.ResponseWriter, _ *http.Request) {
	var missing []string
	if h.missing != nil {
		missing = h.missing()
	}
	if len(missing) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	renderHTML(w, http.StatusOK, noticeTemplate, noticeView{Text: noticeText, Missing: missing}, h.logger)
}

func (h *adminHandlers) writeProductError(w http.ResponseWriter, productID int64, err error) {
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "product_not_found", "product not found")
	case errors.Is(err, domain.ErrProductIDRequired):
		writeError(w, http.StatusBadRequest, "product_id_required", "product id is required")
	default:
		h.logger.WithError(err).WithField("product_id", productID).Error("product credits request failed")
		writeError(w, http.StatusInternalServerError, "internal", "unable to process product credits")
	}
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "product_id_invalid", "product id must be a positive integer")
		return 0, false
	}
	return id, true
}

func renderHTML(w http.ResponseWriter, status int, tmpl *template.Template, data any, logger *log.Entry) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		logger.WithError(err).WithField("template", tmpl.Name()).Error("template render failed")
		writeError(w, http.StatusInternalServerError, "render_failed", "unable to render template")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
