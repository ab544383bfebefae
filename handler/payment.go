package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tahsilat/sanalpos/gateway"
	"github.com/tahsilat/sanalpos/infra/config"
	"github.com/tahsilat/sanalpos/infra/middle"
	"github.com/tahsilat/sanalpos/infra/response"
	"github.com/tahsilat/sanalpos/installment"
	"github.com/tahsilat/sanalpos/store"
	"github.com/tahsilat/sanalpos/txn"
)

const handlerTimeout = 30 * time.Second

// PaymentHandler handles payment related HTTP requests
type PaymentHandler struct {
	manager  *txn.Manager
	store    *store.SQLiteStore
	validate *validator.Validate
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(manager *txn.Manager, store *store.SQLiteStore, validate *validator.Validate) *PaymentHandler {
	return &PaymentHandler{
		manager:  manager,
		store:    store,
		validate: validate,
	}
}

type cardPayload struct {
	Number      string `json:"number" validate:"required,min=12,max=19"`
	ExpireMonth string `json:"expireMonth" validate:"required,len=2"`
	ExpireYear  string `json:"expireYear" validate:"required,min=2,max=4"`
	CVV         string `json:"cvv" validate:"required,min=3,max=4"`
	HolderName  string `json:"holderName" validate:"omitempty,max=64"`
}

type paymentPayload struct {
	ConfigID         int64       `json:"configId" validate:"required"`
	Reference        string      `json:"reference" validate:"required,max=64"`
	Amount           float64     `json:"amount" validate:"required,gt=0"`
	Currency         string      `json:"currency" validate:"omitempty,len=3"`
	InstallmentCount int         `json:"installmentCount" validate:"omitempty,min=1,max=24"`
	Email            string      `json:"email" validate:"omitempty,email"`
	Card             cardPayload `json:"card" validate:"required"`
}

// ProcessPayment handles payment requests
func (h *PaymentHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	var req paymentPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}
	if req.Currency == "" {
		req.Currency = "TRY"
	}
	if req.InstallmentCount == 0 {
		req.InstallmentCount = 1
	}

	cfg, err := h.store.GetGatewayConfig(req.ConfigID)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Gateway configuration not found", nil)
		return
	}

	quote := h.quoteFor(cfg, req.Amount, req.InstallmentCount)

	result, err := h.manager.Process(ctx, cfg, gateway.PaymentRequest{
		Reference:        req.Reference,
		Amount:           req.Amount,
		Currency:         req.Currency,
		InstallmentCount: req.InstallmentCount,
		Email:            req.Email,
		ClientIP:         middle.GetClientIP(r),
		ReturnURL:        callbackURL(cfg.ID),
		Card: gateway.CardData{
			Number:      req.Card.Number,
			ExpireMonth: req.Card.ExpireMonth,
			ExpireYear:  req.Card.ExpireYear,
			CVV:         req.Card.CVV,
			HolderName:  req.Card.HolderName,
		},
	}, quote)
	if err != nil {
		writeOperationError(w, err)
		return
	}

	if result.ThreeD {
		html, err := renderRedirectForm(result.RedirectURL, result.FormFields)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "Failed to build redirect form", nil)
			return
		}
		response.Success(w, http.StatusOK, "Redirect to 3-D secure", map[string]any{
			"transaction": result.Transaction,
			"threeD":      true,
			"redirectUrl": result.RedirectURL,
			"formFields":  result.FormFields,
			"formHtml":    html,
		})
		return
	}

	response.Success(w, http.StatusOK, "Payment processed", map[string]any{
		"transaction": result.Transaction,
		"threeD":      false,
	})
}

// HandleCallback processes the 3-D secure return posted by the bank.
// It is mounted outside API key auth; authenticity comes from the
// gateway hash verification, not from a bearer token.
func (h *PaymentHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	configID, err := strconv.ParseInt(chi.URLParam(r, "configID"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid config id", nil)
		return
	}
	cfg, err := h.store.GetGatewayConfig(configID)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Gateway configuration not found", nil)
		return
	}

	if err := r.ParseForm(); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid callback payload", nil)
		return
	}
	fields := make(map[string]string, len(r.Form))
	for key := range r.Form {
		fields[key] = r.Form.Get(key)
	}

	t, err := h.manager.HandleCallback(ctx, cfg, fields)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Callback processed", map[string]any{"transaction": t})
}

type refundPayload struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// RefundPayment refunds a captured payment, partially or in full.
func (h *PaymentHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	reference := chi.URLParam(r, "reference")

	var req refundPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	cfg, err := h.configForTransaction(ctx, reference)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	t, err := h.manager.Refund(ctx, cfg, reference, req.Amount)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Payment refunded", map[string]any{"transaction": t})
}

// CancelPayment voids a payment before end-of-day settlement.
func (h *PaymentHandler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	reference := chi.URLParam(r, "reference")

	cfg, err := h.configForTransaction(ctx, reference)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	t, err := h.manager.Cancel(ctx, cfg, reference)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Payment cancelled", map[string]any{"transaction": t})
}

// QueryPayment returns the stored transaction and its history. With
// ?remote=1 it additionally asks the gateway for its view of the order.
func (h *PaymentHandler) QueryPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	reference := chi.URLParam(r, "reference")

	t, history, err := h.manager.Get(ctx, reference)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	data := map[string]any{
		"transaction": t,
		"history":     history,
	}

	if r.URL.Query().Get("remote") == "1" {
		cfg, err := h.store.GetGatewayConfig(t.ConfigID)
		if err == nil {
			if _, resp, err := h.manager.Query(ctx, cfg, reference); err == nil {
				data["gatewayStatus"] = map[string]any{
					"success": resp.Success,
					"code":    resp.Code,
					"message": resp.Message,
				}
			}
		}
	}

	response.Success(w, http.StatusOK, "Transaction retrieved", data)
}

// GetInstallments quotes the available installment plans for an amount.
func (h *PaymentHandler) GetInstallments(w http.ResponseWriter, r *http.Request) {
	configID, err := strconv.ParseInt(r.URL.Query().Get("configId"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid config id", nil)
		return
	}
	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil || amount <= 0 {
		response.Error(w, http.StatusBadRequest, "Invalid amount", nil)
		return
	}

	cfg, err := h.store.GetGatewayConfig(configID)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Gateway configuration not found", nil)
		return
	}

	maxCount := cfg.MaxInstallmentCount
	if !cfg.EnableInstallments {
		maxCount = 1
	}
	options, err := h.store.ListInstallmentOptions(cfg.ID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to load installment options", nil)
		return
	}

	quotes := installment.QuoteSet(amount, options, nil, maxCount, time.Now())
	response.Success(w, http.StatusOK, "Installment quotes", map[string]any{
		"amount": amount,
		"quotes": quotes,
	})
}

// quoteFor prices one payment attempt. A configured option for the
// chosen count wins; otherwise the quote is commission-free.
func (h *PaymentHandler) quoteFor(cfg gateway.Config, amount float64, count int) installment.Quote {
	if count > 1 {
		if options, err := h.store.ListInstallmentOptions(cfg.ID); err == nil {
			for _, opt := range options {
				if opt.Count == count && opt.Eligible(amount) {
					return opt.Quote(amount)
				}
			}
		}
	}
	return installment.Calculate(amount, count, 0, 0)
}

func contextWithTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), handlerTimeout)
}

func (h *PaymentHandler) configForTransaction(ctx context.Context, reference string) (gateway.Config, error) {
	t, _, err := h.manager.Get(ctx, reference)
	if err != nil {
		return gateway.Config{}, err
	}
	return h.store.GetGatewayConfig(t.ConfigID)
}

// writeOperationError maps manager errors to HTTP responses without
// leaking raw gateway payloads.
func writeOperationError(w http.ResponseWriter, err error) {
	switch {
	case gateway.IsValidationError(err):
		response.Error(w, http.StatusBadRequest, "Validation error", err)
	case gateway.IsConfigError(err):
		response.Error(w, http.StatusBadRequest, "Gateway configuration error", err)
	case gateway.IsGatewayDecline(err):
		response.Error(w, http.StatusUnprocessableEntity, "Operation declined by gateway", nil)
	case errors.Is(err, gateway.ErrUnsupportedGateway):
		response.Error(w, http.StatusBadRequest, "Unsupported gateway type", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "Payment operation failed", nil)
	}
}

func callbackURL(configID int64) string {
	return fmt.Sprintf("%s/v1/callback/%d", config.GetAppConfig().BaseCallbackURL, configID)
}

var redirectFormTemplate = template.Must(template.New("redirect").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Yönlendiriliyor...</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{- range $name, $value := .Fields}}
<input type="hidden" name="{{$name}}" value="{{$value}}">
{{- end}}
<noscript><button type="submit">Devam</button></noscript>
</form>
</body>
</html>`))

// renderRedirectForm builds the auto-submitting form that carries the
// customer to the bank's 3-D secure page.
func renderRedirectForm(action string, fields map[string]string) (string, error) {
	var buf bytes.Buffer
	err := redirectFormTemplate.Execute(&buf, struct {
		Action string
		Fields map[string]string
	}{Action: action, Fields: fields})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
