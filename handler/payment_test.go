package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tahsilat/sanalpos/gateway"
	"github.com/tahsilat/sanalpos/installment"
	"github.com/tahsilat/sanalpos/store"
	"github.com/tahsilat/sanalpos/txn"

	_ "github.com/tahsilat/sanalpos/gateway/est"
)

const approvedCC5 = `<?xml version="1.0" encoding="ISO-8859-9"?>
<CC5Response>
	<OrderId>ord_20250101120000</OrderId>
	<Response>Approved</Response>
	<ProcReturnCode>00</ProcReturnCode>
	<TransId>25001TESTTRX</TransId>
	<AuthCode>P12345</AuthCode>
	<HostRefNum>500100200300</HostRefNum>
</CC5Response>`

const declinedCC5 = `<?xml version="1.0" encoding="ISO-8859-9"?>
<CC5Response>
	<Response>Declined</Response>
	<ProcReturnCode>51</ProcReturnCode>
	<ErrMsg>Limit yetersiz</ErrMsg>
</CC5Response>`

type paymentEnv struct {
	handler *PaymentHandler
	store   *store.SQLiteStore
	router  chi.Router
	cfgID   int64
}

// newPaymentEnv wires a handler against a temp store and one gateway
// config pointing at the given bank endpoint.
func newPaymentEnv(t *testing.T, bankURL string, mutate func(*gateway.Config)) *paymentEnv {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := gateway.Config{
		Name:                "est-main",
		Type:                gateway.TypeEST,
		Environment:         gateway.EnvTest,
		ClientID:            "700655000200",
		Username:            "apiuser",
		Password:            "apipass",
		StoreKey:            "TRPS1234",
		APIURLTest:          bankURL,
		ThreeDURLTest:       bankURL + "/3d",
		AllowNonSecure:      true,
		AllowRefund:         true,
		AllowCancel:         true,
		EnableInstallments:  true,
		MaxInstallmentCount: 12,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	id, err := s.SaveGatewayConfig(cfg)
	if err != nil {
		t.Fatalf("SaveGatewayConfig() error = %v", err)
	}

	manager := txn.NewManager(s, gateway.DefaultRegistry)
	h := NewPaymentHandler(manager, s, validator.New())

	r := chi.NewRouter()
	r.Post("/v1/payments", h.ProcessPayment)
	r.Get("/v1/payments/{reference}", h.QueryPayment)
	r.Post("/v1/payments/{reference}/refund", h.RefundPayment)
	r.Post("/v1/payments/{reference}/cancel", h.CancelPayment)
	r.Post("/v1/callback/{configID}", h.HandleCallback)
	r.Get("/v1/installments", h.GetInstallments)

	return &paymentEnv{handler: h, store: s, router: r, cfgID: id}
}

func bankStub(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (e *paymentEnv) paymentBody(reference string) string {
	return `{
		"configId": ` + jsonInt(e.cfgID) + `,
		"reference": "` + reference + `",
		"amount": 100.50,
		"currency": "TRY",
		"email": "customer@example.com",
		"card": {
			"number": "4242424242424242",
			"expireMonth": "12",
			"expireYear": "28",
			"cvv": "123"
		}
	}`
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (e *paymentEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var parsed map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("response is not JSON: %v\nbody: %s", err, w.Body.String())
	}
	return w, parsed
}

func dataOf(t *testing.T, parsed map[string]any) map[string]any {
	t.Helper()
	data, ok := parsed["data"].(map[string]any)
	if !ok {
		t.Fatalf("response has no data object: %v", parsed)
	}
	return data
}

func transactionOf(t *testing.T, data map[string]any) map[string]any {
	t.Helper()
	trx, ok := data["transaction"].(map[string]any)
	if !ok {
		t.Fatalf("data has no transaction: %v", data)
	}
	return trx
}

func TestProcessPaymentNonSecure(t *testing.T) {
	bank := bankStub(t, approvedCC5)
	env := newPaymentEnv(t, bank.URL, nil)

	w, parsed := env.do(t, "POST", "/v1/payments", env.paymentBody("order-1001"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	data := dataOf(t, parsed)
	if data["threeD"] != false {
		t.Errorf("threeD = %v, want false", data["threeD"])
	}
	trx := transactionOf(t, data)
	if trx["state"] != "captured" {
		t.Errorf("state = %v, want captured", trx["state"])
	}
	if trx["authCode"] != "P12345" {
		t.Errorf("authCode = %v, want P12345", trx["authCode"])
	}
	if masked, _ := trx["maskedCard"].(string); !strings.HasSuffix(masked, "4242") || !strings.Contains(masked, "*") {
		t.Errorf("maskedCard = %q, want masked with last four 4242", masked)
	}
}

func TestProcessPaymentDeclined(t *testing.T) {
	bank := bankStub(t, declinedCC5)
	env := newPaymentEnv(t, bank.URL, nil)

	w, parsed := env.do(t, "POST", "/v1/payments", env.paymentBody("order-1002"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// A gateway decline is still a processed request; the failure lives
	// in the transaction state.
	trx := transactionOf(t, dataOf(t, parsed))
	if trx["state"] != "failed" {
		t.Errorf("state = %v, want failed", trx["state"])
	}
	if trx["errorCode"] != "51" {
		t.Errorf("errorCode = %v, want 51", trx["errorCode"])
	}
}

func TestProcessPayment3DSecure(t *testing.T) {
	bank := bankStub(t, approvedCC5)
	env := newPaymentEnv(t, bank.URL, func(cfg *gateway.Config) {
		cfg.Use3DSecure = true
	})

	w, parsed := env.do(t, "POST", "/v1/payments", env.paymentBody("order-1003"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	data := dataOf(t, parsed)
	if data["threeD"] != true {
		t.Fatalf("threeD = %v, want true", data["threeD"])
	}
	if url, _ := data["redirectUrl"].(string); !strings.HasSuffix(url, "/3d") {
		t.Errorf("redirectUrl = %v, want the 3-D endpoint", data["redirectUrl"])
	}
	html, _ := data["formHtml"].(string)
	if !strings.Contains(html, "<form method=\"post\"") || !strings.Contains(html, "document.forms[0].submit()") {
		t.Errorf("formHtml is not an auto-submitting form:\n%s", html)
	}
	fields, _ := data["formFields"].(map[string]any)
	if fields["clientid"] != "700655000200" {
		t.Errorf("formFields missing clientid: %v", fields)
	}
}

func TestProcessPaymentRejections(t *testing.T) {
	bank := bankStub(t, approvedCC5)
	env := newPaymentEnv(t, bank.URL, nil)

	badLuhn := strings.Replace(env.paymentBody("order-1004"), "4242424242424242", "4242424242424241", 1)
	unknownConfig := strings.Replace(env.paymentBody("order-1005"), jsonInt(env.cfgID), "9999", 1)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"malformed json", `{"configId":`, http.StatusBadRequest},
		{"missing card", `{"configId":` + jsonInt(env.cfgID) + `,"reference":"r1","amount":10}`, http.StatusBadRequest},
		{"invalid card checksum", badLuhn, http.StatusBadRequest},
		{"unknown config", unknownConfig, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := env.do(t, "POST", "/v1/payments", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestProcessPaymentDuplicateReference(t *testing.T) {
	bank := bankStub(t, approvedCC5)
	env := newPaymentEnv(t, bank.URL, nil)

	if w, _ := env.do(t, "POST", "/v1/payments", env.paymentBody("order-1006")); w.Code != http.StatusOK {
		t.Fatalf("first payment status = %d", w.Code)
	}
	w, _ := env.do(t, "POST", "/v1/payments", env.paymentBody("order-1006"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate reference status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRefundAfterCapture(t *testing.T) {
	bank := bankStub(t, approvedCC5)
	env := newPaymentEnv(t, bank.URL, nil)

	if w, _ := env.do(t, "POST", "/v1/payments", env.paymentBody("order-1007")); w.Code != http.StatusOK {
		t.Fatalf("payment status = %d", w.Code)
	}

	w, parsed := env.do(t, "POST", "/v1/payments/order-1007/refund", `{"amount": 100.50}`)
	if w.Code != http.StatusOK {
		t.Fatalf("refund status = %d, body = %s", w.Code, w.Body.String())
	}
	trx := transactionOf(t, dataOf(t, parsed))
	if trx["state"] != "refunded" {
		t.Errorf("state = %v, want refunded", trx["state"])
	}
}

func TestRefundUnknownTransaction(t *testing.T) {
	bank := bankStub(t, approvedCC5)
	env := newPaymentEnv(t, bank.URL, nil)

	w, _ := env.do(t, "POST", "/v1/payments/missing/refund", `{"amount": 10}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestCancelAfterCapture(t *testing.T) {
	bank := bankStub(t, approvedCC5)
	env := newPaymentEnv(t, bank.URL, nil)

	if w, _ := env.do(t, "POST", "/v1/payments", env.paymentBody("order-1008")); w.Code != http.StatusOK {
		t.Fatalf("payment status = %d", w.Code)
	}

	w, parsed := env.do(t, "POST", "/v1/payments/order-1008/cancel", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body = %s", w.Code, w.Body.String())
	}
	trx := transactionOf(t, dataOf(t, parsed))
	if trx["state"] != "cancelled" {
		t.Errorf("state = %v, want cancelled", trx["state"])
	}
}

func TestQueryPaymentWithHistory(t *testing.T) {
	bank := bankStub(t, approvedCC5)
	env := newPaymentEnv(t, bank.URL, nil)

	if w, _ := env.do(t, "POST", "/v1/payments", env.paymentBody("order-1009")); w.Code != http.StatusOK {
		t.Fatalf("payment status = %d", w.Code)
	}

	w, parsed := env.do(t, "GET", "/v1/payments/order-1009", "")
	if w.Code != http.StatusOK {
		t.Fatalf("query status = %d", w.Code)
	}
	data := dataOf(t, parsed)
	history, ok := data["history"].([]any)
	if !ok || len(history) == 0 {
		t.Errorf("expected non-empty history, got %v", data["history"])
	}

	w, parsed = env.do(t, "GET", "/v1/payments/order-1009?remote=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("remote query status = %d", w.Code)
	}
	gw, ok := dataOf(t, parsed)["gatewayStatus"].(map[string]any)
	if !ok {
		t.Fatalf("expected gatewayStatus in remote query response")
	}
	if gw["success"] != true {
		t.Errorf("gatewayStatus.success = %v, want true", gw["success"])
	}
}

func TestHandleCallbackBadConfig(t *testing.T) {
	bank := bankStub(t, approvedCC5)
	env := newPaymentEnv(t, bank.URL, nil)

	w, _ := env.do(t, "POST", "/v1/callback/9999", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown config status = %d, want %d", w.Code, http.StatusNotFound)
	}

	req := httptest.NewRequest("POST", "/v1/callback/abc", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed config id status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetInstallments(t *testing.T) {
	bank := bankStub(t, approvedCC5)
	env := newPaymentEnv(t, bank.URL, nil)

	_, err := env.store.SaveInstallmentOption(installment.Option{
		ConfigID:       env.cfgID,
		Count:          3,
		CommissionRate: 5,
		Active:         true,
	})
	if err != nil {
		t.Fatalf("SaveInstallmentOption() error = %v", err)
	}

	w, parsed := env.do(t, "GET", "/v1/installments?configId="+jsonInt(env.cfgID)+"&amount=300", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	quotes, ok := dataOf(t, parsed)["quotes"].([]any)
	if !ok || len(quotes) == 0 {
		t.Fatalf("expected quotes, got %v", parsed)
	}

	var found bool
	for _, q := range quotes {
		quote := q.(map[string]any)
		if quote["installmentCount"] == float64(3) {
			found = true
			if total, _ := quote["totalAmount"].(float64); total != 315 {
				t.Errorf("3-installment totalAmount = %v, want 315 with 5 percent commission", total)
			}
		}
	}
	if !found {
		t.Errorf("no 3-installment quote in %v", quotes)
	}
}

func TestGetInstallmentsRejectsBadParams(t *testing.T) {
	bank := bankStub(t, approvedCC5)
	env := newPaymentEnv(t, bank.URL, nil)

	tests := []struct {
		name string
		path string
	}{
		{"missing config", "/v1/installments?amount=100"},
		{"missing amount", "/v1/installments?configId=" + jsonInt(env.cfgID)},
		{"negative amount", "/v1/installments?configId=" + jsonInt(env.cfgID) + "&amount=-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := env.do(t, "GET", tt.path, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}
