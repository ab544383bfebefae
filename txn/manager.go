package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tahsilat/sanalpos/card"
	"github.com/tahsilat/sanalpos/gateway"
	"github.com/tahsilat/sanalpos/infra/logger"
	"github.com/tahsilat/sanalpos/installment"
)

// refundEpsilon absorbs float representation noise when comparing
// accumulated refund amounts against the transaction total.
const refundEpsilon = 0.005

// ProcessResult is the outcome of starting a payment. For 3-D Secure
// flows the transaction stays in processing and the caller redirects
// the customer with the returned form; otherwise Transaction carries
// the final state.
type ProcessResult struct {
	Transaction *Transaction      `json:"transaction"`
	ThreeD      bool              `json:"threeD"`
	RedirectURL string            `json:"redirectUrl,omitempty"`
	FormFields  map[string]string `json:"formFields,omitempty"`
}

// Manager drives transactions through their lifecycle. All mutations of
// a transaction happen under its per-reference lock, so concurrent
// refunds or a refund racing a cancel serialize instead of corrupting
// state.
type Manager struct {
	store       Store
	registry    *gateway.Registry
	fulfillment Fulfillment
	catalog     CatalogPolicy
	settings    SettingsStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerOption configures optional collaborators.
type ManagerOption func(*Manager)

// WithFulfillment sets the fulfillment hook notified on final states.
func WithFulfillment(f Fulfillment) ManagerOption {
	return func(m *Manager) { m.fulfillment = f }
}

// WithCatalogPolicy sets the installment restriction source.
func WithCatalogPolicy(c CatalogPolicy) ManagerOption {
	return func(m *Manager) { m.catalog = c }
}

// WithSettings sets the operational toggle source consulted before each
// payment attempt.
func WithSettings(s SettingsStore) ManagerOption {
	return func(m *Manager) { m.settings = s }
}

// NewManager creates a transaction manager backed by the given store
// and adapter registry.
func NewManager(store Store, registry *gateway.Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		registry:    registry,
		fulfillment: NoopFulfillment{},
		catalog:     OpenCatalogPolicy{},
		settings:    EmptySettings{},
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lock returns the mutex for a reference, creating it on first use.
// Locks are kept for the life of the process; references are bounded by
// transaction volume and the map entry is a single mutex.
func (m *Manager) lock(reference string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[reference]
	if !ok {
		l = &sync.Mutex{}
		m.locks[reference] = l
	}
	return l
}

// Process starts a payment: it records the transaction, dispatches to
// the gateway and either returns the 3-D redirect form or the final
// non-secure result. The quote must come from the pricing engine for
// this request's amount and installment count.
func (m *Manager) Process(ctx context.Context, cfg gateway.Config, req gateway.PaymentRequest, quote installment.Quote) (*ProcessResult, error) {
	if err := m.validateRequest(ctx, cfg, req); err != nil {
		return nil, err
	}

	adapter, err := m.registry.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(logger.LogContext{Gateway: string(cfg.Type), Reference: req.Reference})

	l := m.lock(req.Reference)
	l.Lock()
	defer l.Unlock()

	if existing, err := m.store.GetTransaction(ctx, req.Reference); err == nil && existing != nil {
		return nil, &gateway.ValidationError{Field: "reference", Reason: "a transaction with this reference already exists"}
	}

	use3D := cfg.Use3DSecure || cfg.Force3DSecure
	if !use3D && !cfg.AllowNonSecure {
		return nil, &gateway.ValidationError{Field: "config", Reason: "non-secure payments are not allowed for this gateway"}
	}

	t := &Transaction{
		ID:                uuid.New().String(),
		Reference:         req.Reference,
		ConfigID:          cfg.ID,
		Gateway:           string(cfg.Type),
		Amount:            req.Amount,
		Currency:          req.Currency,
		InstallmentCount:  quote.InstallmentCount,
		InstallmentAmount: quote.InstallmentAmount,
		TotalAmount:       quote.TotalAmount,
		CommissionAmount:  quote.CommissionAmount,
		Secure3D:          use3D,
		MaskedCard:        card.Mask(req.Card.Number),
		CardBrand:         string(card.DetectBrand(req.Card.Number)),
		CardIssuer:        card.DetectIssuer(req.Card.Number),
		State:             StatePending,
		CustomerEmail:     req.Email,
		ClientIP:          req.ClientIP,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}

	if err := m.store.SaveTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}
	m.appendHistory(ctx, t.Reference, "", StatePending, "system", "", "transaction created")

	// The gateway request always uses the commission-inclusive total.
	req.Amount = quote.TotalAmount
	req.InstallmentCount = quote.InstallmentCount

	payload, endpoint, err := adapter.PrepareRequest(req)
	if err != nil {
		m.transition(ctx, t, StateProcessing, "system", "", "")
		m.transition(ctx, t, StateFailed, "system", gateway.CodeParsingError, err.Error())
		m.persist(ctx, t)
		return nil, err
	}
	t.RequestSnapshot = snapshotPayload(payload)
	t.GatewayOrderID = orderIDFromPayload(payload)

	if !m.transition(ctx, t, StateProcessing, "system", "", "") {
		return nil, fmt.Errorf("transaction %s cannot move to processing from %s", t.Reference, t.State)
	}
	m.persist(ctx, t)

	if use3D {
		log.Info("redirecting to 3-D secure")
		return &ProcessResult{
			Transaction: t,
			ThreeD:      true,
			RedirectURL: endpoint,
			FormFields:  payload,
		}, nil
	}

	resp := m.sendWithRetry(ctx, adapter, cfg, payload)
	m.applyGatewayResult(ctx, t, resp, "gateway")
	m.persist(ctx, t)
	log.Info(fmt.Sprintf("non-secure payment finished in state %s", t.State))

	return &ProcessResult{Transaction: t}, nil
}

// HandleCallback finalizes a 3-D Secure payment from the bank's return
// POST. Signature verification happens inside the adapter; a mismatch
// comes back as a failed response regardless of the bank's own status
// fields.
func (m *Manager) HandleCallback(ctx context.Context, cfg gateway.Config, fields map[string]string) (*Transaction, error) {
	adapter, err := m.registry.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	resp := adapter.Process3DReturn(fields)
	reference := ReferenceFromOrderID(resp.OrderID)
	if reference == "" {
		return nil, &gateway.ValidationError{Field: "oid", Reason: "callback does not carry a recognizable order id"}
	}

	l := m.lock(reference)
	l.Lock()
	defer l.Unlock()

	t, err := m.store.GetTransaction(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("callback for unknown transaction %s: %w", reference, err)
	}
	if t.State != StateProcessing {
		// Duplicate or late callback. The stored outcome stands.
		return t, nil
	}

	t.MDStatus = resp.MDStatus
	m.applyGatewayResult(ctx, t, resp, "callback")
	m.persist(ctx, t)

	logger.Info(fmt.Sprintf("3-D callback finished in state %s", t.State),
		logger.LogContext{Gateway: t.Gateway, Reference: t.Reference})
	return t, nil
}

// Refund refunds part or all of a captured payment. Partial refunds
// accumulate; the transaction reaches refunded when the full total has
// been returned.
func (m *Manager) Refund(ctx context.Context, cfg gateway.Config, reference string, amount float64) (*Transaction, error) {
	if !cfg.AllowRefund {
		return nil, &gateway.ValidationError{Field: "config", Reason: "refunds are disabled for this gateway"}
	}
	if amount <= 0 {
		return nil, &gateway.ValidationError{Field: "amount", Reason: "refund amount must be positive"}
	}

	adapter, err := m.registry.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	l := m.lock(reference)
	l.Lock()
	defer l.Unlock()

	t, err := m.store.GetTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !t.State.Refundable() {
		return nil, &gateway.ValidationError{Field: "state", Reason: fmt.Sprintf("transaction in state %s cannot be refunded", t.State)}
	}
	remaining := t.RemainingRefundable()
	if amount > remaining+refundEpsilon {
		return nil, &gateway.ValidationError{Field: "amount", Reason: fmt.Sprintf("refund amount %.2f exceeds remaining %.2f", amount, remaining)}
	}
	if cfg.RefundTimeLimitDays > 0 && t.PaymentDate != nil {
		deadline := t.PaymentDate.AddDate(0, 0, cfg.RefundTimeLimitDays)
		if time.Now().After(deadline) {
			return nil, &gateway.ValidationError{Field: "amount", Reason: "refund window for this transaction has closed"}
		}
	}

	resp := adapter.Refund(ctx, gateway.RefundRequest{
		GatewayOrderID: t.GatewayOrderID,
		Amount:         amount,
		Currency:       t.Currency,
		Email:          t.CustomerEmail,
		ClientIP:       t.ClientIP,
	})
	if !resp.Success {
		m.appendHistory(ctx, t.Reference, t.State, t.State, "gateway", resp.Code, "refund declined: "+resp.Message)
		return t, &gateway.GatewayDeclineError{Code: resp.Code, Message: resp.Message}
	}

	t.RefundedAmount += amount
	next := StatePartialRefunded
	if t.RemainingRefundable() < refundEpsilon {
		next = StateRefunded
	}
	m.transition(ctx, t, next, "gateway", resp.Code, fmt.Sprintf("refunded %.2f %s", amount, t.Currency))
	m.persist(ctx, t)

	if _, err := m.fulfillment.CreateCreditNote(ctx, t.Reference, amount); err != nil {
		logger.Error("failed to create credit note", err,
			logger.LogContext{Gateway: t.Gateway, Reference: t.Reference})
	}

	logger.Info(fmt.Sprintf("refund of %.2f applied, state %s", amount, t.State),
		logger.LogContext{Gateway: t.Gateway, Reference: t.Reference})
	return t, nil
}

// Cancel voids a captured payment in full. A transaction with any
// refund already applied must use Refund instead.
func (m *Manager) Cancel(ctx context.Context, cfg gateway.Config, reference string) (*Transaction, error) {
	if !cfg.AllowCancel {
		return nil, &gateway.ValidationError{Field: "config", Reason: "cancellation is disabled for this gateway"}
	}

	adapter, err := m.registry.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	l := m.lock(reference)
	l.Lock()
	defer l.Unlock()

	t, err := m.store.GetTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if t.State != StateCaptured {
		return nil, &gateway.ValidationError{Field: "state", Reason: fmt.Sprintf("transaction in state %s cannot be cancelled", t.State)}
	}
	if t.RefundedAmount > 0 {
		return nil, &gateway.ValidationError{Field: "state", Reason: "partially refunded transactions must be refunded, not cancelled"}
	}

	resp := adapter.Cancel(ctx, gateway.CancelRequest{
		GatewayOrderID: t.GatewayOrderID,
		Email:          t.CustomerEmail,
		ClientIP:       t.ClientIP,
	})
	if !resp.Success {
		m.appendHistory(ctx, t.Reference, t.State, t.State, "gateway", resp.Code, "cancel declined: "+resp.Message)
		return t, &gateway.GatewayDeclineError{Code: resp.Code, Message: resp.Message}
	}

	m.transition(ctx, t, StateCancelled, "gateway", resp.Code, "payment voided")
	m.persist(ctx, t)
	return t, nil
}

// Query asks the gateway for the transaction's status. It never mutates
// stored state; reconciliation decisions belong to the operator.
func (m *Manager) Query(ctx context.Context, cfg gateway.Config, reference string) (*Transaction, *gateway.Response, error) {
	t, err := m.store.GetTransaction(ctx, reference)
	if err != nil {
		return nil, nil, err
	}

	adapter, err := m.registry.Resolve(cfg)
	if err != nil {
		return nil, nil, err
	}

	resp := adapter.QueryStatus(ctx, gateway.QueryRequest{
		GatewayOrderID: t.GatewayOrderID,
	})

	// One audit entry per inquiry; the state itself stays untouched.
	m.appendHistory(ctx, t.Reference, t.State, t.State, "operator", resp.Code, "status queried")
	return t, resp, nil
}

// Get loads a transaction with its history.
func (m *Manager) Get(ctx context.Context, reference string) (*Transaction, []HistoryEntry, error) {
	t, err := m.store.GetTransaction(ctx, reference)
	if err != nil {
		return nil, nil, err
	}
	history, err := m.store.ListHistory(ctx, reference)
	if err != nil {
		return nil, nil, err
	}
	return t, history, nil
}

// applyGatewayResult moves a processing transaction to its final
// payment state from a gateway response. Sale transactions capture in
// the same step as authorization.
func (m *Manager) applyGatewayResult(ctx context.Context, t *Transaction, resp *gateway.Response, actor string) {
	t.ResponseSnapshot = snapshotResponse(resp)
	t.GatewayTxnID = resp.TransactionID
	if resp.OrderID != "" {
		t.GatewayOrderID = resp.OrderID
	}

	if !resp.Success {
		t.ErrorCode = resp.Code
		t.ErrorMessage = resp.Message
		m.transition(ctx, t, StateFailed, actor, resp.Code, resp.Message)
		return
	}

	t.AuthCode = resp.AuthCode
	t.RRN = resp.RRN
	t.Stan = resp.Stan
	now := time.Now().UTC()
	t.PaymentDate = &now

	m.transition(ctx, t, StateAuthorized, actor, resp.Code, "payment authorized")
	m.transition(ctx, t, StateCaptured, actor, resp.Code, "payment captured")

	if _, err := m.fulfillment.CreateFulfillmentRecord(ctx, t.Reference); err != nil {
		logger.Error("failed to create fulfillment record", err,
			logger.LogContext{Gateway: t.Gateway, Reference: t.Reference})
	}
	if err := m.fulfillment.MarkInvoicePaid(ctx, t.Reference); err != nil {
		logger.Error("failed to mark invoice paid", err,
			logger.LogContext{Gateway: t.Gateway, Reference: t.Reference})
	}
}

// sendWithRetry posts the payload, retrying transport-level failures
// with a fixed backoff up to the configured retry count. Declines and
// timeouts are not retried.
func (m *Manager) sendWithRetry(ctx context.Context, adapter gateway.Adapter, cfg gateway.Config, payload map[string]string) *gateway.Response {
	resp := adapter.SendNonSecure(ctx, payload)
	for attempt := 0; attempt < cfg.RetryCount && resp.Code == gateway.CodeNetworkError; attempt++ {
		select {
		case <-ctx.Done():
			return resp
		case <-time.After(500 * time.Millisecond):
		}
		resp = adapter.SendNonSecure(ctx, payload)
	}
	return resp
}

// transition applies one state change, recording a history entry.
// Returns false when the lifecycle graph forbids the move.
func (m *Manager) transition(ctx context.Context, t *Transaction, to State, actor, code, message string) bool {
	if !CanTransition(t.State, to) {
		logger.Warn(fmt.Sprintf("rejected transition %s -> %s", t.State, to),
			logger.LogContext{Gateway: t.Gateway, Reference: t.Reference})
		return false
	}
	from := t.State
	t.State = to
	t.UpdatedAt = time.Now().UTC()
	m.appendHistory(ctx, t.Reference, from, to, actor, code, message)
	return true
}

func (m *Manager) appendHistory(ctx context.Context, reference string, from, to State, actor, code, message string) {
	entry := newHistoryEntry(reference, from, to, actor, code, message)
	if err := m.store.AppendHistory(ctx, entry); err != nil {
		logger.Error("failed to append transaction history", err,
			logger.LogContext{Reference: reference})
	}
}

func (m *Manager) persist(ctx context.Context, t *Transaction) {
	if err := m.store.UpdateTransaction(ctx, t); err != nil {
		logger.Error("failed to persist transaction", err,
			logger.LogContext{Gateway: t.Gateway, Reference: t.Reference})
	}
}

func (m *Manager) validateRequest(ctx context.Context, cfg gateway.Config, req gateway.PaymentRequest) error {
	if v, ok := m.settings.Get(SettingPaymentsDisabled); ok && v == "true" {
		return &gateway.ValidationError{Field: "reference", Reason: "payments are temporarily disabled"}
	}
	if req.Reference == "" {
		return &gateway.ValidationError{Field: "reference", Reason: "reference is required"}
	}
	if req.Amount <= 0 {
		return &gateway.ValidationError{Field: "amount", Reason: "amount must be positive"}
	}
	if !card.LuhnValid(req.Card.Number) {
		return &gateway.ValidationError{Field: "cardNumber", Reason: "card number failed checksum validation"}
	}
	if req.InstallmentCount > 1 {
		if !cfg.EnableInstallments {
			return &gateway.ValidationError{Field: "installmentCount", Reason: "installments are disabled for this gateway"}
		}
		max := cfg.MaxInstallmentCount
		policyMax, policyMin, err := m.catalog.InstallmentPolicyFor(ctx, req.Reference)
		if err != nil {
			return fmt.Errorf("failed to resolve installment policy: %w", err)
		}
		if policyMax > 0 && (max == 0 || policyMax < max) {
			max = policyMax
		}
		if max > 0 && req.InstallmentCount > max {
			return &gateway.ValidationError{Field: "installmentCount", Reason: fmt.Sprintf("installment count %d exceeds the allowed maximum %d", req.InstallmentCount, max)}
		}
		if policyMin > 0 && req.Amount < policyMin {
			return &gateway.ValidationError{Field: "amount", Reason: fmt.Sprintf("amount %.2f is below the installment minimum %.2f", req.Amount, policyMin)}
		}
	}
	return nil
}

// orderIDKeys lists the payload field each wire protocol carries its
// order id in.
var orderIDKeys = []string{"oid", "orderid", "orderID", "orderId", "OrderId", "MerchantOrderId", "ORDER_ID"}

func orderIDFromPayload(payload map[string]string) string {
	for _, key := range orderIDKeys {
		if v, ok := payload[key]; ok && v != "" {
			return v
		}
	}
	return ""
}

// ReferenceFromOrderID recovers the merchant reference from a gateway
// order id of the form "reference_timestamp".
func ReferenceFromOrderID(orderID string) string {
	if idx := strings.LastIndex(orderID, "_"); idx > 0 {
		return orderID[:idx]
	}
	return orderID
}

func snapshotPayload(payload map[string]string) string {
	clean := make(map[string]string, len(payload))
	for k, v := range payload {
		key := strings.ToLower(k)
		// Card data and credentials never reach a persisted snapshot.
		if strings.Contains(key, "pan") || strings.Contains(key, "card") ||
			strings.Contains(key, "cvv") || strings.Contains(key, "cv2") ||
			strings.Contains(key, "cvc") || strings.Contains(key, "exp") ||
			strings.Contains(key, "pass") || strings.Contains(key, "secret") {
			continue
		}
		clean[k] = v
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return ""
	}
	return string(b)
}

func snapshotResponse(resp *gateway.Response) string {
	b, err := json.Marshal(resp)
	if err != nil {
		return ""
	}
	return string(b)
}
