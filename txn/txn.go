// Package txn owns the payment transaction lifecycle: the state
// machine, the append-only transition history and the manager that
// drives gateway adapters while holding a per-reference lock so each
// transaction has a single writer at a time.
package txn

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transaction is the persistent record of one payment attempt. The card
// number is stored masked only; the CVV is never persisted anywhere.
type Transaction struct {
	ID                string  `json:"id"`
	Reference         string  `json:"reference"`
	ConfigID          int64   `json:"configId"`
	Gateway           string  `json:"gateway"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
	InstallmentCount  int     `json:"installmentCount"`
	InstallmentAmount float64 `json:"installmentAmount"`
	TotalAmount       float64 `json:"totalAmount"`
	CommissionAmount  float64 `json:"commissionAmount"`
	Secure3D          bool    `json:"secure3d"`
	MDStatus          string  `json:"mdStatus,omitempty"`
	MaskedCard        string  `json:"maskedCard"`
	CardBrand         string  `json:"cardBrand,omitempty"`
	CardIssuer        string  `json:"cardIssuer,omitempty"`
	State             State   `json:"state"`
	GatewayOrderID    string  `json:"gatewayOrderId,omitempty"`
	GatewayTxnID      string  `json:"gatewayTxnId,omitempty"`
	AuthCode          string  `json:"authCode,omitempty"`
	RRN               string  `json:"rrn,omitempty"`
	Stan              string  `json:"stan,omitempty"`
	RefundedAmount    float64 `json:"refundedAmount"`
	ErrorCode         string  `json:"errorCode,omitempty"`
	ErrorMessage      string  `json:"errorMessage,omitempty"`
	RequestSnapshot   string  `json:"-"`
	ResponseSnapshot  string  `json:"-"`
	CustomerEmail     string  `json:"customerEmail,omitempty"`
	ClientIP          string  `json:"clientIp,omitempty"`
	// Pointer so an unpaid transaction omits the field instead of
	// serializing the zero time.
	PaymentDate *time.Time `json:"paymentDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// RemainingRefundable returns the amount still open for refund.
func (t *Transaction) RemainingRefundable() float64 {
	remaining := t.TotalAmount - t.RefundedAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HistoryEntry is one immutable record of a state transition. Entries
// are append-only; nothing ever updates or deletes them.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	FromState State     `json:"fromState"`
	ToState   State     `json:"toState"`
	Actor     string    `json:"actor"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newHistoryEntry(reference string, from, to State, actor, code, message string) HistoryEntry {
	return HistoryEntry{
		ID:        uuid.New().String(),
		Reference: reference,
		FromState: from,
		ToState:   to,
		Actor:     actor,
		Code:      code,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// Store persists transactions and their transition history.
type Store interface {
	SaveTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, reference string) (*Transaction, error)
	UpdateTransaction(ctx context.Context, t *Transaction) error
	AppendHistory(ctx context.Context, entry HistoryEntry) error
	ListHistory(ctx context.Context, reference string) ([]HistoryEntry, error)
}

// Fulfillment is the order-side collaborator. The manager calls it on
// capture and on refund so order handling and invoicing proceed outside
// this package; errors are logged, never rolled back into the payment.
type Fulfillment interface {
	CreateFulfillmentRecord(ctx context.Context, reference string) (orderID string, err error)
	MarkInvoicePaid(ctx context.Context, reference string) error
	CreateCreditNote(ctx context.Context, reference string, amount float64) (creditNoteID string, err error)
}

// CatalogPolicy answers installment restrictions for what is being
// purchased; the most restrictive category wins. A zero max means no
// restriction.
type CatalogPolicy interface {
	InstallmentPolicyFor(ctx context.Context, reference string) (maxCount int, minAmount float64, err error)
}

// SettingsStore exposes read-only operational toggles, such as the
// default gateway config id.
type SettingsStore interface {
	Get(key string) (string, bool)
}

// SettingPaymentsDisabled, when set to "true", rejects every new payment
// attempt before any transaction is recorded. Refunds, cancels and
// queries on existing transactions stay available.
const SettingPaymentsDisabled = "payments.disabled"

// NoopFulfillment ignores all notifications.
type NoopFulfillment struct{}

func (NoopFulfillment) CreateFulfillmentRecord(context.Context, string) (string, error) {
	return "", nil
}
func (NoopFulfillment) MarkInvoicePaid(context.Context, string) error { return nil }
func (NoopFulfillment) CreateCreditNote(context.Context, string, float64) (string, error) {
	return "", nil
}

// OpenCatalogPolicy places no installment restriction on any purchase.
type OpenCatalogPolicy struct{}

func (OpenCatalogPolicy) InstallmentPolicyFor(context.Context, string) (int, float64, error) {
	return 0, 0, nil
}

// EmptySettings is a SettingsStore with no keys.
type EmptySettings struct{}

func (EmptySettings) Get(string) (string, bool) { return "", false }
