package gateway

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Type identifies a virtual POS wire protocol. Several banks share a
// protocol family (e.g. İşbank, Ziraat, Halkbank, TEB and Şekerbank all
// speak Asseco EST), so the type names the protocol, not the bank.
type Type string

const (
	TypeEST          Type = "est"
	TypeESTV3        Type = "est_v3"
	TypeGaranti      Type = "garanti"
	TypePosnet       Type = "posnet"
	TypePosnetV1     Type = "posnet_v1"
	TypePayFor       Type = "payfor"
	TypeInterPos     Type = "interpos"
	TypePayFlex      Type = "payflex"
	TypePayFlexCP    Type = "payflex_cp"
	TypeAkbank       Type = "akbank"
	TypeKuveyt       Type = "kuveyt"
	TypeParam        Type = "param"
	TypeTosla        Type = "tosla"
	TypeVakifKatilim Type = "vakifkatilim"
)

// Types lists every supported gateway type.
func Types() []Type {
	return []Type{
		TypeEST, TypeESTV3, TypeGaranti, TypePosnet, TypePosnetV1,
		TypePayFor, TypeInterPos, TypePayFlex, TypePayFlexCP, TypeAkbank,
		TypeKuveyt, TypeParam, TypeTosla, TypeVakifKatilim,
	}
}

// Environment selects which URL set and credentials a config uses.
type Environment string

const (
	EnvTest       Environment = "test"
	EnvProduction Environment = "production"
)

// HashAlgorithm selects the digest used when signing requests.
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "sha256"
	HashSHA512 HashAlgorithm = "sha512"
)

// Config is the per-merchant-per-bank gateway configuration. Not every
// gateway uses every credential field; each adapter validates the subset
// it needs through its RequiredFields list.
type Config struct {
	ID          int64
	Name        string
	Type        Type
	Environment Environment

	Username      string
	Password      string
	ClientID      string
	MerchantID    string
	TerminalID    string
	StoreKey      string
	ProvisionUser string

	HashAlgorithm HashAlgorithm

	APIURLTest    string
	APIURLProd    string
	ThreeDURLTest string
	ThreeDURLProd string
	QueryURLTest  string
	QueryURLProd  string

	Timeout    time.Duration
	RetryCount int

	Use3DSecure    bool
	Force3DSecure  bool
	AllowNonSecure bool

	AllowRefund         bool
	AllowCancel         bool
	EnableInstallments  bool
	MaxInstallmentCount int
	RefundTimeLimitDays int
}

// APIURL returns the API endpoint for the configured environment.
func (c Config) APIURL() string {
	if c.Environment == EnvProduction {
		return c.APIURLProd
	}
	return c.APIURLTest
}

// ThreeDURL returns the 3-D Secure gateway endpoint for the configured environment.
func (c Config) ThreeDURL() string {
	if c.Environment == EnvProduction {
		return c.ThreeDURLProd
	}
	return c.ThreeDURLTest
}

// QueryURL returns the status-inquiry endpoint for the configured
// environment, falling back to the API endpoint when the gateway has no
// dedicated query URL.
func (c Config) QueryURL() string {
	url := c.QueryURLTest
	if c.Environment == EnvProduction {
		url = c.QueryURLProd
	}
	if url == "" {
		return c.APIURL()
	}
	return url
}

// IsProduction reports whether the config targets the live environment.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Validate checks the gateway-independent invariants of the config.
func (c Config) Validate() error {
	switch c.Environment {
	case EnvTest, EnvProduction:
	default:
		return &ConfigError{Gateway: string(c.Type), Reason: fmt.Sprintf("invalid environment %q", c.Environment)}
	}
	switch c.HashAlgorithm {
	case HashSHA256, HashSHA512, "":
	default:
		return &ConfigError{Gateway: string(c.Type), Reason: fmt.Sprintf("invalid hash algorithm %q", c.HashAlgorithm)}
	}
	if c.MaxInstallmentCount < 1 || c.MaxInstallmentCount > 24 {
		return &ConfigError{Gateway: string(c.Type), Reason: "max installment count must be between 1 and 24"}
	}
	found := false
	for _, t := range Types() {
		if c.Type == t {
			found = true
			break
		}
	}
	if !found {
		return &ConfigError{Gateway: string(c.Type), Reason: "unsupported gateway type"}
	}
	return nil
}

// CardData carries card details for a single payment attempt. It is
// never persisted; only the masked number and brand survive the call.
type CardData struct {
	Number      string
	ExpireMonth string
	ExpireYear  string
	CVV         string
	HolderName  string
}

// PaymentRequest is the adapter-level view of a payment attempt.
type PaymentRequest struct {
	Reference        string
	Amount           float64
	Currency         string
	InstallmentCount int
	Email            string
	ClientIP         string
	Card             CardData
	ReturnURL        string
}

// RefundRequest identifies a prior payment to refund, partially or in full.
type RefundRequest struct {
	GatewayOrderID string
	Amount         float64
	Currency       string
	Email          string
	ClientIP       string
}

// CancelRequest identifies a prior payment to void before settlement.
type CancelRequest struct {
	GatewayOrderID string
	Currency       string
	Email          string
	ClientIP       string
}

// QueryRequest identifies a prior payment for status inquiry.
type QueryRequest struct {
	GatewayOrderID string
}

// Response is the normalized result of any adapter call. Every adapter
// maps its wire format into this shape; callers never see raw bank
// payloads.
type Response struct {
	Success       bool
	Code          string
	Message       string
	TransactionID string
	AuthCode      string
	RRN           string
	Stan          string
	OrderID       string
	MDStatus      string
	Raw           map[string]string
}

// Adapter is the contract every gateway implementation satisfies. One
// adapter instance is bound to a single Config via Init and is safe for
// concurrent use afterwards.
type Adapter interface {
	// Init binds the adapter to a merchant config and validates the
	// credential subset this gateway requires.
	Init(cfg Config) error

	// RequiredFields describes the credential fields this gateway needs,
	// for declarative config validation.
	RequiredFields() []ConfigField

	// PrepareRequest builds the outbound payload and the endpoint it is
	// destined for. The payload contains the card data and the
	// gateway-specific signature; it is handed either to the 3-D redirect
	// form or to SendNonSecure.
	PrepareRequest(req PaymentRequest) (map[string]string, string, error)

	// SendNonSecure posts the prepared payload synchronously. Network
	// failures come back as a synthesized failure Response, never as an
	// error crossing the adapter boundary.
	SendNonSecure(ctx context.Context, payload map[string]string) *Response

	// ParseResponse maps a raw gateway body into a normalized Response.
	// Malformed bodies yield success=false with code PARSING_ERROR.
	ParseResponse(raw []byte) *Response

	// Process3DReturn verifies an inbound 3-D Secure callback. The
	// expected hash is recomputed from the documented field subset plus
	// the shared secret and compared case-insensitively; a mismatch
	// forces failure regardless of the gateway's own status fields.
	Process3DReturn(fields map[string]string) *Response

	// Refund reverses a captured payment, partially or fully. Gateways
	// without refund support return a NOT_SUPPORTED response.
	Refund(ctx context.Context, req RefundRequest) *Response

	// Cancel voids a payment before end-of-day settlement.
	Cancel(ctx context.Context, req CancelRequest) *Response

	// QueryStatus asks the gateway for the current state of an order.
	QueryStatus(ctx context.Context, req QueryRequest) *Response
}

// Factory creates an uninitialized Adapter.
type Factory func() Adapter

// OrderID derives a gateway order id from the transaction reference and
// the current time, truncated to the gateway's limit (24 chars for
// PosNet). Each attempt gets a fresh id so retried payments never
// collide at the bank.
func OrderID(reference string, maxLen int) string {
	id := fmt.Sprintf("%s_%s", reference, time.Now().Format("20060102150405"))
	if maxLen > 0 && len(id) > maxLen {
		id = id[:maxLen]
	}
	return id
}

// AmountMinor formats an amount as integer minor units (kuruş), the
// convention for Garanti, PosNet, Kuveyt, Akbank, Tosla, PayFlex and
// Vakıf Katılım.
func AmountMinor(amount float64) string {
	return fmt.Sprintf("%d", int64(math.Round(amount*100)))
}

// AmountDecimal formats an amount as a two-decimal string, the
// convention for EST, PayFor, InterPos and Param.
func AmountDecimal(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

// CurrencyCode maps an ISO alpha currency to the numeric code the banks
// expect, defaulting to TRY.
func CurrencyCode(currency string) string {
	switch strings.ToUpper(currency) {
	case "USD":
		return "840"
	case "EUR":
		return "978"
	case "GBP":
		return "826"
	default:
		return "949"
	}
}

// Rnd returns the timestamp-based nonce the form-based gateways put in
// their hashed field set.
func Rnd() string {
	return time.Now().Format("20060102150405")
}
