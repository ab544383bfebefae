// Package tosla implements the Tosla (AKÖde) virtual POS protocol, a
// JSON API keyed by an api key and secret.
package tosla

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/tahsilat/sanalpos/gateway"
)

type Adapter struct {
	cfg    gateway.Config
	client *gateway.Client
}

func New() gateway.Adapter {
	return &Adapter{}
}

func (a *Adapter) Init(cfg gateway.Config) error {
	if err := gateway.ValidateFields(cfg.Type, cfg, a.RequiredFields()); err != nil {
		return err
	}
	a.cfg = cfg
	a.client = gateway.NewClient(cfg)
	return nil
}

func (a *Adapter) RequiredFields() []gateway.ConfigField {
	return []gateway.ConfigField{
		{Key: "clientId", Required: true, Description: "API key"},
		{Key: "storeKey", Required: true, Description: "API secret key"},
	}
}

func (a *Adapter) PrepareRequest(req gateway.PaymentRequest) (map[string]string, string, error) {
	orderID := gateway.OrderID(req.Reference, 0)

	payload := map[string]string{
		"apiKey":      a.cfg.ClientID,
		"secretKey":   a.cfg.StoreKey,
		"orderId":     orderID,
		"amount":      gateway.AmountMinor(req.Amount),
		"currency":    gateway.CurrencyCode(req.Currency),
		"installment": installmentField(req.InstallmentCount),
		"successUrl":  req.ReturnURL,
		"failUrl":     req.ReturnURL,
		"cardNumber":  req.Card.Number,
		"expiryMonth": req.Card.ExpireMonth,
		"expiryYear":  req.Card.ExpireYear,
		"cvv":         req.Card.CVV,
	}

	endpoint := a.cfg.APIURL()
	if a.cfg.Use3DSecure || a.cfg.Force3DSecure {
		endpoint = a.cfg.ThreeDURL()
	}
	return payload, endpoint, nil
}

func (a *Adapter) SendNonSecure(ctx context.Context, payload map[string]string) *gateway.Response {
	body, err := a.client.PostForm(ctx, a.cfg.APIURL(), payload)
	if err != nil {
		return gateway.TransportFailure(err)
	}
	return a.ParseResponse(body)
}

type toslaResponse struct {
	Code          *int   `json:"code"`
	Message       string `json:"message"`
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
	AuthCode      string `json:"authCode"`
	HostRefNum    string `json:"hostReferenceNumber"`
}

func (a *Adapter) ParseResponse(raw []byte) *gateway.Response {
	var parsed toslaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "unreadable gateway response")
	}
	if parsed.Code == nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "gateway response carries no result code")
	}

	return &gateway.Response{
		Success:       *parsed.Code == 0,
		Code:          strconv.Itoa(*parsed.Code),
		Message:       parsed.Message,
		TransactionID: parsed.TransactionID,
		AuthCode:      parsed.AuthCode,
		RRN:           parsed.HostRefNum,
		OrderID:       parsed.OrderID,
		Raw: map[string]string{
			"code":    strconv.Itoa(*parsed.Code),
			"message": parsed.Message,
		},
	}
}

func (a *Adapter) Process3DReturn(fields map[string]string) *gateway.Response {
	resp := &gateway.Response{
		Success:  fields["MdStatus"] == "1",
		Code:     fields["BankResponseCode"],
		Message:  fields["BankResponseMessage"],
		OrderID:  fields["OrderId"],
		MDStatus: fields["MdStatus"],
	}
	if !resp.Success && resp.Message == "" {
		resp.Message = "3-D secure authentication failed"
	}
	return resp
}

func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) *gateway.Response {
	return gateway.NotSupportedResponse(a.cfg.Type, "refund")
}

func (a *Adapter) Cancel(ctx context.Context, req gateway.CancelRequest) *gateway.Response {
	return gateway.NotSupportedResponse(a.cfg.Type, "cancel")
}

func (a *Adapter) QueryStatus(ctx context.Context, req gateway.QueryRequest) *gateway.Response {
	return gateway.NotSupportedResponse(a.cfg.Type, "status inquiry")
}

func installmentField(count int) string {
	if count <= 1 {
		return "0"
	}
	return strconv.Itoa(count)
}
