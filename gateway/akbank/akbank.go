// Package akbank implements the Akbank sanal POS JSON protocol.
package akbank

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
		{Key: "merchantId", Required: true, Description: "Merchant number assigned by the bank"},
		{Key: "terminalId", Required: true, Description: "Terminal number assigned by the bank"},
		{Key: "username", Required: true, Description: "API user"},
	}
}

func (a *Adapter) PrepareRequest(req gateway.PaymentRequest) (map[string]string, string, error) {
	orderID := gateway.OrderID(req.Reference, 0)

	payload := map[string]string{
		"merchantId":       a.cfg.MerchantID,
		"terminalId":       a.cfg.TerminalID,
		"userId":           a.cfg.Username,
		"transactionType":  "sale",
		"amount":           gateway.AmountMinor(req.Amount),
		"currency":         gateway.CurrencyCode(req.Currency),
		"installmentCount": installmentField(req.InstallmentCount),
		"orderId":          orderID,
		"successUrl":       req.ReturnURL,
		"failureUrl":       req.ReturnURL,
		"cardNumber":       req.Card.Number,
		"expireMonth":      req.Card.ExpireMonth,
		"expireYear":       req.Card.ExpireYear,
		"cvv":              req.Card.CVV,
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

type akbankResponse struct {
	ResponseCode    string `json:"responseCode"`
	ResponseMessage string `json:"responseMessage"`
	OrderID         string `json:"orderId"`
	AuthCode        string `json:"authCode"`
	RRN             string `json:"rrn"`
	TransactionID   string `json:"transactionId"`
}

func (a *Adapter) ParseResponse(raw []byte) *gateway.Response {
	var parsed akbankResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "unreadable gateway response")
	}
	if parsed.ResponseCode == "" {
		return gateway.FailureResponse(gateway.CodeParsingError, "gateway response carries no return code")
	}

	return &gateway.Response{
		Success:       parsed.ResponseCode == "00",
		Code:          parsed.ResponseCode,
		Message:       parsed.ResponseMessage,
		TransactionID: parsed.TransactionID,
		AuthCode:      parsed.AuthCode,
		RRN:           parsed.RRN,
		OrderID:       parsed.OrderID,
		Raw: map[string]string{
			"responseCode":    parsed.ResponseCode,
			"responseMessage": parsed.ResponseMessage,
		},
	}
}

func (a *Adapter) Process3DReturn(fields map[string]string) *gateway.Response {
	resp := &gateway.Response{
		Success:       fields["responseCode"] == "00",
		Code:          fields["responseCode"],
		Message:       fields["responseMessage"],
		TransactionID: fields["transactionId"],
		AuthCode:      fields["authCode"],
		OrderID:       fields["orderId"],
		MDStatus:      fields["mdStatus"],
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
