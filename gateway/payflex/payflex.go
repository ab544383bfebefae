// Package payflex implements the Vakıfbank PayFlex virtual POS
// protocol in both its VPOS 724 and common-payment-page generations;
// the request layout is shared, only the endpoints differ.
package payflex

import (
	"context"
	"encoding/xml"
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
		{Key: "password", Required: true, Description: "Merchant password"},
		{Key: "terminalId", Required: true, Description: "Terminal number (TerminalNo)"},
	}
}

func (a *Adapter) PrepareRequest(req gateway.PaymentRequest) (map[string]string, string, error) {
	orderID := gateway.OrderID(req.Reference, 0)

	payload := map[string]string{
		"MerchantId":        a.cfg.MerchantID,
		"Password":          a.cfg.Password,
		"TerminalNo":        a.cfg.TerminalID,
		"TransactionType":   "Sale",
		"OrderId":           orderID,
		"CurrencyCode":      gateway.CurrencyCode(req.Currency),
		"TransactionAmount": gateway.AmountMinor(req.Amount),
		"InstallmentCount":  installmentField(req.InstallmentCount),
		"SuccessUrl":        req.ReturnURL,
		"FailUrl":           req.ReturnURL,
		"CardNumber":        req.Card.Number,
		"ExpirationMonth":   req.Card.ExpireMonth,
		"ExpirationYear":    req.Card.ExpireYear,
		"CVV2":              req.Card.CVV,
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

type payflexResponse struct {
	ResultCode    string `xml:"ResultCode"`
	ResultDetail  string `xml:"ResultDetail"`
	TransactionID string `xml:"TransactionId"`
	AuthCode      string `xml:"AuthCode"`
	RRN           string `xml:"Rrn"`
	OrderID       string `xml:"OrderId"`
}

func (a *Adapter) ParseResponse(raw []byte) *gateway.Response {
	var parsed payflexResponse
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "unreadable gateway response")
	}
	if parsed.ResultCode == "" {
		return gateway.FailureResponse(gateway.CodeParsingError, "gateway response carries no result code")
	}

	return &gateway.Response{
		Success:       parsed.ResultCode == "0000",
		Code:          parsed.ResultCode,
		Message:       parsed.ResultDetail,
		TransactionID: parsed.TransactionID,
		AuthCode:      parsed.AuthCode,
		RRN:           parsed.RRN,
		OrderID:       parsed.OrderID,
		Raw: map[string]string{
			"resultCode":   parsed.ResultCode,
			"resultDetail": parsed.ResultDetail,
		},
	}
}

func (a *Adapter) Process3DReturn(fields map[string]string) *gateway.Response {
	resp := &gateway.Response{
		Success:       fields["ResultCode"] == "0000",
		Code:          fields["ResultCode"],
		Message:       fields["ResultDetail"],
		TransactionID: fields["TransactionId"],
		AuthCode:      fields["AuthCode"],
		OrderID:       fields["OrderId"],
		MDStatus:      fields["Status"],
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
