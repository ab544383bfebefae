// Package vakifkatilim implements the Vakıf Katılım sanal POS
// protocol. The platform shares its response contract with Kuveyt
// Türk's infrastructure; the expiry date is sent year-first.
package vakifkatilim

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
		{Key: "terminalId", Required: true, Description: "Terminal number assigned by the bank"},
		{Key: "username", Required: true, Description: "API user"},
		{Key: "password", Required: true, Description: "API password"},
	}
}

func (a *Adapter) PrepareRequest(req gateway.PaymentRequest) (map[string]string, string, error) {
	orderID := gateway.OrderID(req.Reference, 0)

	payload := map[string]string{
		"MerchantId":       a.cfg.MerchantID,
		"TerminalId":       a.cfg.TerminalID,
		"UserName":         a.cfg.Username,
		"UserPassword":     a.cfg.Password,
		"OrderId":          orderID,
		"Amount":           gateway.AmountMinor(req.Amount),
		"CurrencyCode":     gateway.CurrencyCode(req.Currency),
		"InstallmentCount": installmentField(req.InstallmentCount),
		"SuccessUrl":       req.ReturnURL,
		"FailUrl":          req.ReturnURL,
		"Pan":              req.Card.Number,
		"ExpiryDate":       req.Card.ExpireYear + req.Card.ExpireMonth,
		"Cvv2":             req.Card.CVV,
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

type vakifKatilimResponse struct {
	ResponseCode    string `xml:"ResponseCode"`
	ResponseMessage string `xml:"ResponseMessage"`
	MerchantOrderID string `xml:"MerchantOrderId"`
	OrderID         string `xml:"OrderId"`
	ProvisionNumber string `xml:"ProvisionNumber"`
	RRN             string `xml:"RRN"`
	Stan            string `xml:"Stan"`
}

func (a *Adapter) ParseResponse(raw []byte) *gateway.Response {
	var parsed vakifKatilimResponse
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "unreadable gateway response")
	}
	if parsed.ResponseCode == "" {
		return gateway.FailureResponse(gateway.CodeParsingError, "gateway response carries no return code")
	}

	orderID := parsed.MerchantOrderID
	if orderID == "" {
		orderID = parsed.OrderID
	}
	return &gateway.Response{
		Success:       parsed.ResponseCode == "00",
		Code:          parsed.ResponseCode,
		Message:       parsed.ResponseMessage,
		TransactionID: parsed.OrderID,
		AuthCode:      parsed.ProvisionNumber,
		RRN:           parsed.RRN,
		Stan:          parsed.Stan,
		OrderID:       orderID,
		Raw: map[string]string{
			"responseCode":    parsed.ResponseCode,
			"responseMessage": parsed.ResponseMessage,
		},
	}
}

func (a *Adapter) Process3DReturn(fields map[string]string) *gateway.Response {
	orderID := fields["MerchantOrderId"]
	if orderID == "" {
		orderID = fields["OrderId"]
	}
	resp := &gateway.Response{
		Success:  fields["ResponseCode"] == "00",
		Code:     fields["ResponseCode"],
		Message:  fields["ResponseMessage"],
		AuthCode: fields["ProvisionNumber"],
		OrderID:  orderID,
		MDStatus: fields["MDStatus"],
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
