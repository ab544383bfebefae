// Package kuveyt implements the Kuveyt Türk Sanal POS protocol. The
// request signature is an upper-case digest over merchant and customer
// identity, the minor-unit amount, the order id, both return URLs and
// the API password.
package kuveyt

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
		{Key: "clientId", Required: true, Description: "Customer number (CustomerId)"},
		{Key: "username", Required: true, Description: "API user"},
		{Key: "password", Required: true, Description: "API password, part of the request signature"},
	}
}

func (a *Adapter) algorithm() gateway.HashAlgorithm {
	if a.cfg.HashAlgorithm != "" {
		return a.cfg.HashAlgorithm
	}
	return gateway.HashSHA256
}

func (a *Adapter) PrepareRequest(req gateway.PaymentRequest) (map[string]string, string, error) {
	orderID := gateway.OrderID(req.Reference, 0)
	amount := gateway.AmountMinor(req.Amount)

	security := "1"
	if a.cfg.Use3DSecure || a.cfg.Force3DSecure {
		security = "3"
	}

	payload := map[string]string{
		"MerchantId":          a.cfg.MerchantID,
		"CustomerId":          a.cfg.ClientID,
		"UserName":            a.cfg.Username,
		"TransactionType":     "Sale",
		"InstallmentCount":    installmentField(req.InstallmentCount),
		"Amount":              amount,
		"DisplayAmount":       amount,
		"CurrencyCode":        gateway.CurrencyCode(req.Currency),
		"MerchantOrderId":     orderID,
		"TransactionSecurity": security,
		"OkUrl":               req.ReturnURL,
		"FailUrl":             req.ReturnURL,
		"CardNumber":          req.Card.Number,
		"ExpiryMonth":         req.Card.ExpireMonth,
		"ExpiryYear":          req.Card.ExpireYear,
		"CVV2":                req.Card.CVV,
	}

	payload["HashData"] = gateway.DigestUpper(a.algorithm(),
		a.cfg.MerchantID, a.cfg.ClientID, amount, orderID,
		req.ReturnURL, req.ReturnURL, a.cfg.Password)

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

type kuveytResponse struct {
	ResponseCode    string `xml:"ResponseCode"`
	ResponseMessage string `xml:"ResponseMessage"`
	MerchantOrderID string `xml:"MerchantOrderId"`
	OrderID         string `xml:"OrderId"`
	ProvisionNumber string `xml:"ProvisionNumber"`
	RRN             string `xml:"RRN"`
	Stan            string `xml:"Stan"`
}

func (a *Adapter) ParseResponse(raw []byte) *gateway.Response {
	var parsed kuveytResponse
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "unreadable gateway response")
	}
	if parsed.ResponseCode == "" {
		return gateway.FailureResponse(gateway.CodeParsingError, "gateway response carries no return code")
	}

	return &gateway.Response{
		Success:       parsed.ResponseCode == "00",
		Code:          parsed.ResponseCode,
		Message:       parsed.ResponseMessage,
		TransactionID: parsed.OrderID,
		AuthCode:      parsed.ProvisionNumber,
		RRN:           parsed.RRN,
		Stan:          parsed.Stan,
		OrderID:       parsed.MerchantOrderID,
		Raw: map[string]string{
			"responseCode":    parsed.ResponseCode,
			"responseMessage": parsed.ResponseMessage,
		},
	}
}

func (a *Adapter) Process3DReturn(fields map[string]string) *gateway.Response {
	resp := &gateway.Response{
		Success:       fields["ResponseCode"] == "00",
		Code:          fields["ResponseCode"],
		Message:       fields["ResponseMessage"],
		TransactionID: fields["OrderId"],
		AuthCode:      fields["ProvisionNumber"],
		RRN:           fields["RRN"],
		Stan:          fields["Stan"],
		OrderID:       fields["MerchantOrderId"],
		MDStatus:      fields["MDStatus"],
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
