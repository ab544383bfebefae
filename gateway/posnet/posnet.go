// Package posnet implements the Yapı Kredi PosNet virtual POS
// protocol for both the classic and the v1 endpoint generations. The
// wire format is identical between the two; only the URLs differ, so
// one adapter serves both types. PosNet caps order ids at 24
// characters.
package posnet

import (
	"context"
	"encoding/xml"
	"strconv"

	"github.com/tahsilat/sanalpos/gateway"
)

const maxOrderIDLen = 24

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
		{Key: "clientId", Required: true, Description: "PosNet number (posnetID)"},
		{Key: "merchantId", Required: true, Description: "Merchant number (mid)", MinLength: 10, MaxLength: 10},
	}
}

func (a *Adapter) PrepareRequest(req gateway.PaymentRequest) (map[string]string, string, error) {
	orderID := gateway.OrderID(req.Reference, maxOrderIDLen)

	payload := map[string]string{
		"posnetID":     a.cfg.ClientID,
		"mid":          a.cfg.MerchantID,
		"tranType":     "Sale",
		"amount":       gateway.AmountMinor(req.Amount),
		"currencyCode": gateway.CurrencyCode(req.Currency),
		"installment":  installmentField(req.InstallmentCount),
		"orderID":      orderID,
		"lang":         "tr",
		"url":          req.ReturnURL,
		"cardNumber":   req.Card.Number,
		"expDate":      req.Card.ExpireMonth + req.Card.ExpireYear,
		"cvc":          req.Card.CVV,
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

type posnetResponse struct {
	Approved   string `xml:"approved"`
	RespCode   string `xml:"respCode"`
	RespText   string `xml:"respText"`
	HostLogKey string `xml:"hostlogkey"`
	AuthCode   string `xml:"authCode"`
	OrderID    string `xml:"orderId"`
}

func (a *Adapter) ParseResponse(raw []byte) *gateway.Response {
	var parsed posnetResponse
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "unreadable gateway response")
	}
	if parsed.Approved == "" {
		return gateway.FailureResponse(gateway.CodeParsingError, "gateway response carries no approval flag")
	}

	return &gateway.Response{
		Success:       parsed.Approved == "1",
		Code:          parsed.RespCode,
		Message:       parsed.RespText,
		TransactionID: parsed.HostLogKey,
		AuthCode:      parsed.AuthCode,
		OrderID:       parsed.OrderID,
		Raw: map[string]string{
			"approved": parsed.Approved,
			"respCode": parsed.RespCode,
			"respText": parsed.RespText,
		},
	}
}

// Process3DReturn maps the fields the PosNet redirect form posts back.
// PosNet carries no merchant-verifiable hash on this callback; the
// approval flag decides.
func (a *Adapter) Process3DReturn(fields map[string]string) *gateway.Response {
	orderID := fields["orderID"]
	if orderID == "" {
		orderID = fields["xid"]
	}
	resp := &gateway.Response{
		Success:       fields["approved"] == "1",
		Code:          fields["respCode"],
		Message:       fields["respText"],
		TransactionID: fields["hostlogkey"],
		AuthCode:      fields["authCode"],
		OrderID:       orderID,
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
