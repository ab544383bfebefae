// Package payfor implements the QNB Finansbank PayFor virtual POS
// protocol. Payments, refunds and voids all go through the same form
// endpoint; the SecureType field selects between the 3-D redirect and
// the direct host-to-host call.
package payfor

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
		{Key: "merchantId", Required: true, Description: "Member workplace number (MbrId)"},
		{Key: "clientId", Required: true, Description: "Merchant number (MerchantId)"},
		{Key: "username", Required: true, Description: "API user (UserCode)"},
		{Key: "password", Required: true, Description: "API password (UserPass)"},
		{Key: "storeKey", Required: true, Description: "Store key used for request signing"},
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
	amount := gateway.AmountDecimal(req.Amount)
	installments := installmentField(req.InstallmentCount)
	rnd := gateway.Rnd()

	secureType := "NonSecure"
	if a.cfg.Use3DSecure || a.cfg.Force3DSecure {
		secureType = "3DModel"
	}

	payload := map[string]string{
		"MbrId":            a.cfg.MerchantID,
		"MerchantId":       a.cfg.ClientID,
		"UserCode":         a.cfg.Username,
		"UserPass":         a.cfg.Password,
		"SecureType":       secureType,
		"TxnType":          "Auth",
		"PurchAmount":      amount,
		"Currency":         gateway.CurrencyCode(req.Currency),
		"InstallmentCount": installments,
		"OrderId":          orderID,
		"OkUrl":            req.ReturnURL,
		"FailUrl":          req.ReturnURL,
		"CardNumber":       req.Card.Number,
		"ExpMonth":         req.Card.ExpireMonth,
		"ExpYear":          req.Card.ExpireYear,
		"Cvv2":             req.Card.CVV,
		"Rnd":              rnd,
	}

	payload["Hash"] = gateway.Digest(a.algorithm(),
		a.cfg.MerchantID, orderID, amount, req.ReturnURL, req.ReturnURL,
		"Auth", installments, rnd, a.cfg.StoreKey)

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

type payforResponse struct {
	OrderID        string `xml:"OrderId"`
	ProcReturnCode string `xml:"ProcReturnCode"`
	ErrMsg         string `xml:"ErrMsg"`
	TransID        string `xml:"TransId"`
	AuthCode       string `xml:"AuthCode"`
	HostRefNum     string `xml:"HostRefNum"`
}

func (a *Adapter) ParseResponse(raw []byte) *gateway.Response {
	var parsed payforResponse
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "unreadable gateway response")
	}
	if parsed.ProcReturnCode == "" {
		return gateway.FailureResponse(gateway.CodeParsingError, "gateway response carries no return code")
	}

	return &gateway.Response{
		Success:       parsed.ProcReturnCode == "00",
		Code:          parsed.ProcReturnCode,
		Message:       parsed.ErrMsg,
		TransactionID: parsed.TransID,
		AuthCode:      parsed.AuthCode,
		RRN:           parsed.HostRefNum,
		OrderID:       parsed.OrderID,
		Raw: map[string]string{
			"procReturnCode": parsed.ProcReturnCode,
			"errMsg":         parsed.ErrMsg,
		},
	}
}

func (a *Adapter) Process3DReturn(fields map[string]string) *gateway.Response {
	resp := &gateway.Response{
		Success:       fields["ProcReturnCode"] == "00",
		Code:          fields["ProcReturnCode"],
		Message:       fields["ErrMsg"],
		TransactionID: fields["TransId"],
		AuthCode:      fields["AuthCode"],
		OrderID:       fields["OrderId"],
		MDStatus:      fields["3DStatus"],
	}
	if !resp.Success && resp.Message == "" {
		resp.Message = "3-D secure authentication failed"
	}
	return resp
}

func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) *gateway.Response {
	return a.sendOperation(ctx, map[string]string{
		"TxnType":     "Refund",
		"OrgOrderId":  req.GatewayOrderID,
		"PurchAmount": gateway.AmountDecimal(req.Amount),
		"Currency":    gateway.CurrencyCode(req.Currency),
	})
}

func (a *Adapter) Cancel(ctx context.Context, req gateway.CancelRequest) *gateway.Response {
	return a.sendOperation(ctx, map[string]string{
		"TxnType":    "Void",
		"OrgOrderId": req.GatewayOrderID,
	})
}

func (a *Adapter) QueryStatus(ctx context.Context, req gateway.QueryRequest) *gateway.Response {
	return gateway.NotSupportedResponse(a.cfg.Type, "status inquiry")
}

// sendOperation posts a follow-up operation against an earlier order.
// Refund and void reuse the payment form with SecureType NonSecure.
func (a *Adapter) sendOperation(ctx context.Context, fields map[string]string) *gateway.Response {
	payload := map[string]string{
		"MbrId":      a.cfg.MerchantID,
		"MerchantId": a.cfg.ClientID,
		"UserCode":   a.cfg.Username,
		"UserPass":   a.cfg.Password,
		"SecureType": "NonSecure",
		"Lang":       "tr",
	}
	for k, v := range fields {
		payload[k] = v
	}

	body, err := a.client.PostForm(ctx, a.cfg.APIURL(), payload)
	if err != nil {
		return gateway.TransportFailure(err)
	}
	return a.ParseResponse(body)
}

func installmentField(count int) string {
	if count <= 1 {
		return "0"
	}
	return strconv.Itoa(count)
}
