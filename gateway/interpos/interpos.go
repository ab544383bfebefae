// Package interpos implements the Denizbank İnterPOS virtual POS
// protocol. The form layout mirrors PayFor with a ShopCode identity;
// responses come back as semicolon-separated key=value pairs rather
// than XML.
package interpos

import (
	"context"
	"strconv"
	"strings"

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
		{Key: "clientId", Required: true, Description: "Shop code assigned by the bank"},
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
		"ShopCode":         a.cfg.ClientID,
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
		"Rnd":              rnd,
		"CardNumber":       req.Card.Number,
		"ExpMonth":         req.Card.ExpireMonth,
		"ExpYear":          req.Card.ExpireYear,
		"Cvv2":             req.Card.CVV,
	}

	payload["Hash"] = gateway.Digest(a.algorithm(),
		a.cfg.ClientID, orderID, amount, req.ReturnURL, req.ReturnURL,
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

// ParseResponse decodes the bank's delimited reply, e.g.
// "ProcReturnCode=00;;AuthCode=S89633;;TransId=...".
func (a *Adapter) ParseResponse(raw []byte) *gateway.Response {
	fields := parseDelimited(string(raw))
	code, ok := fields["ProcReturnCode"]
	if !ok || code == "" {
		return gateway.FailureResponse(gateway.CodeParsingError, "gateway response carries no return code")
	}

	return &gateway.Response{
		Success:       code == "00",
		Code:          code,
		Message:       fields["ErrorMessage"],
		TransactionID: fields["TransId"],
		AuthCode:      fields["AuthCode"],
		RRN:           fields["HostRefNum"],
		OrderID:       fields["OrderId"],
		Raw:           fields,
	}
}

func parseDelimited(body string) map[string]string {
	fields := make(map[string]string)
	for _, pair := range strings.Split(body, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		if idx := strings.Index(pair, "="); idx > 0 {
			fields[pair[:idx]] = pair[idx+1:]
		}
	}
	return fields
}

func (a *Adapter) Process3DReturn(fields map[string]string) *gateway.Response {
	resp := &gateway.Response{
		Success:       fields["ProcReturnCode"] == "00" && fields["mdStatus"] == "1",
		Code:          fields["ProcReturnCode"],
		Message:       fields["ErrorMessage"],
		TransactionID: fields["TransId"],
		AuthCode:      fields["AuthCode"],
		OrderID:       fields["OrderId"],
		MDStatus:      fields["mdStatus"],
	}
	if !resp.Success && resp.Message == "" {
		resp.Message = "3-D secure authentication failed"
	}
	return resp
}

func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) *gateway.Response {
	return a.sendOperation(ctx, map[string]string{
		"TxnType":     "Refund",
		"orgOrderId":  req.GatewayOrderID,
		"PurchAmount": gateway.AmountDecimal(req.Amount),
		"Currency":    gateway.CurrencyCode(req.Currency),
	})
}

func (a *Adapter) Cancel(ctx context.Context, req gateway.CancelRequest) *gateway.Response {
	return a.sendOperation(ctx, map[string]string{
		"TxnType":    "Void",
		"orgOrderId": req.GatewayOrderID,
	})
}

func (a *Adapter) QueryStatus(ctx context.Context, req gateway.QueryRequest) *gateway.Response {
	return gateway.NotSupportedResponse(a.cfg.Type, "status inquiry")
}

func (a *Adapter) sendOperation(ctx context.Context, fields map[string]string) *gateway.Response {
	payload := map[string]string{
		"ShopCode":   a.cfg.ClientID,
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
