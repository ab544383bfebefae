// Package param implements the Param (TURKPos) virtual POS protocol.
// Param authenticates with client credentials and a GUID instead of a
// request hash, and reports results through a Sonuc code where any
// positive value means success.
package param

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
		{Key: "clientId", Required: true, Description: "Client code (CLIENT_CODE)"},
		{Key: "username", Required: true, Description: "Client username"},
		{Key: "password", Required: true, Description: "Client password"},
		{Key: "merchantId", Required: true, Description: "Merchant GUID"},
	}
}

func (a *Adapter) PrepareRequest(req gateway.PaymentRequest) (map[string]string, string, error) {
	orderID := gateway.OrderID(req.Reference, 0)

	payload := map[string]string{
		"CLIENT_CODE":       a.cfg.ClientID,
		"CLIENT_USERNAME":   a.cfg.Username,
		"CLIENT_PASSWORD":   a.cfg.Password,
		"GUID":              a.cfg.MerchantID,
		"ORDER_ID":          orderID,
		"ORDER_AMOUNT":      gateway.AmountDecimal(req.Amount),
		"INSTALLMENT_COUNT": installmentField(req.InstallmentCount),
		"CURRENCY":          gateway.CurrencyCode(req.Currency),
		"SUCCESS_URL":       req.ReturnURL,
		"ERROR_URL":         req.ReturnURL,
		"CARD_NO":           req.Card.Number,
		"EXP_MONTH":         req.Card.ExpireMonth,
		"EXP_YEAR":          req.Card.ExpireYear,
		"CVV":               req.Card.CVV,
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

type paramResponse struct {
	Sonuc    string `xml:"Sonuc"`
	SonucStr string `xml:"Sonuc_Str"`
	IslemID  string `xml:"Islem_ID"`
	DekontID string `xml:"Dekont_ID"`
	OrderID  string `xml:"Siparis_ID"`
}

func (a *Adapter) ParseResponse(raw []byte) *gateway.Response {
	var parsed paramResponse
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "unreadable gateway response")
	}
	if parsed.Sonuc == "" {
		return gateway.FailureResponse(gateway.CodeParsingError, "gateway response carries no result code")
	}

	sonuc, err := strconv.Atoi(parsed.Sonuc)
	if err != nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "gateway result code is not numeric")
	}

	return &gateway.Response{
		Success:       sonuc > 0,
		Code:          parsed.Sonuc,
		Message:       parsed.SonucStr,
		TransactionID: parsed.IslemID,
		AuthCode:      parsed.DekontID,
		OrderID:       parsed.OrderID,
		Raw: map[string]string{
			"sonuc":    parsed.Sonuc,
			"sonucStr": parsed.SonucStr,
		},
	}
}

func (a *Adapter) Process3DReturn(fields map[string]string) *gateway.Response {
	sonuc, _ := strconv.Atoi(fields["TURKPOS_RETVAL_Sonuc"])
	orderID := fields["TURKPOS_RETVAL_Siparis_ID"]
	if orderID == "" {
		orderID = fields["ORDER_ID"]
	}

	resp := &gateway.Response{
		Success:       sonuc > 0,
		Code:          fields["TURKPOS_RETVAL_Sonuc"],
		Message:       fields["TURKPOS_RETVAL_Sonuc_Str"],
		TransactionID: fields["TURKPOS_RETVAL_Islem_ID"],
		AuthCode:      fields["TURKPOS_RETVAL_Dekont_ID"],
		OrderID:       orderID,
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
