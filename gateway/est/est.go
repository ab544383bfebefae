// Package est implements the Asseco EST virtual POS protocol used by
// İşbank, Ziraat, Halkbank, TEB and Şekerbank. The classic variant
// signs with SHA-256, the v3 variant with SHA-512; everything else on
// the wire is identical, so one adapter serves both types.
package est

import (
	"context"
	"encoding/xml"
	"strconv"

	"github.com/tahsilat/sanalpos/gateway"
)

// Adapter speaks the EST form protocol for payments and the CC5Request
// XML API for refund, void and order inquiry.
type Adapter struct {
	cfg              gateway.Config
	client           *gateway.Client
	defaultAlgorithm gateway.HashAlgorithm
}

// New creates an adapter for the classic EST protocol.
func New() gateway.Adapter {
	return &Adapter{defaultAlgorithm: gateway.HashSHA256}
}

// NewV3 creates an adapter for the EST v3 protocol, which signs with
// SHA-512.
func NewV3() gateway.Adapter {
	return &Adapter{defaultAlgorithm: gateway.HashSHA512}
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
		{Key: "clientId", Required: true, Description: "Merchant number (ClientId) assigned by the bank"},
		{Key: "storeKey", Required: true, Description: "3-D secure store key used for request signing"},
		{Key: "username", Required: true, Description: "API user for the CC5 refund/void/inquiry interface"},
		{Key: "password", Required: true, Description: "API password for the CC5 interface"},
	}
}

func (a *Adapter) algorithm() gateway.HashAlgorithm {
	if a.cfg.HashAlgorithm != "" {
		return a.cfg.HashAlgorithm
	}
	return a.defaultAlgorithm
}

func (a *Adapter) PrepareRequest(req gateway.PaymentRequest) (map[string]string, string, error) {
	orderID := gateway.OrderID(req.Reference, 0)
	amount := gateway.AmountDecimal(req.Amount)
	taksit := installmentField(req.InstallmentCount)
	rnd := gateway.Rnd()

	payload := map[string]string{
		"clientid":    a.cfg.ClientID,
		"amount":      amount,
		"oid":         orderID,
		"okUrl":       req.ReturnURL,
		"failUrl":     req.ReturnURL,
		"islemtipi":   "Auth",
		"taksit":      taksit,
		"currency":    gateway.CurrencyCode(req.Currency),
		"rnd":         rnd,
		"pan":         req.Card.Number,
		"Eavms_Emonth": req.Card.ExpireMonth,
		"Eavms_Eyear":  req.Card.ExpireYear,
		"cv2":          req.Card.CVV,
	}

	// The signed field order is the bank's contract.
	payload["hash"] = gateway.Digest(a.algorithm(),
		a.cfg.ClientID, orderID, amount, req.ReturnURL, req.ReturnURL,
		"Auth", taksit, rnd, a.cfg.StoreKey)

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

// cc5Response covers payment, refund, void and inquiry replies; the
// bank reuses the same element set for all of them.
type cc5Response struct {
	OrderID        string `xml:"OrderId"`
	Response       string `xml:"Response"`
	ProcReturnCode string `xml:"ProcReturnCode"`
	ErrMsg         string `xml:"ErrMsg"`
	TransID        string `xml:"TransId"`
	AuthCode       string `xml:"AuthCode"`
	HostRefNum     string `xml:"HostRefNum"`
}

func (a *Adapter) ParseResponse(raw []byte) *gateway.Response {
	var parsed cc5Response
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "unreadable gateway response")
	}

	resp := &gateway.Response{
		Success:       parsed.ProcReturnCode == "00",
		Code:          parsed.ProcReturnCode,
		Message:       parsed.ErrMsg,
		TransactionID: parsed.TransID,
		AuthCode:      parsed.AuthCode,
		RRN:           parsed.HostRefNum,
		OrderID:       parsed.OrderID,
		Raw: map[string]string{
			"procReturnCode": parsed.ProcReturnCode,
			"response":       parsed.Response,
			"errMsg":         parsed.ErrMsg,
		},
	}
	if resp.Code == "" {
		resp.Success = false
		resp.Code = gateway.CodeParsingError
		if resp.Message == "" {
			resp.Message = "gateway response carries no return code"
		}
	}
	return resp
}

func (a *Adapter) Process3DReturn(fields map[string]string) *gateway.Response {
	resp := &gateway.Response{
		Success:       fields["mdStatus"] == "1",
		Message:       fields["mdErrorMsg"],
		TransactionID: fields["transId"],
		AuthCode:      fields["AuthCode"],
		OrderID:       fields["oid"],
		MDStatus:      fields["mdStatus"],
	}

	if resp.Success {
		expected := gateway.Digest(a.algorithm(), fields["HASHPARAMSVAL"], a.cfg.StoreKey)
		if !gateway.HashEqual(fields["HASH"], expected) {
			resp.Success = false
			resp.Code = gateway.CodeHashMismatch
			resp.Message = "3-D secure hash verification failed"
			return resp
		}
		resp.Code = fields["ProcReturnCode"]
		return resp
	}

	resp.Code = fields["ProcReturnCode"]
	if resp.Message == "" {
		resp.Message = "3-D secure authentication failed"
	}
	return resp
}

func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) *gateway.Response {
	return a.sendCC5(ctx, a.cfg.APIURL(), cc5Request{
		Name:     a.cfg.Username,
		Password: a.cfg.Password,
		ClientID: a.cfg.ClientID,
		Type:     "Credit",
		OrderID:  req.GatewayOrderID,
		Total:    gateway.AmountDecimal(req.Amount),
		Currency: gateway.CurrencyCode(req.Currency),
	})
}

func (a *Adapter) Cancel(ctx context.Context, req gateway.CancelRequest) *gateway.Response {
	return a.sendCC5(ctx, a.cfg.APIURL(), cc5Request{
		Name:     a.cfg.Username,
		Password: a.cfg.Password,
		ClientID: a.cfg.ClientID,
		Type:     "Void",
		OrderID:  req.GatewayOrderID,
	})
}

func (a *Adapter) QueryStatus(ctx context.Context, req gateway.QueryRequest) *gateway.Response {
	return a.sendCC5(ctx, a.cfg.QueryURL(), cc5Request{
		Name:     a.cfg.Username,
		Password: a.cfg.Password,
		ClientID: a.cfg.ClientID,
		Type:     "OrderInq",
		OrderID:  req.GatewayOrderID,
	})
}

type cc5Request struct {
	XMLName  xml.Name `xml:"CC5Request"`
	Name     string   `xml:"Name"`
	Password string   `xml:"Password"`
	ClientID string   `xml:"ClientId"`
	Type     string   `xml:"Type"`
	OrderID  string   `xml:"OrderId"`
	Total    string   `xml:"Total,omitempty"`
	Currency string   `xml:"Currency,omitempty"`
}

func (a *Adapter) sendCC5(ctx context.Context, endpoint string, req cc5Request) *gateway.Response {
	body, err := xml.Marshal(req)
	if err != nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "failed to encode gateway request")
	}
	// The CC5 interface expects an ISO-8859-9 declaration; the fields we
	// send are plain ASCII, so no transcoding is needed.
	doc := []byte(`<?xml version="1.0" encoding="ISO-8859-9"?>` + string(body))

	raw, err := a.client.PostXML(ctx, endpoint, doc)
	if err != nil {
		return gateway.TransportFailure(err)
	}
	return a.ParseResponse(raw)
}

func installmentField(count int) string {
	if count <= 1 {
		return "0"
	}
	return strconv.Itoa(count)
}
