// Package garanti implements the Garanti BBVA GVPS virtual POS
// protocol. GVPS signs with a two-stage SHA-256: a security hash over
// the provision user and the zero-padded terminal id, then the request
// hash over terminal, order and amount.
package garanti

import (
	"context"
	"encoding/xml"
	"strconv"

	"github.com/tahsilat/sanalpos/gateway"
)

const apiVersion = "512"

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
		{Key: "terminalId", Required: true, Description: "Terminal number assigned by the bank", MaxLength: 9},
		{Key: "merchantId", Required: true, Description: "Merchant number assigned by the bank"},
		{Key: "provisionUser", Required: true, Description: "Provisioning user (PROVAUT or PROVRFN)"},
		{Key: "username", Required: true, Description: "GVPS API user"},
		{Key: "storeKey", Required: true, Description: "3-D secure store key"},
	}
}

// securityData is the inner hash every GVPS request hash is built on.
func (a *Adapter) securityData() string {
	return gateway.DigestUpper(gateway.HashSHA256, a.cfg.ProvisionUser, zeroPad(a.cfg.TerminalID, 9))
}

func (a *Adapter) requestHash(orderID, amount string) string {
	return gateway.DigestUpper(gateway.HashSHA256, a.cfg.TerminalID, orderID, amount, a.securityData())
}

func (a *Adapter) mode() string {
	if a.cfg.IsProduction() {
		return "PROD"
	}
	return "TEST"
}

func (a *Adapter) PrepareRequest(req gateway.PaymentRequest) (map[string]string, string, error) {
	orderID := gateway.OrderID(req.Reference, 0)

	// The request hash takes the decimal amount while the txnamount
	// field carries minor units.
	amountStr := strconv.FormatFloat(req.Amount, 'f', -1, 64)

	securityLevel := "3D_PAY"
	if a.cfg.Use3DSecure {
		securityLevel = "3D"
	}

	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	payload := map[string]string{
		"secure3dsecuritylevel": securityLevel,
		"mode":                  a.mode(),
		"apiversion":            apiVersion,
		"terminalid":            a.cfg.TerminalID,
		"terminalmerchantid":    a.cfg.MerchantID,
		"terminaluserid":        a.cfg.ProvisionUser,
		"orderid":               orderID,
		"customeremailaddress":  req.Email,
		"customeripaddress":     clientIP,
		"txnamount":             gateway.AmountMinor(req.Amount),
		"txncurrencycode":       gateway.CurrencyCode(req.Currency),
		"txninstallmentcount":   installmentField(req.InstallmentCount),
		"successurl":            req.ReturnURL,
		"errorurl":              req.ReturnURL,
		"secure3dhash":          a.requestHash(orderID, amountStr),
		"cardnumber":            req.Card.Number,
		"cardexpiredatemonth":   req.Card.ExpireMonth,
		"cardexpiredateyear":    req.Card.ExpireYear,
		"cardcvv2":              req.Card.CVV,
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

type gvpsResponse struct {
	Order struct {
		OrderID string `xml:"OrderID"`
	} `xml:"Order"`
	Transaction struct {
		Response struct {
			Code       string `xml:"Code"`
			Message    string `xml:"Message"`
			ErrorMsg   string `xml:"ErrorMsg"`
			SysErrMsg  string `xml:"SysErrMsg"`
			ReasonCode string `xml:"ReasonCode"`
		} `xml:"Response"`
		RetrefNum string `xml:"RetrefNum"`
		AuthCode  string `xml:"AuthCode"`
	} `xml:"Transaction"`
}

func (a *Adapter) ParseResponse(raw []byte) *gateway.Response {
	var parsed gvpsResponse
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "unreadable gateway response")
	}

	code := parsed.Transaction.Response.Code
	message := parsed.Transaction.Response.Message
	if message == "" {
		message = parsed.Transaction.Response.ErrorMsg
	}

	resp := &gateway.Response{
		Success:       code == "00",
		Code:          code,
		Message:       message,
		TransactionID: parsed.Transaction.RetrefNum,
		AuthCode:      parsed.Transaction.AuthCode,
		RRN:           parsed.Transaction.RetrefNum,
		OrderID:       parsed.Order.OrderID,
		Raw: map[string]string{
			"code":       code,
			"message":    parsed.Transaction.Response.Message,
			"errorMsg":   parsed.Transaction.Response.ErrorMsg,
			"sysErrMsg":  parsed.Transaction.Response.SysErrMsg,
			"reasonCode": parsed.Transaction.Response.ReasonCode,
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

// successfulMDStatuses are the GVPS authentication outcomes the bank
// accepts for provisioning; 2 to 4 are half-secure variants.
var successfulMDStatuses = map[string]bool{"1": true, "2": true, "3": true, "4": true}

func (a *Adapter) Process3DReturn(fields map[string]string) *gateway.Response {
	resp := &gateway.Response{
		Success:       successfulMDStatuses[fields["mdStatus"]],
		Message:       fields["mdErrorMsg"],
		TransactionID: fields["transId"],
		AuthCode:      fields["authCode"],
		OrderID:       fields["orderId"],
		MDStatus:      fields["mdStatus"],
	}
	if resp.OrderID == "" {
		resp.OrderID = fields["oid"]
	}

	if resp.Success {
		expected := gateway.DigestUpper(gateway.HashSHA256,
			fields["clientid"], fields["oid"], fields["authCode"],
			fields["procReturnCode"], fields["mdStatus"], a.cfg.StoreKey)
		if !gateway.HashEqual(fields["HASH"], expected) {
			resp.Success = false
			resp.Code = gateway.CodeHashMismatch
			resp.Message = "3-D secure hash verification failed"
			return resp
		}
		resp.Code = fields["procReturnCode"]
		return resp
	}

	resp.Code = fields["procReturnCode"]
	if resp.Message == "" {
		resp.Message = "3-D secure authentication failed"
	}
	return resp
}

type gvpsTerminal struct {
	ProvUserID string `xml:"ProvUserID"`
	HashData   string `xml:"HashData"`
	UserID     string `xml:"UserID"`
	ID         string `xml:"ID"`
	MerchantID string `xml:"MerchantID"`
}

type gvpsCustomer struct {
	IPAddress    string `xml:"IPAddress"`
	EmailAddress string `xml:"EmailAddress"`
}

type gvpsOrder struct {
	OrderID string `xml:"OrderID"`
}

type gvpsTransaction struct {
	Type         string `xml:"Type"`
	Amount       string `xml:"Amount,omitempty"`
	CurrencyCode string `xml:"CurrencyCode,omitempty"`
}

type gvpsRequest struct {
	XMLName     xml.Name        `xml:"GVPSRequest"`
	Mode        string          `xml:"Mode"`
	Version     string          `xml:"Version"`
	Terminal    gvpsTerminal    `xml:"Terminal"`
	Customer    gvpsCustomer    `xml:"Customer"`
	Order       gvpsOrder       `xml:"Order"`
	Transaction gvpsTransaction `xml:"Transaction"`
}

func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) *gateway.Response {
	amountMinor := gateway.AmountMinor(req.Amount)
	return a.sendGVPS(ctx, a.cfg.APIURL(), req.GatewayOrderID, amountMinor, req.ClientIP, req.Email, gvpsTransaction{
		Type:         "refund",
		Amount:       amountMinor,
		CurrencyCode: gateway.CurrencyCode(req.Currency),
	})
}

func (a *Adapter) Cancel(ctx context.Context, req gateway.CancelRequest) *gateway.Response {
	return a.sendGVPS(ctx, a.cfg.APIURL(), req.GatewayOrderID, "", req.ClientIP, req.Email, gvpsTransaction{
		Type: "void",
	})
}

func (a *Adapter) QueryStatus(ctx context.Context, req gateway.QueryRequest) *gateway.Response {
	return a.sendGVPS(ctx, a.cfg.QueryURL(), req.GatewayOrderID, "", "", "", gvpsTransaction{
		Type: "orderinq",
	})
}

func (a *Adapter) sendGVPS(ctx context.Context, endpoint, orderID, hashAmount, clientIP, email string, txn gvpsTransaction) *gateway.Response {
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	doc := gvpsRequest{
		Mode:    a.mode(),
		Version: "0.01",
		Terminal: gvpsTerminal{
			ProvUserID: a.cfg.ProvisionUser,
			HashData:   a.requestHash(orderID, hashAmount),
			UserID:     a.cfg.Username,
			ID:         a.cfg.TerminalID,
			MerchantID: a.cfg.MerchantID,
		},
		Customer:    gvpsCustomer{IPAddress: clientIP, EmailAddress: email},
		Order:       gvpsOrder{OrderID: orderID},
		Transaction: txn,
	}

	body, err := xml.Marshal(doc)
	if err != nil {
		return gateway.FailureResponse(gateway.CodeParsingError, "failed to encode gateway request")
	}
	raw, err := a.client.PostXML(ctx, endpoint, append([]byte(xml.Header), body...))
	if err != nil {
		return gateway.TransportFailure(err)
	}
	return a.ParseResponse(raw)
}

func zeroPad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}

func installmentField(count int) string {
	if count <= 1 {
		return "0"
	}
	return strconv.Itoa(count)
}
