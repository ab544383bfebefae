package posnet

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tahsilat/sanalpos/gateway"
)

func testConfig() gateway.Config {
	return gateway.Config{
		Type:                gateway.TypePosnet,
		Environment:         gateway.EnvTest,
		ClientID:            "27426",
		MerchantID:          "6706598320",
		APIURLTest:          "https://setmpos.ykb.com/PosnetWebService/XML",
		MaxInstallmentCount: 12,
		Timeout:             2 * time.Second,
	}
}

func newAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := New().(*Adapter)
	if err := a.Init(testConfig()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return a
}

func TestInitValidatesMerchantNumberLength(t *testing.T) {
	cfg := testConfig()
	cfg.MerchantID = "123"
	if err := New().(*Adapter).Init(cfg); err == nil {
		t.Fatal("ten-digit merchant number must be enforced")
	}
}

func TestPrepareRequestTruncatesOrderID(t *testing.T) {
	a := newAdapter(t)

	payload, _, err := a.PrepareRequest(gateway.PaymentRequest{
		Reference:        "VERY-LONG-ORDER-REFERENCE-12345",
		Amount:           250,
		Currency:         "TRY",
		InstallmentCount: 2,
		ReturnURL:        "https://shop.example.com/payment/return",
		Card:             gateway.CardData{Number: "4506349116608409", ExpireMonth: "03", ExpireYear: "27", CVV: "000"},
	})
	if err != nil {
		t.Fatalf("PrepareRequest() error = %v", err)
	}

	if len(payload["orderID"]) != 24 {
		t.Errorf("orderID length = %d, want 24", len(payload["orderID"]))
	}
	if payload["amount"] != "25000" {
		t.Errorf("amount = %q, want minor units", payload["amount"])
	}
	if payload["expDate"] != "0327" {
		t.Errorf("expDate = %q, want MMYY", payload["expDate"])
	}
	if payload["tranType"] != "Sale" || payload["installment"] != "2" {
		t.Errorf("unexpected fields: %+v", payload)
	}
}

func TestParseResponse(t *testing.T) {
	a := newAdapter(t)

	approved := `<posnetResponse><approved>1</approved><respCode>00</respCode><hostlogkey>0000000002P0806031</hostlogkey><authCode>901477</authCode></posnetResponse>`
	resp := a.ParseResponse([]byte(approved))
	if !resp.Success || resp.TransactionID != "0000000002P0806031" {
		t.Fatalf("approved parse: %+v", resp)
	}

	declined := `<posnetResponse><approved>0</approved><respCode>0127</respCode><respText>ORDERID DAHA ONCE KULLANILMIS</respText></posnetResponse>`
	resp = a.ParseResponse([]byte(declined))
	if resp.Success || resp.Code != "0127" || !strings.Contains(resp.Message, "ORDERID") {
		t.Fatalf("declined parse: %+v", resp)
	}

	if resp := a.ParseResponse([]byte(`<posnetResponse></posnetResponse>`)); resp.Code != gateway.CodeParsingError {
		t.Fatalf("empty body must be a parsing error: %+v", resp)
	}
}

func TestProcess3DReturn(t *testing.T) {
	a := newAdapter(t)

	resp := a.Process3DReturn(map[string]string{
		"approved":   "1",
		"orderID":    "SO4001_2025010112",
		"hostlogkey": "0000000002P0806031",
		"authCode":   "901477",
	})
	if !resp.Success || resp.OrderID != "SO4001_2025010112" {
		t.Fatalf("approved callback: %+v", resp)
	}

	resp = a.Process3DReturn(map[string]string{"approved": "0", "respCode": "0148"})
	if resp.Success || resp.Code != "0148" {
		t.Fatalf("declined callback: %+v", resp)
	}
}

func TestUnsupportedOperations(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	for name, resp := range map[string]*gateway.Response{
		"refund": a.Refund(ctx, gateway.RefundRequest{GatewayOrderID: "x", Amount: 1}),
		"cancel": a.Cancel(ctx, gateway.CancelRequest{GatewayOrderID: "x"}),
		"query":  a.QueryStatus(ctx, gateway.QueryRequest{GatewayOrderID: "x"}),
	} {
		if resp.Success || resp.Code != gateway.CodeNotSupported {
			t.Errorf("%s: got %+v, want %s", name, resp, gateway.CodeNotSupported)
		}
	}
}
