package tosla

import (
	"testing"
	"time"

	"github.com/tahsilat/sanalpos/gateway"
)

func newAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := New().(*Adapter)
	err := a.Init(gateway.Config{
		Type:                gateway.TypeTosla,
		Environment:         gateway.EnvTest,
		ClientID:            "POS_ENT_Test_001",
		StoreKey:            "POS_ENT_Test_001!*!*",
		APIURLTest:          "https://prepentegrasyon.tosla.com/api/Payment",
		MaxInstallmentCount: 12,
		Timeout:             2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return a
}

func TestPrepareRequest(t *testing.T) {
	a := newAdapter(t)

	payload, _, err := a.PrepareRequest(gateway.PaymentRequest{
		Reference:        "SOA001",
		Amount:           25.99,
		Currency:         "TRY",
		InstallmentCount: 1,
		ReturnURL:        "https://shop.example.com/payment/return",
		Card:             gateway.CardData{Number: "4159560047417732", ExpireMonth: "04", ExpireYear: "27", CVV: "123"},
	})
	if err != nil {
		t.Fatalf("PrepareRequest() error = %v", err)
	}
	if payload["amount"] != "2599" || payload["apiKey"] != "POS_ENT_Test_001" {
		t.Errorf("unexpected fields: %+v", payload)
	}
}

func TestParseResponse(t *testing.T) {
	a := newAdapter(t)

	resp := a.ParseResponse([]byte(`{"code":0,"message":"Başarılı","orderId":"SOA_1","transactionId":"2000000123","authCode":"040813"}`))
	if !resp.Success || resp.Code != "0" || resp.TransactionID != "2000000123" {
		t.Fatalf("approved parse: %+v", resp)
	}

	resp = a.ParseResponse([]byte(`{"code":998,"message":"Parametre Hatası"}`))
	if resp.Success || resp.Code != "998" {
		t.Fatalf("declined parse: %+v", resp)
	}

	if resp := a.ParseResponse([]byte(`{"message":"no code"}`)); resp.Code != gateway.CodeParsingError {
		t.Fatalf("missing code: %+v", resp)
	}
}

func TestProcess3DReturn(t *testing.T) {
	a := newAdapter(t)

	resp := a.Process3DReturn(map[string]string{"MdStatus": "1", "OrderId": "SOA002_20250101120000", "BankResponseCode": "00"})
	if !resp.Success || resp.OrderID != "SOA002_20250101120000" {
		t.Fatalf("callback: %+v", resp)
	}
	if resp := a.Process3DReturn(map[string]string{"MdStatus": "0"}); resp.Success {
		t.Fatal("failed authentication must not pass")
	}
}
