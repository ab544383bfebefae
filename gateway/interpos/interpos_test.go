package interpos

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/tahsilat/sanalpos/gateway"
)

func testConfig(apiURL string) gateway.Config {
	return gateway.Config{
		Type:                gateway.TypeInterPos,
		Environment:         gateway.EnvTest,
		ClientID:            "3123",
		Username:            "InterTestApi",
		Password:            "3",
		StoreKey:            "gDg1N",
		APIURLTest:          apiURL,
		ThreeDURLTest:       "https://test.inter-vpos.com.tr/mpi/Default.aspx",
		MaxInstallmentCount: 12,
		Timeout:             2 * time.Second,
	}
}

func newAdapter(t *testing.T, cfg gateway.Config) *Adapter {
	t.Helper()
	a := New().(*Adapter)
	if err := a.Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return a
}

func TestPrepareRequestHash(t *testing.T) {
	a := newAdapter(t, testConfig(""))

	payload, _, err := a.PrepareRequest(gateway.PaymentRequest{
		Reference:        "SO6001",
		Amount:           42,
		Currency:         "TRY",
		InstallmentCount: 2,
		ReturnURL:        "https://shop.example.com/payment/return",
		Card:             gateway.CardData{Number: "4090700090840057", ExpireMonth: "12", ExpireYear: "26", CVV: "592"},
	})
	if err != nil {
		t.Fatalf("PrepareRequest() error = %v", err)
	}

	raw := payload["ShopCode"] + payload["OrderId"] + payload["PurchAmount"] +
		payload["OkUrl"] + payload["FailUrl"] + payload["TxnType"] +
		payload["InstallmentCount"] + payload["Rnd"] + a.cfg.StoreKey
	sum := sha256.Sum256([]byte(raw))
	if payload["Hash"] != hex.EncodeToString(sum[:]) {
		t.Errorf("Hash = %q, want sha256 over the documented field order", payload["Hash"])
	}
	if payload["ShopCode"] != "3123" || payload["PurchAmount"] != "42.00" {
		t.Errorf("unexpected fields: %+v", payload)
	}
}

func TestParseDelimitedResponse(t *testing.T) {
	a := newAdapter(t, testConfig(""))

	approved := "ProcReturnCode=00;;AuthCode=S89633;;TransId=09233IzzD11836;;HostRefNum=309200609475;;OrderId=SO6_1"
	resp := a.ParseResponse([]byte(approved))
	if !resp.Success || resp.AuthCode != "S89633" || resp.RRN != "309200609475" {
		t.Fatalf("approved parse: %+v", resp)
	}

	declined := "ProcReturnCode=99;;ErrorMessage=Genel Hata"
	resp = a.ParseResponse([]byte(declined))
	if resp.Success || resp.Code != "99" || resp.Message != "Genel Hata" {
		t.Fatalf("declined parse: %+v", resp)
	}

	if resp := a.ParseResponse([]byte("<html>maintenance</html>")); resp.Code != gateway.CodeParsingError {
		t.Fatalf("malformed parse: %+v", resp)
	}
}

func TestProcess3DReturn(t *testing.T) {
	a := newAdapter(t, testConfig(""))

	resp := a.Process3DReturn(map[string]string{
		"ProcReturnCode": "00",
		"mdStatus":       "1",
		"OrderId":        "SO6002_20250101120000",
		"AuthCode":       "S89633",
	})
	if !resp.Success {
		t.Fatalf("valid callback rejected: %+v", resp)
	}

	resp = a.Process3DReturn(map[string]string{
		"ProcReturnCode": "00",
		"mdStatus":       "0",
		"OrderId":        "SO6002_20250101120000",
	})
	if resp.Success {
		t.Fatal("failed authentication must not pass on ProcReturnCode alone")
	}
}

func TestRefundAndVoid(t *testing.T) {
	var forms []url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		forms = append(forms, r.PostForm)
		w.Write([]byte("ProcReturnCode=00;;TransId=RefTx"))
	}))
	defer server.Close()

	a := newAdapter(t, testConfig(server.URL))
	if resp := a.Refund(context.Background(), gateway.RefundRequest{GatewayOrderID: "SO6003_20250101120000", Amount: 12.5, Currency: "TRY"}); !resp.Success {
		t.Fatalf("refund failed: %+v", resp)
	}
	if resp := a.Cancel(context.Background(), gateway.CancelRequest{GatewayOrderID: "SO6003_20250101120000"}); !resp.Success {
		t.Fatalf("void failed: %+v", resp)
	}

	if forms[0].Get("TxnType") != "Refund" || forms[0].Get("PurchAmount") != "12.50" {
		t.Errorf("refund form: %v", forms[0])
	}
	if forms[1].Get("TxnType") != "Void" || forms[1].Get("orgOrderId") != "SO6003_20250101120000" {
		t.Errorf("void form: %v", forms[1])
	}
}
