package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tahsilat/sanalpos/gateway"
	"github.com/tahsilat/sanalpos/installment"
	"github.com/tahsilat/sanalpos/txn"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testGatewayConfig(name string) gateway.Config {
	return gateway.Config{
		Name:                name,
		Type:                gateway.TypeGaranti,
		Environment:         gateway.EnvTest,
		TerminalID:          "30691297",
		MerchantID:          "7000679",
		ProvisionUser:       "PROVAUT",
		Password:            "123qweASD",
		StoreKey:            "12345678",
		MaxInstallmentCount: 12,
	}
}

func TestGatewayConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)

	id, err := s.SaveGatewayConfig(testGatewayConfig("garanti-main"))
	if err != nil {
		t.Fatalf("SaveGatewayConfig() error = %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero config id")
	}

	loaded, err := s.GetGatewayConfig(id)
	if err != nil {
		t.Fatalf("GetGatewayConfig() error = %v", err)
	}
	if loaded.Type != gateway.TypeGaranti || loaded.TerminalID != "30691297" {
		t.Errorf("loaded config mismatch: %+v", loaded)
	}
	if loaded.ID != id {
		t.Errorf("loaded.ID = %d, want %d", loaded.ID, id)
	}

	// Saving under the same name updates in place.
	updated := testGatewayConfig("garanti-main")
	updated.TerminalID = "99999999"
	id2, err := s.SaveGatewayConfig(updated)
	if err != nil {
		t.Fatalf("update SaveGatewayConfig() error = %v", err)
	}
	if id2 != id {
		t.Errorf("update created a new row: id %d, want %d", id2, id)
	}
	loaded, _ = s.GetGatewayConfig(id)
	if loaded.TerminalID != "99999999" {
		t.Errorf("TerminalID = %q after update", loaded.TerminalID)
	}
}

func TestSaveGatewayConfigRejectsInvalid(t *testing.T) {
	s := newTestStore(t)

	cfg := testGatewayConfig("bad")
	cfg.Environment = "staging"
	if _, err := s.SaveGatewayConfig(cfg); err == nil {
		t.Fatal("invalid environment must be rejected")
	}

	cfg = testGatewayConfig("bad2")
	cfg.MaxInstallmentCount = 30
	if _, err := s.SaveGatewayConfig(cfg); err == nil {
		t.Fatal("installment count above 24 must be rejected")
	}
}

func TestListGatewayConfigs(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"bank-b", "bank-a"} {
		if _, err := s.SaveGatewayConfig(testGatewayConfig(name)); err != nil {
			t.Fatalf("SaveGatewayConfig(%s) error = %v", name, err)
		}
	}

	configs, err := s.ListGatewayConfigs()
	if err != nil {
		t.Fatalf("ListGatewayConfigs() error = %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("got %d configs, want 2", len(configs))
	}
	if configs[0].Name != "bank-a" {
		t.Errorf("configs not ordered by name: %s first", configs[0].Name)
	}
}

func testTransaction(reference string) *txn.Transaction {
	now := time.Now().UTC().Truncate(time.Second)
	return &txn.Transaction{
		ID:                uuid.New().String(),
		Reference:         reference,
		ConfigID:          1,
		Gateway:           "garanti",
		Amount:            100.50,
		Currency:          "TRY",
		InstallmentCount:  3,
		InstallmentAmount: 34.17,
		TotalAmount:       102.51,
		CommissionAmount:  2.01,
		Secure3D:          true,
		MaskedCard:        "************1111",
		CardBrand:         "visa",
		State:             txn.StatePending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved := testTransaction("order-1")
	if err := s.SaveTransaction(ctx, saved); err != nil {
		t.Fatalf("SaveTransaction() error = %v", err)
	}

	loaded, err := s.GetTransaction(ctx, "order-1")
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if loaded.State != txn.StatePending || loaded.TotalAmount != 102.51 {
		t.Errorf("loaded transaction mismatch: %+v", loaded)
	}
	if !loaded.Secure3D {
		t.Error("Secure3D flag lost in round trip")
	}
	if loaded.PaymentDate != nil {
		t.Error("unset payment date should stay nil")
	}

	loaded.State = txn.StateCaptured
	loaded.AuthCode = "AUTH1"
	paid := time.Now().UTC().Truncate(time.Second)
	loaded.PaymentDate = &paid
	loaded.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	if err := s.UpdateTransaction(ctx, loaded); err != nil {
		t.Fatalf("UpdateTransaction() error = %v", err)
	}

	reloaded, _ := s.GetTransaction(ctx, "order-1")
	if reloaded.State != txn.StateCaptured || reloaded.AuthCode != "AUTH1" {
		t.Errorf("update not persisted: %+v", reloaded)
	}
	if reloaded.PaymentDate == nil {
		t.Error("payment date lost on update")
	}
}

func TestSaveTransactionRejectsDuplicateReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveTransaction(ctx, testTransaction("order-2")); err != nil {
		t.Fatalf("first SaveTransaction() error = %v", err)
	}
	if err := s.SaveTransaction(ctx, testTransaction("order-2")); err == nil {
		t.Fatal("duplicate reference must be rejected")
	}
}

func TestUpdateUnknownTransaction(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpdateTransaction(context.Background(), testTransaction("ghost")); err == nil {
		t.Fatal("updating a missing transaction must fail")
	}
}

func TestHistoryAppendOnlyOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	states := []struct {
		from, to txn.State
	}{
		{"", txn.StatePending},
		{txn.StatePending, txn.StateProcessing},
		{txn.StateProcessing, txn.StateAuthorized},
		{txn.StateAuthorized, txn.StateCaptured},
	}

	base := time.Now().UTC().Truncate(time.Second)
	for i, st := range states {
		entry := txn.HistoryEntry{
			ID:        uuid.New().String(),
			Reference: "order-3",
			FromState: st.from,
			ToState:   st.to,
			Actor:     "system",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendHistory(ctx, entry); err != nil {
			t.Fatalf("AppendHistory() error = %v", err)
		}
	}

	entries, err := s.ListHistory(ctx, "order-3")
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(entries) != len(states) {
		t.Fatalf("got %d history entries, want %d", len(entries), len(states))
	}
	for i, e := range entries {
		if e.ToState != states[i].to {
			t.Errorf("entry %d: ToState = %s, want %s", i, e.ToState, states[i].to)
		}
	}
}

func TestInstallmentOptions(t *testing.T) {
	s := newTestStore(t)

	opts := []installment.Option{
		{ConfigID: 1, Count: 6, CommissionRate: 4.0, MinAmount: 100, MaxAmount: 50000, Active: true},
		{ConfigID: 1, Count: 3, CommissionRate: 2.0, MinAmount: 100, MaxAmount: 50000, Active: true},
		{ConfigID: 2, Count: 3, CommissionRate: 1.5, MinAmount: 0.01, MaxAmount: 10000, Active: true},
	}
	for _, opt := range opts {
		if _, err := s.SaveInstallmentOption(opt); err != nil {
			t.Fatalf("SaveInstallmentOption(%+v) error = %v", opt, err)
		}
	}

	listed, err := s.ListInstallmentOptions(1)
	if err != nil {
		t.Fatalf("ListInstallmentOptions() error = %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("got %d options for config 1, want 2", len(listed))
	}
	if listed[0].Count != 3 || listed[1].Count != 6 {
		t.Error("options must be ordered by count")
	}

	// Upsert on (config, count).
	update := installment.Option{ConfigID: 1, Count: 3, CommissionRate: 2.5, MinAmount: 100, MaxAmount: 50000, Active: true}
	if _, err := s.SaveInstallmentOption(update); err != nil {
		t.Fatalf("upsert error = %v", err)
	}
	listed, _ = s.ListInstallmentOptions(1)
	if len(listed) != 2 || listed[0].CommissionRate != 2.5 {
		t.Errorf("upsert did not update in place: %+v", listed)
	}

	if _, err := s.SaveInstallmentOption(installment.Option{ConfigID: 1, Count: 30, MinAmount: 0, MaxAmount: 100}); err == nil {
		t.Fatal("invalid option must be rejected")
	}

	if err := s.DeleteInstallmentOption(listed[0].ID); err != nil {
		t.Fatalf("DeleteInstallmentOption() error = %v", err)
	}
	listed, _ = s.ListInstallmentOptions(1)
	if len(listed) != 1 {
		t.Errorf("got %d options after delete, want 1", len(listed))
	}
}
