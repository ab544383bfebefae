package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tahsilat/sanalpos/gateway"
	"github.com/tahsilat/sanalpos/infra/response"
	"github.com/tahsilat/sanalpos/store"
	"github.com/tahsilat/sanalpos/txn"
)

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	r := chi.NewRouter()
	Routes(r, Deps{
		Manager: txn.NewManager(s, gateway.DefaultRegistry),
		Store:   s,
	})
	return r
}

func TestHealthNeedsNoAuth(t *testing.T) {
	r := newTestRouter(t)

	for _, path := range []string{"/health", "/health/live"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestCallbackMountedOutsideAuth(t *testing.T) {
	t.Setenv("API_KEY", "test-api-key")
	r := newTestRouter(t)

	// No Authorization header. An auth-guarded route would answer 401;
	// the callback answers from its own validation instead.
	req := httptest.NewRequest("POST", "/v1/callback/12345", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Fatalf("callback route is behind auth: status = %d", w.Code)
	}
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown config status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIRoutesRequireAuth(t *testing.T) {
	t.Setenv("API_KEY", "test-api-key")
	r := newTestRouter(t)

	paths := []struct {
		method string
		path   string
	}{
		{"POST", "/v1/payments"},
		{"GET", "/v1/payments/some-ref"},
		{"GET", "/v1/installments"},
		{"POST", "/v1/cards/validate"},
		{"GET", "/v1/configs"},
	}
	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without key = %d, want %d", p.method, p.path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestAPIRoutesAcceptValidKey(t *testing.T) {
	t.Setenv("API_KEY", "test-api-key")
	r := newTestRouter(t)

	req := httptest.NewRequest("GET", "/v1/configs", nil)
	req.Header.Set("Authorization", "Bearer test-api-key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestUnknownRouteReturnsJSONNotFound(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest("GET", "/no/such/route", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body.Success || body.Message != "Not Found" {
		t.Errorf("body = %+v", body)
	}
}

func TestAdapterRegistration(t *testing.T) {
	want := gateway.Types()
	registered := make(map[gateway.Type]bool)
	for _, typ := range gateway.DefaultRegistry.RegisteredTypes() {
		registered[typ] = true
	}
	for _, typ := range want {
		if !registered[typ] {
			t.Errorf("gateway type %s has no registered adapter", typ)
		}
	}
}
