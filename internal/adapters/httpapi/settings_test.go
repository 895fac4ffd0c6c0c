package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Guilhem-Bonnet/streamhub/internal/adapters/memstore"
	"github.com/Guilhem-Bonnet/streamhub/internal/adapters/sqlite"
	"github.com/Guilhem-Bonnet/streamhub/internal/app"
	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
)

func TestSettingsHandler_PutUpdatesFetchLimiter(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	svc := app.NewSettingsService(sqlite.NewKVRepository(db.SQL), domain.DefaultSettings())
	lim := app.NewDynamicLimiter(1)

	h := NewSettingsHandler(svc, func(updated domain.Settings) {
		lim.SetLimit(updated.MaxProviderFetches)
	})
	r := chi.NewRouter()
	h.Routes(r)

	body := []byte(`{"maxProviderFetches":2,"animeSamaEnabled":false}`)
	req := httptest.NewRequest(http.MethodPut, "/settings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: want %d, got %d", http.StatusOK, rr.Code)
	}
	if lim.Limit() != 2 {
		t.Fatalf("limiter limit: want %d, got %d", 2, lim.Limit())
	}

	got, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.MaxProviderFetches != 2 || got.AnimeSamaEnabled {
		t.Fatalf("settings not persisted: %+v", got)
	}
}

func TestSettingsHandler_RejectsUnknownFields(t *testing.T) {
	svc := app.NewSettingsService(memstore.New(), domain.DefaultSettings())
	r := chi.NewRouter()
	NewSettingsHandler(svc, nil).Routes(r)

	req := httptest.NewRequest(http.MethodPut, "/settings", bytes.NewReader([]byte(`{"maxWorkers":2}`)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: want 400, got %d", rr.Code)
	}
}

func TestSettingsHandler_PartialPutKeepsOtherFields(t *testing.T) {
	ctx := context.Background()
	svc := app.NewSettingsService(memstore.New(), domain.DefaultSettings())
	var applied []domain.Settings
	r := chi.NewRouter()
	NewSettingsHandler(svc, func(s domain.Settings) { applied = append(applied, s) }).Routes(r)

	put := func(body string) int {
		req := httptest.NewRequest(http.MethodPut, "/settings", bytes.NewReader([]byte(body)))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := put(`{"maxProviderFetches":4}`); code != http.StatusOK {
		t.Fatalf("status: want 200, got %d", code)
	}
	got, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.MaxProviderFetches != 4 || !got.AnimeSamaEnabled {
		t.Fatalf("partial put must keep animeSamaEnabled: %+v", got)
	}

	if code := put(`{"animeSamaEnabled":false}`); code != http.StatusOK {
		t.Fatalf("status: want 200, got %d", code)
	}
	got, _ = svc.Get(ctx)
	if got.MaxProviderFetches != 4 || got.AnimeSamaEnabled {
		t.Fatalf("partial put must keep maxProviderFetches: %+v", got)
	}
	if len(applied) != 2 || !applied[0].AnimeSamaEnabled {
		t.Fatalf("onPut must see merged settings: %+v", applied)
	}

	if code := put(`{"maxProviderFetches":"x"}`); code != http.StatusBadRequest {
		t.Fatalf("status: want 400, got %d", code)
	}
	got, _ = svc.Get(ctx)
	if got.MaxProviderFetches != 4 {
		t.Fatalf("rejected body must not change settings: %+v", got)
	}
}
