package cache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newCachedEcho(store Store, calls *int) *echo.Echo {
	e := echo.New()
	e.Use(Middleware(store, DefaultConfig(), zerolog.New(io.Discard)))
	e.GET("/api/v1/doctors", func(c echo.Context) error {
		*calls++
		return c.JSON(http.StatusOK, map[string]any{"data": []string{"dr-house"}, "calls": *calls})
	})
	e.PUT("/api/v1/doctors/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/api/v1/doctors/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "doctor not found")
	})
	e.DELETE("/api/v1/doctors/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/api/v1/schedules", func(c echo.Context) error {
		*calls++
		return c.JSON(http.StatusOK, map[string]any{"data": []string{"mon-09"}})
	})
	e.POST("/api/v1/schedules", func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	})
	e.GET("/api/v1/appointments", func(c echo.Context) error {
		*calls++
		return c.JSON(http.StatusOK, []string{})
	})
	return e
}

func do(e *echo.Echo, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_MissThenHit(t *testing.T) {
	calls := 0
	e := newCachedEcho(NewMemoryStore(), &calls)

	first := do(e, http.MethodGet, "/api/v1/doctors?specialty=cardio", nil)
	if first.Code != http.StatusOK || first.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first: %d %q", first.Code, first.Header().Get("X-Cache"))
	}

	second := do(e, http.MethodGet, "/api/v1/doctors?specialty=cardio", nil)
	if second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second: X-Cache = %q", second.Header().Get("X-Cache"))
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("cached body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if !strings.HasPrefix(second.Header().Get(echo.HeaderContentType), "application/json") {
		t.Errorf("content type not restored: %q", second.Header().Get(echo.HeaderContentType))
	}
	if second.Header().Get("Cache-Control") != "public, max-age=30" {
		t.Errorf("Cache-Control = %q", second.Header().Get("Cache-Control"))
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestMiddleware_QueryIsPartOfKey(t *testing.T) {
	calls := 0
	e := newCachedEcho(NewMemoryStore(), &calls)

	do(e, http.MethodGet, "/api/v1/doctors?limit=10", nil)
	do(e, http.MethodGet, "/api/v1/doctors?limit=20", nil)
	if calls != 2 {
		t.Errorf("handler called %d times, want 2", calls)
	}
}

func TestMiddleware_WriteInvalidatesScope(t *testing.T) {
	calls := 0
	store := NewMemoryStore()
	e := newCachedEcho(store, &calls)

	do(e, http.MethodGet, "/api/v1/doctors", nil)
	if store.Len() != 1 {
		t.Fatalf("expected one cached entry, got %d", store.Len())
	}

	do(e, http.MethodPut, "/api/v1/doctors/123", nil)
	if store.Len() != 0 {
		t.Fatalf("expected scope invalidated, %d entries remain", store.Len())
	}

	rec := do(e, http.MethodGet, "/api/v1/doctors", nil)
	if rec.Header().Get("X-Cache") != "MISS" || calls != 2 {
		t.Errorf("expected fresh miss after write, got %q calls=%d", rec.Header().Get("X-Cache"), calls)
	}
}

func TestMiddleware_DoctorWriteClearsSchedules(t *testing.T) {
	calls := 0
	store := NewMemoryStore()
	e := newCachedEcho(store, &calls)

	do(e, http.MethodGet, "/api/v1/doctors", nil)
	do(e, http.MethodGet, "/api/v1/schedules", nil)
	if store.Len() != 2 {
		t.Fatalf("expected two cached entries, got %d", store.Len())
	}

	do(e, http.MethodDelete, "/api/v1/doctors/123", nil)
	if store.Len() != 0 {
		t.Fatalf("expected doctor and schedule scopes invalidated, %d entries remain", store.Len())
	}
	if rec := do(e, http.MethodGet, "/api/v1/schedules", nil); rec.Header().Get("X-Cache") != "MISS" {
		t.Errorf("expected schedule miss after doctor delete, got %q", rec.Header().Get("X-Cache"))
	}
}

func TestMiddleware_ScheduleWriteKeepsDoctors(t *testing.T) {
	calls := 0
	store := NewMemoryStore()
	e := newCachedEcho(store, &calls)

	do(e, http.MethodGet, "/api/v1/doctors", nil)
	do(e, http.MethodGet, "/api/v1/schedules", nil)
	do(e, http.MethodPost, "/api/v1/schedules", nil)
	if store.Len() != 1 {
		t.Fatalf("expected only the doctor listing to remain, got %d", store.Len())
	}
	if rec := do(e, http.MethodGet, "/api/v1/doctors", nil); rec.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected doctor hit, got %q", rec.Header().Get("X-Cache"))
	}
}

func TestMiddleware_ErrorsNotCached(t *testing.T) {
	calls := 0
	store := NewMemoryStore()
	e := newCachedEcho(store, &calls)

	rec := do(e, http.MethodGet, "/api/v1/doctors/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.Len() != 0 {
		t.Errorf("error response was cached")
	}
}

func TestMiddleware_OtherPathsUntouched(t *testing.T) {
	calls := 0
	store := NewMemoryStore()
	e := newCachedEcho(store, &calls)

	do(e, http.MethodGet, "/api/v1/appointments", nil)
	rec := do(e, http.MethodGet, "/api/v1/appointments", nil)
	if rec.Header().Get("X-Cache") != "" || calls != 2 || store.Len() != 0 {
		t.Errorf("appointments must not be cached: X-Cache=%q calls=%d", rec.Header().Get("X-Cache"), calls)
	}
}

func TestMiddleware_NotModified(t *testing.T) {
	calls := 0
	e := newCachedEcho(NewMemoryStore(), &calls)

	first := do(e, http.MethodGet, "/api/v1/doctors", nil)
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag")
	}

	rec := do(e, http.MethodGet, "/api/v1/doctors", http.Header{"If-None-Match": []string{etag}})
	if rec.Code != http.StatusNotModified {
		t.Errorf("status = %d, want 304", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("304 must have no body")
	}
}

func TestMiddleware_NilStoreDisables(t *testing.T) {
	calls := 0
	e := newCachedEcho(nil, &calls)
	do(e, http.MethodGet, "/api/v1/doctors", nil)
	rec := do(e, http.MethodGet, "/api/v1/doctors", nil)
	if calls != 2 || rec.Header().Get("X-Cache") != "" {
		t.Errorf("expected caching disabled, calls=%d", calls)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), time.Minute)
	if v, ok, _ := s.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("get before expiry: %q %v", v, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if s.Len() != 0 {
		t.Error("expired entry should be evicted on read")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": []string{"application/json"}}
	bs, err := encodePayload(200, hdr, []byte(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	status, gotHdr, body, ok := decodePayload(bs)
	if !ok || status != 200 || gotHdr.Get("Content-Type") != "application/json" || string(body) != `{"a":1}` {
		t.Fatalf("decode: %v %d %v %q", ok, status, gotHdr, body)
	}
	if _, _, _, ok := decodePayload([]byte{0, 0}); ok {
		t.Error("short payload should not decode")
	}
}

func TestEtagMatch(t *testing.T) {
	etag := `W/"abc"`
	cases := map[string]bool{
		"":             false,
		"*":            true,
		`W/"abc"`:      true,
		`"abc"`:        true,
		`"x", W/"abc"`: true,
		`"different"`:  false,
	}
	for header, want := range cases {
		if got := etagMatch(header, etag); got != want {
			t.Errorf("etagMatch(%q) = %v, want %v", header, got, want)
		}
	}
}
