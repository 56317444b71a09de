package medical

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pws/pws/internal/platform/auth"
	"github.com/pws/pws/internal/platform/middleware"
)

func newRouter(f *fixture, id *auth.Identity) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(zerolog.Nop())
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if id != nil {
				c.SetRequest(c.Request().WithContext(auth.WithIdentity(c.Request().Context(), *id)))
			}
			return next(c)
		}
	})
	NewHandler(f.svc).RegisterRoutes(api)
	return e
}

func serve(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_UpsertAndGet(t *testing.T) {
	f := newFixture(Config{})
	doc, patient := newDoctor(), newPatient()
	appt := f.seedAppointment(doc, patient)
	body := `{"appointmentId":"` + appt.ID.String() + `","diagnosis":"Flu","attachments":["xray.png"]}`

	for i := 0; i < 2; i++ {
		rec := serve(newRouter(f, &doc), http.MethodPost, "/api/v1/medical-records", body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("write %d: expected 201, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := serve(newRouter(f, &patient), http.MethodGet, "/api/v1/medical-records/"+appt.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("patient read: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Diagnosis == nil || *got.Diagnosis != "Flu" || len(got.Attachments) != 1 {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestHandler_Guards(t *testing.T) {
	f := newFixture(Config{})
	doc, patient := newDoctor(), newPatient()
	appt := f.seedAppointment(doc, patient)
	admin := adminActor()
	stranger := newPatient()
	body := `{"appointmentId":"` + appt.ID.String() + `"}`

	tests := []struct {
		name   string
		id     *auth.Identity
		method string
		path   string
		body   string
		want   int
	}{
		{"anonymous read", nil, http.MethodGet, "/api/v1/medical-records/" + appt.ID.String(), "", http.StatusUnauthorized},
		{"anonymous write", nil, http.MethodPost, "/api/v1/medical-records", body, http.StatusUnauthorized},
		{"patient write", &patient, http.MethodPost, "/api/v1/medical-records", body, http.StatusForbidden},
		{"admin write disabled", &admin, http.MethodPost, "/api/v1/medical-records", body, http.StatusForbidden},
		{"stranger read", &stranger, http.MethodGet, "/api/v1/medical-records/" + appt.ID.String(), "", http.StatusNotFound},
		{"bad id", &patient, http.MethodGet, "/api/v1/medical-records/nope", "", http.StatusBadRequest},
		{"bad body", &doc, http.MethodPost, "/api/v1/medical-records", `[1]`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newRouter(f, tt.id), tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
