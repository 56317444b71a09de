package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestCaptureAndNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/schedules", nil)
	req.Header.Set("User-Agent", "pws-test/1.0")
	req.Header.Set(echo.HeaderXRealIP, "203.0.113.9")
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-1")

	var got Entry
	actor := uuid.New()
	h := Capture()(func(c echo.Context) error {
		got = New(c.Request().Context(), &actor, "Schedule", "sched-1", ActionUpdate, map[string]string{"a": "b"}, nil)
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.RequestID != "req-1" || got.IP != "203.0.113.9" || got.UserAgent != "pws-test/1.0" {
		t.Errorf("unexpected metadata %+v", got)
	}
	if got.ActorID == nil || *got.ActorID != actor {
		t.Error("expected actor id")
	}
	if got.EntityID == nil || *got.EntityID != "sched-1" {
		t.Error("expected entity id")
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt")
	}
}

func TestNew_ClipsTransportMetadata(t *testing.T) {
	ctx := WithMeta(context.Background(), Meta{
		RequestID: strings.Repeat("r", 100),
		IP:        strings.Repeat("9", 100),
		UserAgent: strings.Repeat("u", 300),
	})
	e := New(ctx, nil, "User", "", ActionLogin, nil, nil)
	if len(e.RequestID) != 64 || len(e.IP) != 64 {
		t.Errorf("expected request id and ip clipped to 64, got %d and %d", len(e.RequestID), len(e.IP))
	}
	if len(e.UserAgent) != 300 {
		t.Errorf("user agent is stored as text and should be untouched, got %d", len(e.UserAgent))
	}
}

func TestNew_WithoutMeta(t *testing.T) {
	e := New(context.Background(), nil, "User", "", ActionLogout, nil, nil)
	if e.EntityID != nil || e.ActorID != nil {
		t.Errorf("expected nil ids, got %+v", e)
	}
	if e.RequestID != "" {
		t.Errorf("expected empty request id, got %q", e.RequestID)
	}
}

func TestBuildWhere(t *testing.T) {
	where, args := buildWhere(Filter{})
	if where != "" || len(args) != 0 {
		t.Errorf("expected empty clause, got %q %v", where, args)
	}

	actor := uuid.New()
	where, args = buildWhere(Filter{Entity: "Doctor", Action: ActionDelete, ActorUserID: &actor})
	want := " WHERE entity = $1 AND action = $2 AND actor_user_id = $3"
	if where != want {
		t.Errorf("expected %q, got %q", want, where)
	}
	if len(args) != 3 || args[1] != "delete" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestSnapshot(t *testing.T) {
	b, err := snapshot(nil)
	if err != nil || b != nil {
		t.Errorf("expected nil snapshot, got %s %v", b, err)
	}
	b, err = snapshot(map[string]int{"n": 1})
	if err != nil || string(b) != `{"n":1}` {
		t.Errorf("unexpected snapshot %s %v", b, err)
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	m.Record(Entry{Entity: "a"})
	m.Record(Entry{Entity: "b"})
	got := m.Entries()
	if len(got) != 2 || got[1].Entity != "b" {
		t.Errorf("unexpected entries %+v", got)
	}
	var _ Sink = m
	var _ Sink = Nop{}
	var _ Sink = (*Recorder)(nil)
}
