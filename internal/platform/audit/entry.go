// Package audit records who did what to which entity. Recording is
// asynchronous and best-effort: callers never see audit failures.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionLogin  Action = "login"
	ActionLogout Action = "logout"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionLogin, ActionLogout:
		return true
	}
	return false
}

// Entry is one immutable audit record. Before and After are opaque snapshots
// marshalled to JSON by the store.
type Entry struct {
	ActorID   *uuid.UUID
	Entity    string
	EntityID  *string
	Action    Action
	Before    any
	After     any
	RequestID string
	IP        string
	UserAgent string
	CreatedAt time.Time
}

// Log is a stored entry as returned by the review endpoint.
type Log struct {
	ID          uuid.UUID       `json:"id"`
	ActorUserID *uuid.UUID      `json:"actorUserId"`
	Entity      string          `json:"entity"`
	EntityID    *string         `json:"entityId"`
	Action      Action          `json:"action"`
	Before      json.RawMessage `json:"before"`
	After       json.RawMessage `json:"after"`
	RequestID   *string         `json:"requestId"`
	IP          *string         `json:"ip"`
	UserAgent   *string         `json:"userAgent"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Column widths of audit_log.request_id and audit_log.ip.
const (
	maxRequestIDLen = 64
	maxIPLen        = 64
)

// Meta is the transport metadata copied onto every entry.
type Meta struct {
	RequestID string
	IP        string
	UserAgent string
}

type metaKey struct{}

// MetaFromContext builds Meta from the echo request.
func MetaFromContext(c echo.Context) Meta {
	m := Meta{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
	if rid, ok := c.Get("request_id").(string); ok {
		m.RequestID = rid
	}
	if m.RequestID == "" {
		m.RequestID = c.Response().Header().Get(echo.HeaderXRequestID)
	}
	return m
}

// WithMeta stores m on ctx for services that record entries.
func WithMeta(ctx context.Context, m Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

// MetaFrom returns the Meta stored by Capture, or the zero value.
func MetaFrom(ctx context.Context) Meta {
	m, _ := ctx.Value(metaKey{}).(Meta)
	return m
}

// Capture copies request metadata onto the request context so services can
// build entries without depending on echo.
func Capture() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(WithMeta(req.Context(), MetaFromContext(c))))
			return next(c)
		}
	}
}

// New builds an entry with the metadata on ctx.
func New(ctx context.Context, actor *uuid.UUID, entity, entityID string, action Action, before, after any) Entry {
	m := MetaFrom(ctx)
	e := Entry{
		ActorID:   actor,
		Entity:    entity,
		Action:    action,
		Before:    before,
		After:     after,
		RequestID: clip(m.RequestID, maxRequestIDLen),
		IP:        clip(m.IP, maxIPLen),
		UserAgent: m.UserAgent,
		CreatedAt: time.Now().UTC(),
	}
	if entityID != "" {
		e.EntityID = &entityID
	}
	return e
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Sink accepts entries. *Recorder is the production implementation.
type Sink interface {
	Record(Entry)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(Entry) {}
