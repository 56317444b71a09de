package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pws/pws/internal/platform/db"
)

// Filter narrows the review listing. Zero fields are ignored.
type Filter struct {
	Entity      string
	Action      Action
	ActorUserID *uuid.UUID
	EntityID    string
	From        *time.Time
	To          *time.Time
}

// Writer persists entries.
type Writer interface {
	Insert(ctx context.Context, e Entry) error
}

// Store is the full persistence contract for audit entries.
type Store interface {
	Writer
	List(ctx context.Context, f Filter, limit, offset int) ([]*Log, int, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (s *storePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

func (s *storePG) Insert(ctx context.Context, e Entry) error {
	before, err := snapshot(e.Before)
	if err != nil {
		return fmt.Errorf("marshal before snapshot: %w", err)
	}
	after, err := snapshot(e.After)
	if err != nil {
		return fmt.Errorf("marshal after snapshot: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err = s.conn(ctx).Exec(ctx, `
		INSERT INTO audit_log (actor_user_id, entity, entity_id, action, before, after,
			request_id, ip, user_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ActorID, e.Entity, e.EntityID, string(e.Action), before, after,
		nullable(e.RequestID), nullable(e.IP), nullable(e.UserAgent), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *storePG) List(ctx context.Context, f Filter, limit, offset int) ([]*Log, int, error) {
	where, args := buildWhere(f)

	var total int
	if err := s.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, actor_user_id, entity, entity_id, action, before, after,
		request_id, ip, user_agent, created_at
		FROM audit_log%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	rows, err := s.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*Log
	for rows.Next() {
		var l Log
		var action string
		if err := rows.Scan(&l.ID, &l.ActorUserID, &l.Entity, &l.EntityID, &action, &l.Before, &l.After,
			&l.RequestID, &l.IP, &l.UserAgent, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		l.Action = Action(action)
		out = append(out, &l)
	}
	return out, total, rows.Err()
}

func (s *storePG) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func buildWhere(f Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.ActorUserID != nil {
		add("actor_user_id = $%d", *f.ActorUserID)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func snapshot(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
