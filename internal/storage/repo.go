package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"ikasa/internal/session"
)

var ErrNotFound = errors.New("not found")

var _ session.Persister = (*Store)(nil)

func (s *Store) Load(ctx context.Context, key string) ([]byte, bool, error) {
	snap, err := s.GetSnapshot(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return snap.Payload, true, nil
}

func (s *Store) Save(ctx context.Context, key string, payload []byte) error {
	q := s.sql.Insert("session_snapshots").
		Columns("namespace_key", "payload", "updated_at").
		Values(key, string(payload), s.clock().UTC()).
		Suffix("ON CONFLICT(namespace_key) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build snapshot upsert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	sqlStr, args, err := s.sql.Delete("session_snapshots").Where(sq.Eq{"namespace_key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("build snapshot delete query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, key string) (Snapshot, error) {
	q := s.sql.Select("namespace_key", "payload", "updated_at").
		From("session_snapshots").
		Where(sq.Eq{"namespace_key": key})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Snapshot{}, fmt.Errorf("build snapshot query: %w", err)
	}

	var out Snapshot
	var payload string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&out.Key, &payload, &out.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	out.Payload = []byte(payload)
	return out, nil
}

// Record implements the funnel audit hook.
func (s *Store) Record(ctx context.Context, key, accountID, action string) error {
	return s.LogAction(ctx, AuditEntry{SessionKey: key, AccountID: accountID, Action: action})
}

func (s *Store) LogAction(ctx context.Context, e AuditEntry) error {
	if strings.TrimSpace(e.MetaJSON) == "" {
		e.MetaJSON = "{}"
	}
	if !json.Valid([]byte(e.MetaJSON)) {
		e.MetaJSON = "{}"
	}

	q := s.sql.Insert("audit_log").
		Columns("session_key", "account_id", "action", "meta_json", "created_at").
		Values(e.SessionKey, e.AccountID, e.Action, e.MetaJSON, s.clock().UTC())
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// RecentActions returns the newest audit entries for a session key.
func (s *Store) RecentActions(ctx context.Context, key string, limit uint64) ([]AuditEntry, error) {
	if limit == 0 {
		limit = 10
	}
	q := s.sql.Select("id", "session_key", "account_id", "action", "meta_json", "created_at").
		From("audit_log").
		Where(sq.Eq{"session_key": key}).
		OrderBy("created_at DESC", "id DESC").
		Limit(limit)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	out := make([]AuditEntry, 0)
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.SessionKey, &e.AccountID, &e.Action, &e.MetaJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}
