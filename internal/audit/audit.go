// Package audit appends and reads the immutable trail of accepted mutations.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"teamline/internal/domain"
)

// Details is the optional structured payload of a record. The "description"
// key, when present, overrides the rendered template.
type Details map[string]any

// Logger appends audit records after their mutation has been durably
// applied, and serves the ordered read path. Records are never updated or
// deleted.
type Logger struct {
	DB     *sql.DB
	Now    func() time.Time
	Logger *log.Logger
}

func (l Logger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l Logger) warnf(format string, args ...any) {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf(format, args...)
}

// Append inserts one record. A nil actorID denotes the platform acting on
// its own behalf. Callers invoke it only after the mutation committed, so a
// record never describes a rolled-back write.
func (l Logger) Append(ctx context.Context, actorID *string, action Action, targetKind, targetID string, details Details) (domain.AuditRecord, error) {
	ts := l.now().UTC().Format(time.RFC3339)
	var detailsJSON any
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return domain.AuditRecord{}, fmt.Errorf("marshal audit details: %w", err)
		}
		detailsJSON = string(data)
	}
	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}
	res, err := l.DB.ExecContext(ctx, `INSERT INTO audit_records(actor_id,action,target_kind,target_id,details_json,created_at) VALUES (?,?,?,?,?,?)`,
		actor, string(action), targetKind, targetID, detailsJSON, ts)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	id, _ := res.LastInsertId()
	return domain.AuditRecord{
		ID:         id,
		ActorID:    actorID,
		Action:     string(action),
		TargetKind: targetKind,
		TargetID:   targetID,
		Details:    details,
		CreatedAt:  ts,
	}, nil
}

// Record is the fire-and-forget form used after a committed mutation. An
// append failure must never fail the mutation it describes; it is logged as
// a warning so trail gaps can be monitored.
func (l Logger) Record(ctx context.Context, actorID *string, action Action, targetKind, targetID string, details Details) {
	if _, err := l.Append(ctx, actorID, action, targetKind, targetID, details); err != nil {
		l.warnf("WARNING: audit append failed for %s on %s %s: %v", action, targetKind, targetID, err)
	}
}

type ListFilters struct {
	TargetID        string
	Limit           int
	CursorCreatedAt string
	CursorID        int64
}

// List returns records for a target in non-increasing timestamp order, ties
// broken by descending insertion id. Pagination uses a composite
// (created_at, id) cursor.
func (l Logger) List(ctx context.Context, f ListFilters) ([]domain.AuditRecord, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `SELECT id,actor_id,action,target_kind,target_id,details_json,created_at FROM audit_records WHERE target_id=?`
	args := []any{f.TargetID}
	if f.CursorCreatedAt != "" && f.CursorID > 0 {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, f.Limit)
	rows, err := l.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var actor, detailsJSON sql.NullString
		if err := rows.Scan(&rec.ID, &actor, &rec.Action, &rec.TargetKind, &rec.TargetID, &detailsJSON, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if actor.Valid {
			rec.ActorID = &actor.String
		}
		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &rec.Details); err != nil {
				return nil, fmt.Errorf("decode audit details for record %d: %w", rec.ID, err)
			}
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
