package repo

import (
	"context"
	"database/sql"
	"time"

	"devmatch/internal/domain"
)

// CursorsTx loads the cursors for the given skills at every level, keyed by
// skill then level.
func (r Repo) CursorsTx(ctx context.Context, tx *sql.Tx, skillIDs []string) (map[string]map[domain.Level]string, error) {
	res := map[string]map[domain.Level]string{}
	if len(skillIDs) == 0 {
		return res, nil
	}
	rows, err := tx.QueryContext(ctx, `SELECT skill_id, level, last_developer_id FROM rotation_cursors WHERE skill_id IN (`+placeholders(len(skillIDs))+`)`,
		stringArgs(skillIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var skill, level, last string
		if err := rows.Scan(&skill, &level, &last); err != nil {
			return nil, err
		}
		if res[skill] == nil {
			res[skill] = map[domain.Level]string{}
		}
		res[skill][domain.Level(level)] = last
	}
	return res, rows.Err()
}

// AdvanceCursorTx records developerID as the last developer offered a slot
// for (skillID, level).
func (r Repo) AdvanceCursorTx(ctx context.Context, tx *sql.Tx, skillID string, level domain.Level, developerID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO rotation_cursors(skill_id,level,last_developer_id,updated_at) VALUES (?,?,?,?)
ON CONFLICT(skill_id,level) DO UPDATE SET last_developer_id=excluded.last_developer_id, updated_at=excluded.updated_at`,
		skillID, string(level), developerID, formatTime(now))
	return err
}

func (r Repo) ListCursors(ctx context.Context) ([]domain.RotationCursor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT skill_id, level, last_developer_id, updated_at FROM rotation_cursors
ORDER BY skill_id, CASE level WHEN 'expert' THEN 0 WHEN 'mid' THEN 1 ELSE 2 END`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RotationCursor
	for rows.Next() {
		var c domain.RotationCursor
		var level, updated string
		if err := rows.Scan(&c.SkillID, &level, &c.LastDeveloperID, &updated); err != nil {
			return nil, err
		}
		c.Level = domain.Level(level)
		if c.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// EventFilters narrows an event log listing.
type EventFilters struct {
	ProjectID string
	Type      string
	Limit     int
}

// ListEvents returns the newest events first.
func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	query := `SELECT id, ts, type, COALESCE(project_id,''), entity_kind, COALESCE(entity_id,''), actor_id, payload_json FROM events WHERE 1=1`
	var args []any
	if f.ProjectID != "" {
		query += ` AND project_id=?`
		args = append(args, f.ProjectID)
	}
	if f.Type != "" {
		query += ` AND type=?`
		args = append(args, f.Type)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
