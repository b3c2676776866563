package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"devmatch/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TimeLayout is fixed width so stored timestamps compare correctly as text.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

const projectColumns = `id,client_id,title,status,current_batch_id,contact_reveal_enabled,contact_revealed_developer_id,created_at,updated_at`

func scanProject(row interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	var currentBatch, revealed sql.NullString
	var reveal int
	var created, updated string
	err := row.Scan(&p.ID, &p.ClientID, &p.Title, &p.Status, &currentBatch, &reveal, &revealed, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if currentBatch.Valid {
		p.CurrentBatchID = &currentBatch.String
	}
	if revealed.Valid {
		p.ContactRevealedDeveloperID = &revealed.String
	}
	p.ContactRevealEnabled = reveal == 1
	if p.CreatedAt, err = parseTime(created); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return p, err
	}
	return p, nil
}

// InsertProject stores a project together with its required skills in
// skill order.
func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ClientID, p.Title, p.Status, nullableStringPtr(p.CurrentBatchID), boolInt(p.ContactRevealEnabled),
		nullableStringPtr(p.ContactRevealedDeveloperID), formatTime(p.CreatedAt), formatTime(p.UpdatedAt)); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	for i, skillID := range p.SkillIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_skills(project_id,skill_id,position) VALUES (?,?,?)`, p.ID, skillID, i); err != nil {
			return fmt.Errorf("insert project skill %s: %w", skillID, err)
		}
	}
	return tx.Commit()
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return getProject(ctx, r.DB, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return getProject(ctx, tx, id)
}

func getProject(ctx context.Context, q queryer, id string) (domain.Project, error) {
	p, err := scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	p.SkillIDs, err = projectSkills(ctx, q, id)
	return p, err
}

func projectSkills(ctx context.Context, q queryer, projectID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT skill_id FROM project_skills WHERE project_id=? ORDER BY position, skill_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].SkillIDs, err = projectSkills(ctx, r.DB, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// MarkProjectAssigningTx points the project at its new current batch.
func (r Repo) MarkProjectAssigningTx(ctx context.Context, tx *sql.Tx, projectID, batchID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, current_batch_id=?, updated_at=? WHERE id=?`,
		domain.ProjectStatusAssigning, batchID, formatTime(now), projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimProjectTx moves a project from one of fromStatuses to accepted and
// reveals the winning developer's contact. It reports false when the project
// was no longer in an acceptable status, which means another transaction
// claimed it first.
func (r Repo) ClaimProjectTx(ctx context.Context, tx *sql.Tx, projectID, developerID string, fromStatuses []string, now time.Time) (bool, error) {
	args := []any{domain.ProjectStatusAccepted, developerID, formatTime(now), projectID}
	args = append(args, stringArgs(fromStatuses)...)
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, contact_reveal_enabled=1, contact_revealed_developer_id=?, updated_at=?
WHERE id=? AND status IN (`+placeholders(len(fromStatuses))+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) UpdateProjectStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE projects SET status=?, updated_at=? WHERE id=?`, status, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
