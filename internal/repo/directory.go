package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"devmatch/internal/domain"
)

func (r Repo) UpsertSkill(ctx context.Context, s domain.Skill) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO skills(id,name) VALUES (?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, s.ID, s.Name)
	return err
}

func (r Repo) ListSkills(ctx context.Context) ([]domain.Skill, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM skills ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Skill
	for rows.Next() {
		var s domain.Skill
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpsertDeveloper replaces a developer's directory record and skill set.
func (r Repo) UpsertDeveloper(ctx context.Context, d domain.Developer) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx, `INSERT INTO developers(id,user_id,name,level,approval_status,availability,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id, name=excluded.name, level=excluded.level,
approval_status=excluded.approval_status, availability=excluded.availability, updated_at=excluded.updated_at`,
		d.ID, d.UserID, d.Name, string(d.Level), d.ApprovalStatus, d.Availability, now); err != nil {
		return fmt.Errorf("upsert developer %s: %w", d.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM developer_skills WHERE developer_id=?`, d.ID); err != nil {
		return err
	}
	for skillID, years := range d.SkillYears {
		if _, err := tx.ExecContext(ctx, `INSERT INTO developer_skills(developer_id,skill_id,years) VALUES (?,?,?)`, d.ID, skillID, years); err != nil {
			return fmt.Errorf("developer %s skill %s: %w", d.ID, skillID, err)
		}
	}
	return tx.Commit()
}

// SetAvailability updates the live availability flag owned by the directory.
func (r Repo) SetAvailability(ctx context.Context, developerID, availability string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE developers SET availability=?, updated_at=? WHERE id=?`,
		availability, formatTime(time.Now()), developerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const developerColumns = `id,user_id,name,level,approval_status,availability`

func scanDeveloper(row interface{ Scan(...any) error }) (domain.Developer, error) {
	var d domain.Developer
	var level string
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &level, &d.ApprovalStatus, &d.Availability)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	d.Level = domain.Level(level)
	return d, err
}

func (r Repo) GetDeveloper(ctx context.Context, id string) (domain.Developer, error) {
	return getDeveloper(ctx, r.DB, id)
}

func (r Repo) GetDeveloperTx(ctx context.Context, tx *sql.Tx, id string) (domain.Developer, error) {
	return getDeveloper(ctx, tx, id)
}

func getDeveloper(ctx context.Context, q queryer, id string) (domain.Developer, error) {
	d, err := scanDeveloper(q.QueryRowContext(ctx, `SELECT `+developerColumns+` FROM developers WHERE id=?`, id))
	if err != nil {
		return d, err
	}
	d.SkillYears, err = developerSkills(ctx, q, id)
	return d, err
}

func developerSkills(ctx context.Context, q queryer, developerID string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT skill_id, years FROM developer_skills WHERE developer_id=?`, developerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var skill string
		var years int
		if err := rows.Scan(&skill, &years); err != nil {
			return nil, err
		}
		res[skill] = years
	}
	return res, rows.Err()
}

func (r Repo) ListDevelopers(ctx context.Context) ([]domain.Developer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+developerColumns+` FROM developers ORDER BY level, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Developer
	for rows.Next() {
		d, err := scanDeveloper(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].SkillYears, err = developerSkills(ctx, r.DB, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// EligibleFilter describes who may receive an offer for a project.
type EligibleFilter struct {
	SkillIDs       []string
	ApprovalStatus string
	Availability   []string
	// ExcludeUserID is the project's client; nobody is offered their own project.
	ExcludeUserID string
}

// EligibleMember is one developer matching one required skill.
type EligibleMember struct {
	DeveloperID string
	Level       domain.Level
	SkillID     string
}

// EligibleMembersTx reads the directory inside the generation transaction.
// Developers holding a pending offer in any active batch are excluded.
func (r Repo) EligibleMembersTx(ctx context.Context, tx *sql.Tx, f EligibleFilter) ([]EligibleMember, error) {
	if len(f.SkillIDs) == 0 || len(f.Availability) == 0 {
		return nil, nil
	}
	args := stringArgs(f.SkillIDs)
	args = append(args, f.ApprovalStatus)
	args = append(args, stringArgs(f.Availability)...)
	args = append(args, f.ExcludeUserID, string(domain.ResponsePending), string(domain.BatchActive))
	rows, err := tx.QueryContext(ctx, `SELECT d.id, d.level, ds.skill_id
FROM developers d
JOIN developer_skills ds ON ds.developer_id = d.id
WHERE ds.skill_id IN (`+placeholders(len(f.SkillIDs))+`)
  AND d.approval_status = ?
  AND d.availability IN (`+placeholders(len(f.Availability))+`)
  AND d.user_id != ?
  AND NOT EXISTS (
    SELECT 1 FROM assignment_candidates c
    JOIN assignment_batches b ON b.id = c.batch_id
    WHERE c.developer_id = d.id AND c.response_status = ? AND b.status = ?
  )
ORDER BY d.id, ds.skill_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []EligibleMember
	for rows.Next() {
		var m EligibleMember
		var level string
		if err := rows.Scan(&m.DeveloperID, &level, &m.SkillID); err != nil {
			return nil, err
		}
		m.Level = domain.Level(level)
		res = append(res, m)
	}
	return res, rows.Err()
}
