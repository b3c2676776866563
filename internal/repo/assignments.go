package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"devmatch/internal/domain"
)

const batchColumns = `id,project_id,batch_number,status,selection_json,created_at,updated_at`

func scanBatch(row interface{ Scan(...any) error }) (domain.AssignmentBatch, error) {
	var b domain.AssignmentBatch
	var status, selection, created, updated string
	err := row.Scan(&b.ID, &b.ProjectID, &b.BatchNumber, &status, &selection, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	b.Status = domain.BatchStatus(status)
	if err := json.Unmarshal([]byte(selection), &b.Selection); err != nil {
		return b, fmt.Errorf("batch %s selection: %w", b.ID, err)
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return b, err
	}
	b.UpdatedAt, err = parseTime(updated)
	return b, err
}

func (r Repo) InsertBatchTx(ctx context.Context, tx *sql.Tx, b domain.AssignmentBatch) error {
	selection, err := json.Marshal(b.Selection)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO assignment_batches(`+batchColumns+`) VALUES (?,?,?,?,?,?,?)`,
		b.ID, b.ProjectID, b.BatchNumber, string(b.Status), string(selection), formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	return err
}

func (r Repo) GetBatch(ctx context.Context, id string) (domain.AssignmentBatch, error) {
	return scanBatch(r.DB.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM assignment_batches WHERE id=?`, id))
}

func (r Repo) GetBatchTx(ctx context.Context, tx *sql.Tx, id string) (domain.AssignmentBatch, error) {
	return scanBatch(tx.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM assignment_batches WHERE id=?`, id))
}

func (r Repo) ListBatches(ctx context.Context, projectID string) ([]domain.AssignmentBatch, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+batchColumns+` FROM assignment_batches WHERE project_id=? ORDER BY batch_number`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AssignmentBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// NextBatchNumberTx returns the previous batch number for the project plus one.
func (r Repo) NextBatchNumberTx(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(batch_number),0) FROM assignment_batches WHERE project_id=?`, projectID).Scan(&n)
	return n + 1, err
}

// ActiveBatchesTx lists the project's batches still in the active state.
func (r Repo) ActiveBatchesTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.AssignmentBatch, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+batchColumns+` FROM assignment_batches WHERE project_id=? AND status=? ORDER BY batch_number`,
		projectID, string(domain.BatchActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AssignmentBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// TransitionBatchTx moves a batch from one status to another and reports
// whether the batch was still in the expected status.
func (r Repo) TransitionBatchTx(ctx context.Context, tx *sql.Tx, id string, from, to domain.BatchStatus, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE assignment_batches SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(to), formatTime(now), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

const candidateColumns = `id,batch_id,project_id,developer_id,skill_id,level,source_level,response_status,assigned_at,acceptance_deadline,responded_at,is_first_accepted,response_seconds,status_text`

func scanCandidate(row interface{ Scan(...any) error }) (domain.AssignmentCandidate, error) {
	var c domain.AssignmentCandidate
	var level, source, status, assigned, deadline string
	var responded sql.NullString
	var first int
	var secs sql.NullInt64
	err := row.Scan(&c.ID, &c.BatchID, &c.ProjectID, &c.DeveloperID, &c.SkillID, &level, &source, &status,
		&assigned, &deadline, &responded, &first, &secs, &c.StatusText)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Level = domain.Level(level)
	c.SourceLevel = domain.Level(source)
	c.ResponseStatus = domain.ResponseStatus(status)
	c.IsFirstAccepted = first == 1
	if secs.Valid {
		v := secs.Int64
		c.ResponseSeconds = &v
	}
	if c.AssignedAt, err = parseTime(assigned); err != nil {
		return c, err
	}
	if c.AcceptanceDeadline, err = parseTime(deadline); err != nil {
		return c, err
	}
	c.RespondedAt, err = parseNullTime(responded)
	return c, err
}

func (r Repo) InsertCandidateTx(ctx context.Context, tx *sql.Tx, c domain.AssignmentCandidate) error {
	var responded any
	if c.RespondedAt != nil {
		responded = formatTime(*c.RespondedAt)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO assignment_candidates(`+candidateColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.BatchID, c.ProjectID, c.DeveloperID, c.SkillID, string(c.Level), string(c.SourceLevel), string(c.ResponseStatus),
		formatTime(c.AssignedAt), formatTime(c.AcceptanceDeadline), responded, boolInt(c.IsFirstAccepted), nil, c.StatusText)
	return err
}

func (r Repo) GetCandidate(ctx context.Context, id string) (domain.AssignmentCandidate, error) {
	return scanCandidate(r.DB.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM assignment_candidates WHERE id=?`, id))
}

func (r Repo) GetCandidateTx(ctx context.Context, tx *sql.Tx, id string) (domain.AssignmentCandidate, error) {
	return scanCandidate(tx.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM assignment_candidates WHERE id=?`, id))
}

func (r Repo) ListCandidates(ctx context.Context, batchID string) ([]domain.AssignmentCandidate, error) {
	return listCandidates(ctx, r.DB, `SELECT `+candidateColumns+` FROM assignment_candidates WHERE batch_id=? ORDER BY
CASE level WHEN 'expert' THEN 0 WHEN 'mid' THEN 1 ELSE 2 END, developer_id`, batchID)
}

// CandidateFilters narrows a developer inbox listing.
type CandidateFilters struct {
	UserID string
	Status string
	Limit  int
}

// ListCandidatesForUser returns offers addressed to the developer owned by UserID, newest first.
func (r Repo) ListCandidatesForUser(ctx context.Context, f CandidateFilters) ([]domain.AssignmentCandidate, error) {
	query := `SELECT ` + candidateColumnsPrefixed + ` FROM assignment_candidates c
JOIN developers d ON d.id = c.developer_id WHERE d.user_id=?`
	args := []any{f.UserID}
	if f.Status != "" {
		query += ` AND c.response_status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY c.assigned_at DESC, c.id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return listCandidates(ctx, r.DB, query, args...)
}

const candidateColumnsPrefixed = `c.id,c.batch_id,c.project_id,c.developer_id,c.skill_id,c.level,c.source_level,c.response_status,c.assigned_at,c.acceptance_deadline,c.responded_at,c.is_first_accepted,c.response_seconds,c.status_text`

func listCandidates(ctx context.Context, q queryer, query string, args ...any) ([]domain.AssignmentCandidate, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AssignmentCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// RespondTx moves a candidate out of pending. It reports false when the
// candidate had already left pending, so the caller lost a race.
func (r Repo) RespondTx(ctx context.Context, tx *sql.Tx, id string, to domain.ResponseStatus, firstAccepted bool, respondedAt time.Time, responseSeconds int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE assignment_candidates
SET response_status=?, is_first_accepted=?, responded_at=?, response_seconds=?, status_text=?
WHERE id=? AND response_status=?`,
		string(to), boolInt(firstAccepted), formatTime(respondedAt), responseSeconds, to.StatusText(), id, string(domain.ResponsePending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// InvalidatePendingTx withdraws every pending offer in a batch. Invalidated
// offers get no responded_at: nobody responded, so they stay out of
// response-time statistics.
func (r Repo) InvalidatePendingTx(ctx context.Context, tx *sql.Tx, batchID string) ([]string, error) {
	ids, err := candidateIDs(ctx, tx, `SELECT id FROM assignment_candidates WHERE batch_id=? AND response_status=? ORDER BY id`,
		batchID, string(domain.ResponsePending))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	_, err = tx.ExecContext(ctx, `UPDATE assignment_candidates SET response_status=?, status_text=? WHERE batch_id=? AND response_status=?`,
		string(domain.ResponseInvalidated), domain.ResponseInvalidated.StatusText(), batchID, string(domain.ResponsePending))
	return ids, err
}

// DuePendingTx lists pending candidates whose deadline is before now.
func (r Repo) DuePendingTx(ctx context.Context, tx *sql.Tx, now time.Time, limit int) ([]domain.AssignmentCandidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM assignment_candidates WHERE response_status=? AND acceptance_deadline < ? ORDER BY acceptance_deadline, id`
	args := []any{string(domain.ResponsePending), formatTime(now)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return listCandidates(ctx, tx, query, args...)
}

func candidateIDs(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BatchDeveloperIDsTx returns the developers offered a slot in a batch.
func (r Repo) BatchDeveloperIDsTx(ctx context.Context, tx *sql.Tx, batchID string) ([]string, error) {
	return candidateIDs(ctx, tx, `SELECT developer_id FROM assignment_candidates WHERE batch_id=? ORDER BY developer_id`, batchID)
}

// CountFirstAccepted counts winners recorded for a batch.
func (r Repo) CountFirstAccepted(ctx context.Context, batchID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM assignment_candidates WHERE batch_id=? AND is_first_accepted=1`, batchID).Scan(&n)
	return n, err
}

// CountByResponse tallies a batch's candidates by response status.
func (r Repo) CountByResponse(ctx context.Context, batchID string) (map[domain.ResponseStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT response_status, count(*) FROM assignment_candidates WHERE batch_id=? GROUP BY response_status`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.ResponseStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[domain.ResponseStatus(status)] = n
	}
	return res, rows.Err()
}
