package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devmatch/internal/config"
	"devmatch/internal/domain"
	"devmatch/internal/events"
	"devmatch/internal/metrics"
	"devmatch/internal/repo"
	"devmatch/internal/rotation"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Log:    log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// refused records a business rule failure and passes err through.
func (e Engine) refused(op string, err error, fields ...zap.Field) error {
	if kind := KindOf(err); kind != "" {
		metrics.GuardFailuresTotal.WithLabelValues(op, string(kind)).Inc()
		e.log().Debug("operation refused", append(fields, zap.String("operation", op), zap.String("kind", string(kind)), zap.Error(err))...)
	}
	return err
}

// BatchOptions are parameters for generating or refreshing a batch.
type BatchOptions struct {
	ProjectID string
	// Counts is the requested number of candidates per level. Nil falls back
	// to the previous batch's selection on refresh, then to the configured
	// defaults.
	Counts  *domain.LevelCounts
	ActorID string
}

// BatchResult is a committed batch with its offers.
type BatchResult struct {
	Project    domain.Project               `json:"project"`
	Batch      domain.AssignmentBatch       `json:"batch"`
	Candidates []domain.AssignmentCandidate `json:"candidates"`
	// Shortfall is the part of the request the eligible pool could not fill.
	Shortfall domain.LevelCounts `json:"shortfall"`
	// Invalidated lists the prior batch's offers withdrawn by this generation.
	Invalidated []string `json:"invalidated,omitempty"`
}

// GenerateBatch selects developers for a project and commits a new active
// batch. Any batch still active for the project is invalidated first.
func (e Engine) GenerateBatch(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	return e.generateWithRetry(ctx, opts, "generate")
}

// RefreshBatch replaces the project's current batch. Pending offers of the
// replaced batch become invalidated, and developers it offered a slot to are
// only re-invited when nobody else can fill the request.
func (e Engine) RefreshBatch(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	return e.generateWithRetry(ctx, opts, "refresh")
}

func (e Engine) generateWithRetry(ctx context.Context, opts BatchOptions, trigger string) (BatchResult, error) {
	if opts.ProjectID == "" {
		return BatchResult{}, newError(KindInvalidInput, nil, "project is required")
	}
	if opts.Counts != nil {
		if err := validateCounts(*opts.Counts); err != nil {
			return BatchResult{}, e.refused(trigger, err)
		}
	}
	var res BatchResult
	err := e.withRetry(ctx, trigger, ErrConflict, func() error {
		var err error
		res, err = e.generate(ctx, opts, trigger)
		return err
	})
	if err != nil {
		return BatchResult{}, e.refused(trigger, err, zap.String("project_id", opts.ProjectID))
	}
	metrics.BatchesGeneratedTotal.WithLabelValues(trigger).Inc()
	for _, c := range res.Candidates {
		metrics.CandidatesOfferedTotal.WithLabelValues(string(c.Level)).Inc()
		if c.Promoted() {
			metrics.PromotionsTotal.WithLabelValues(string(c.Level), string(c.SourceLevel)).Inc()
		}
	}
	e.log().Info("batch generated",
		zap.String("trigger", trigger),
		zap.String("project_id", res.Project.ID),
		zap.String("batch_id", res.Batch.ID),
		zap.Int("batch_number", res.Batch.BatchNumber),
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("shortfall", res.Shortfall.Total()),
		zap.Int("invalidated", len(res.Invalidated)),
	)
	return res, nil
}

func validateCounts(c domain.LevelCounts) error {
	for _, l := range domain.Levels {
		if c.Get(l) < 0 {
			return newError(KindInvalidInput, map[string]any{"level": l}, "count for %s must not be negative", l)
		}
	}
	if c.Total() == 0 {
		return newError(KindInvalidInput, nil, "at least one candidate must be requested")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (e Engine) generate(ctx context.Context, opts BatchOptions, trigger string) (BatchResult, error) {
	cfg := e.cfg().Assignment
	now := e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return BatchResult{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return BatchResult{}, fmt.Errorf("project %s: %w", opts.ProjectID, repo.ErrNotFound)
		}
		return BatchResult{}, err
	}
	if !contains(cfg.EligibleProjectStatuses, p.Status) {
		return BatchResult{}, newError(KindProjectNotEligible, map[string]any{"status": p.Status},
			"project %s is %s", p.ID, p.Status)
	}

	var prior *domain.AssignmentBatch
	if p.CurrentBatchID != nil {
		b, err := e.Repo.GetBatchTx(ctx, tx, *p.CurrentBatchID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return BatchResult{}, err
		}
		if err == nil {
			prior = &b
		}
	}

	counts := cfg.DefaultCounts
	switch {
	case opts.Counts != nil:
		counts = *opts.Counts
	case trigger == "refresh" && prior != nil && prior.Selection.Total() > 0:
		counts = prior.Selection
	}

	// Supersede whatever is still active so a project never has two.
	active, err := e.Repo.ActiveBatchesTx(ctx, tx, p.ID)
	if err != nil {
		return BatchResult{}, err
	}
	var invalidated []string
	for _, b := range active {
		ids, err := e.Repo.InvalidatePendingTx(ctx, tx, b.ID)
		if err != nil {
			return BatchResult{}, fmt.Errorf("invalidate batch %s: %w", b.ID, err)
		}
		ok, err := e.Repo.TransitionBatchTx(ctx, tx, b.ID, domain.BatchActive, domain.BatchInvalidated, now)
		if err != nil {
			return BatchResult{}, err
		}
		if !ok {
			return BatchResult{}, newError(KindConflict, map[string]any{"batch_id": b.ID}, "batch %s changed concurrently", b.ID)
		}
		for _, id := range ids {
			if err := e.Events.Append(ctx, tx, events.CandidateInvalidated, p.ID, "candidate", id, opts.ActorID,
				events.EventPayload{"batch_id": b.ID, "reason": trigger}); err != nil {
				return BatchResult{}, err
			}
		}
		if err := e.Events.Append(ctx, tx, events.BatchInvalidated, p.ID, "batch", b.ID, opts.ActorID,
			events.EventPayload{"batch_number": b.BatchNumber, "invalidated_candidates": len(ids), "reason": trigger}); err != nil {
			return BatchResult{}, err
		}
		invalidated = append(invalidated, ids...)
	}

	deferred := map[string]bool{}
	if trigger == "refresh" && prior != nil {
		ids, err := e.Repo.BatchDeveloperIDsTx(ctx, tx, prior.ID)
		if err != nil {
			return BatchResult{}, err
		}
		for _, id := range ids {
			deferred[id] = true
		}
	}

	members, err := e.Repo.EligibleMembersTx(ctx, tx, repo.EligibleFilter{
		SkillIDs:       p.SkillIDs,
		ApprovalStatus: domain.ApprovalApproved,
		Availability:   cfg.AvailableStates,
		ExcludeUserID:  p.ClientID,
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("load eligible developers: %w", err)
	}
	cursors, err := e.Repo.CursorsTx(ctx, tx, p.SkillIDs)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load rotation cursors: %w", err)
	}
	sel := rotation.Select(rotation.Input{
		Counts:   counts,
		Pools:    buildPools(p.SkillIDs, members, cursors),
		Deferred: deferred,
	})
	if len(sel.Picks) == 0 {
		return BatchResult{}, newError(KindNoEligibleCandidates, map[string]any{"skills": p.SkillIDs},
			"no eligible developers for project %s", p.ID)
	}

	number, err := e.Repo.NextBatchNumberTx(ctx, tx, p.ID)
	if err != nil {
		return BatchResult{}, err
	}
	batch := domain.AssignmentBatch{
		ID:          uuid.NewString(),
		ProjectID:   p.ID,
		BatchNumber: number,
		Status:      domain.BatchActive,
		Selection:   counts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertBatchTx(ctx, tx, batch); err != nil {
		return BatchResult{}, fmt.Errorf("insert batch: %w", err)
	}
	deadline := now.Add(cfg.AcceptanceWindow)
	candidates := make([]domain.AssignmentCandidate, 0, len(sel.Picks))
	for _, pick := range sel.Picks {
		c := domain.AssignmentCandidate{
			ID:                 uuid.NewString(),
			BatchID:            batch.ID,
			ProjectID:          p.ID,
			DeveloperID:        pick.DeveloperID,
			SkillID:            pick.SkillID,
			Level:              pick.Level,
			SourceLevel:        pick.SourceLevel,
			ResponseStatus:     domain.ResponsePending,
			AssignedAt:         now,
			AcceptanceDeadline: deadline,
			StatusText:         domain.ResponsePending.StatusText(),
		}
		if err := e.Repo.InsertCandidateTx(ctx, tx, c); err != nil {
			return BatchResult{}, fmt.Errorf("insert candidate %s: %w", c.DeveloperID, err)
		}
		candidates = append(candidates, c)
	}
	for _, adv := range sel.Advances {
		if err := e.Repo.AdvanceCursorTx(ctx, tx, adv.SkillID, adv.Level, adv.DeveloperID, now); err != nil {
			return BatchResult{}, fmt.Errorf("advance cursor %s/%s: %w", adv.SkillID, adv.Level, err)
		}
	}
	if err := e.Repo.MarkProjectAssigningTx(ctx, tx, p.ID, batch.ID, now); err != nil {
		return BatchResult{}, err
	}
	if err := e.Events.Append(ctx, tx, events.BatchGenerated, p.ID, "batch", batch.ID, opts.ActorID, events.EventPayload{
		"batch_number": batch.BatchNumber,
		"trigger":      trigger,
		"requested":    counts,
		"selected":     sel.Counts(),
		"shortfall":    sel.Shortfall,
	}); err != nil {
		return BatchResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return BatchResult{}, err
	}

	p.Status = domain.ProjectStatusAssigning
	p.CurrentBatchID = &batch.ID
	p.UpdatedAt = now
	return BatchResult{
		Project:     p,
		Batch:       batch,
		Candidates:  candidates,
		Shortfall:   sel.Shortfall,
		Invalidated: invalidated,
	}, nil
}

// buildPools groups eligible members into one pool per (skill, level) in the
// project's skill order.
func buildPools(skillIDs []string, members []repo.EligibleMember, cursors map[string]map[domain.Level]string) map[domain.Level][]rotation.Pool {
	ids := map[string]map[domain.Level][]string{}
	for _, m := range members {
		if ids[m.SkillID] == nil {
			ids[m.SkillID] = map[domain.Level][]string{}
		}
		ids[m.SkillID][m.Level] = append(ids[m.SkillID][m.Level], m.DeveloperID)
	}
	pools := map[domain.Level][]rotation.Pool{}
	for _, l := range domain.Levels {
		for _, skill := range skillIDs {
			devs := ids[skill][l]
			if len(devs) == 0 {
				continue
			}
			pools[l] = append(pools[l], rotation.Pool{
				SkillID:      skill,
				Level:        l,
				DeveloperIDs: devs,
				Cursor:       cursors[skill][l],
			})
		}
	}
	return pools
}

// ResponseResult is the state after a developer responded to an offer.
type ResponseResult struct {
	Candidate domain.AssignmentCandidate `json:"candidate"`
	Batch     domain.AssignmentBatch     `json:"batch"`
	Project   domain.Project             `json:"project"`
}

// AcceptCandidate records userID's acceptance. The first accept to commit
// wins the project; every later attempt on the same batch fails with a
// typed error.
func (e Engine) AcceptCandidate(ctx context.Context, candidateID, userID string) (ResponseResult, error) {
	var res ResponseResult
	err := e.withRetry(ctx, "accept", ErrAlreadyClaimed, func() error {
		var err error
		res, err = e.accept(ctx, candidateID, userID)
		return err
	})
	if err != nil {
		return ResponseResult{}, e.refused("accept", err, zap.String("candidate_id", candidateID))
	}
	observeResponse(res.Candidate)
	e.log().Info("candidate accepted",
		zap.String("project_id", res.Project.ID),
		zap.String("batch_id", res.Batch.ID),
		zap.String("candidate_id", res.Candidate.ID),
		zap.String("developer_id", res.Candidate.DeveloperID),
	)
	return res, nil
}

// RejectCandidate records userID declining an offer. Declining is allowed
// after the deadline as long as the offer is still pending.
func (e Engine) RejectCandidate(ctx context.Context, candidateID, userID string) (ResponseResult, error) {
	var res ResponseResult
	err := e.withRetry(ctx, "reject", ErrConflict, func() error {
		var err error
		res, err = e.reject(ctx, candidateID, userID)
		return err
	})
	if err != nil {
		return ResponseResult{}, e.refused("reject", err, zap.String("candidate_id", candidateID))
	}
	observeResponse(res.Candidate)
	e.log().Info("candidate rejected",
		zap.String("project_id", res.Candidate.ProjectID),
		zap.String("batch_id", res.Batch.ID),
		zap.String("candidate_id", res.Candidate.ID),
		zap.String("developer_id", res.Candidate.DeveloperID),
	)
	return res, nil
}

func observeResponse(c domain.AssignmentCandidate) {
	metrics.ResponsesTotal.WithLabelValues(string(c.ResponseStatus)).Inc()
	if c.ResponseSeconds != nil {
		metrics.ResponseSeconds.WithLabelValues(string(c.ResponseStatus)).Observe(float64(*c.ResponseSeconds))
	}
}

// respondGuards loads the candidate and its batch and checks ownership,
// batch state and response state, in that order.
func (e Engine) respondGuards(ctx context.Context, tx *sql.Tx, candidateID, userID string) (domain.AssignmentCandidate, domain.AssignmentBatch, error) {
	c, err := e.Repo.GetCandidateTx(ctx, tx, candidateID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return c, domain.AssignmentBatch{}, newError(KindCandidateNotFound, map[string]any{"candidate_id": candidateID},
				"candidate %s not found", candidateID)
		}
		return c, domain.AssignmentBatch{}, err
	}
	dev, err := e.Repo.GetDeveloperTx(ctx, tx, c.DeveloperID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return c, domain.AssignmentBatch{}, err
	}
	if err != nil || userID == "" || dev.UserID != userID {
		return c, domain.AssignmentBatch{}, newError(KindNotYourAssignment, map[string]any{"candidate_id": c.ID},
			"candidate %s is not assigned to you", c.ID)
	}
	b, err := e.Repo.GetBatchTx(ctx, tx, c.BatchID)
	if err != nil {
		return c, b, fmt.Errorf("batch %s: %w", c.BatchID, err)
	}
	if b.Status != domain.BatchActive {
		return c, b, newError(KindBatchNotActive, map[string]any{"batch_id": b.ID, "status": b.Status},
			"batch is %s", b.Status)
	}
	if c.ResponseStatus != domain.ResponsePending {
		return c, b, newError(KindInvalidResponseStatus, map[string]any{"candidate_id": c.ID, "status": c.ResponseStatus},
			"candidate is %s", c.ResponseStatus)
	}
	return c, b, nil
}

func responseSeconds(assigned, responded time.Time) int64 {
	secs := int64(responded.Sub(assigned) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

func (e Engine) accept(ctx context.Context, candidateID, userID string) (ResponseResult, error) {
	cfg := e.cfg().Assignment
	now := e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ResponseResult{}, err
	}
	defer tx.Rollback()

	c, b, err := e.respondGuards(ctx, tx, candidateID, userID)
	if err != nil {
		return ResponseResult{}, err
	}
	if now.After(c.AcceptanceDeadline) {
		return ResponseResult{}, newError(KindDeadlinePassed, map[string]any{"candidate_id": c.ID, "deadline": c.AcceptanceDeadline},
			"acceptance deadline passed at %s", c.AcceptanceDeadline.Format(time.RFC3339))
	}
	if c.IsFirstAccepted {
		return ResponseResult{}, newError(KindInvalidResponseStatus, map[string]any{"candidate_id": c.ID},
			"candidate already accepted")
	}

	secs := responseSeconds(c.AssignedAt, now)
	ok, err := e.Repo.RespondTx(ctx, tx, c.ID, domain.ResponseAccepted, true, now, secs)
	if err != nil {
		return ResponseResult{}, err
	}
	if !ok {
		return ResponseResult{}, newError(KindAlreadyClaimed, map[string]any{"candidate_id": c.ID}, "candidate was answered concurrently")
	}
	// Siblings can no longer win; withdraw their offers.
	siblings, err := e.Repo.InvalidatePendingTx(ctx, tx, b.ID)
	if err != nil {
		return ResponseResult{}, err
	}
	ok, err = e.Repo.TransitionBatchTx(ctx, tx, b.ID, domain.BatchActive, domain.BatchCompleted, now)
	if err != nil {
		return ResponseResult{}, err
	}
	if !ok {
		return ResponseResult{}, newError(KindAlreadyClaimed, map[string]any{"batch_id": b.ID}, "batch %s was claimed by another candidate", b.ID)
	}
	ok, err = e.Repo.ClaimProjectTx(ctx, tx, c.ProjectID, c.DeveloperID, cfg.EligibleProjectStatuses, now)
	if err != nil {
		return ResponseResult{}, err
	}
	if !ok {
		cur, err := e.Repo.GetProjectTx(ctx, tx, c.ProjectID)
		if err != nil {
			return ResponseResult{}, err
		}
		if cur.ContactRevealedDeveloperID == nil && cur.Status != domain.ProjectStatusAccepted {
			return ResponseResult{}, newError(KindProjectNotEligible, map[string]any{"project_id": c.ProjectID, "status": cur.Status},
				"project is %s", cur.Status)
		}
		return ResponseResult{}, newError(KindAlreadyClaimed, map[string]any{"project_id": c.ProjectID}, "project %s already has a developer", c.ProjectID)
	}

	if err := e.Events.Append(ctx, tx, events.CandidateAccepted, c.ProjectID, "candidate", c.ID, userID, events.EventPayload{
		"batch_id":         b.ID,
		"developer_id":     c.DeveloperID,
		"response_seconds": secs,
	}); err != nil {
		return ResponseResult{}, err
	}
	for _, id := range siblings {
		if err := e.Events.Append(ctx, tx, events.CandidateInvalidated, c.ProjectID, "candidate", id, userID,
			events.EventPayload{"batch_id": b.ID, "reason": "project_accepted"}); err != nil {
			return ResponseResult{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.ProjectAccepted, c.ProjectID, "project", c.ProjectID, userID, events.EventPayload{
		"batch_id":     b.ID,
		"candidate_id": c.ID,
		"developer_id": c.DeveloperID,
	}); err != nil {
		return ResponseResult{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, c.ProjectID)
	if err != nil {
		return ResponseResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ResponseResult{}, err
	}

	c.ResponseStatus = domain.ResponseAccepted
	c.IsFirstAccepted = true
	c.RespondedAt = &now
	c.ResponseSeconds = &secs
	c.StatusText = domain.ResponseAccepted.StatusText()
	b.Status = domain.BatchCompleted
	b.UpdatedAt = now
	return ResponseResult{Candidate: c, Batch: b, Project: p}, nil
}

func (e Engine) reject(ctx context.Context, candidateID, userID string) (ResponseResult, error) {
	now := e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ResponseResult{}, err
	}
	defer tx.Rollback()

	c, b, err := e.respondGuards(ctx, tx, candidateID, userID)
	if err != nil {
		return ResponseResult{}, err
	}
	secs := responseSeconds(c.AssignedAt, now)
	ok, err := e.Repo.RespondTx(ctx, tx, c.ID, domain.ResponseRejected, false, now, secs)
	if err != nil {
		return ResponseResult{}, err
	}
	if !ok {
		return ResponseResult{}, newError(KindInvalidResponseStatus, map[string]any{"candidate_id": c.ID}, "candidate was answered concurrently")
	}
	if err := e.Events.Append(ctx, tx, events.CandidateRejected, c.ProjectID, "candidate", c.ID, userID, events.EventPayload{
		"batch_id":         b.ID,
		"developer_id":     c.DeveloperID,
		"response_seconds": secs,
		"late":             now.After(c.AcceptanceDeadline),
	}); err != nil {
		return ResponseResult{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, c.ProjectID)
	if err != nil {
		return ResponseResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ResponseResult{}, err
	}

	c.ResponseStatus = domain.ResponseRejected
	c.RespondedAt = &now
	c.ResponseSeconds = &secs
	c.StatusText = domain.ResponseRejected.StatusText()
	return ResponseResult{Candidate: c, Batch: b, Project: p}, nil
}

// ExpirePendingCandidates marks every pending offer past its deadline as
// expired and returns how many it changed. Offers answered concurrently are
// left to whichever transition committed first.
func (e Engine) ExpirePendingCandidates(ctx context.Context) (int, error) {
	var expired []domain.AssignmentCandidate
	err := e.withRetry(ctx, "expire", ErrConflict, func() error {
		var err error
		expired, err = e.expire(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, c := range expired {
		observeResponse(c)
	}
	if len(expired) > 0 {
		e.log().Info("expired pending candidates", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

func (e Engine) expire(ctx context.Context) ([]domain.AssignmentCandidate, error) {
	now := e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	due, err := e.Repo.DuePendingTx(ctx, tx, now, 0)
	if err != nil {
		return nil, err
	}
	var expired []domain.AssignmentCandidate
	for _, c := range due {
		secs := responseSeconds(c.AssignedAt, now)
		ok, err := e.Repo.RespondTx(ctx, tx, c.ID, domain.ResponseExpired, false, now, secs)
		if err != nil {
			return nil, fmt.Errorf("expire candidate %s: %w", c.ID, err)
		}
		if !ok {
			continue
		}
		if err := e.Events.Append(ctx, tx, events.CandidateExpired, c.ProjectID, "candidate", c.ID, events.SystemActor, events.EventPayload{
			"batch_id":         c.BatchID,
			"developer_id":     c.DeveloperID,
			"deadline":         c.AcceptanceDeadline.Format(time.RFC3339),
			"response_seconds": secs,
		}); err != nil {
			return nil, err
		}
		c.ResponseStatus = domain.ResponseExpired
		c.RespondedAt = &now
		c.ResponseSeconds = &secs
		c.StatusText = domain.ResponseExpired.StatusText()
		expired = append(expired, c)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return expired, nil
}

// BatchView is a project's current batch as the client UI polls it.
type BatchView struct {
	Project    domain.Project               `json:"project"`
	Batch      domain.AssignmentBatch       `json:"batch"`
	Candidates []domain.AssignmentCandidate `json:"candidates"`
}

// CurrentBatch returns the batch the project currently points at.
func (e Engine) CurrentBatch(ctx context.Context, projectID string) (BatchView, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return BatchView{}, fmt.Errorf("project %s: %w", projectID, err)
	}
	if p.CurrentBatchID == nil {
		return BatchView{}, fmt.Errorf("project %s has no batch: %w", projectID, repo.ErrNotFound)
	}
	b, err := e.Repo.GetBatch(ctx, *p.CurrentBatchID)
	if err != nil {
		return BatchView{}, fmt.Errorf("batch %s: %w", *p.CurrentBatchID, err)
	}
	cands, err := e.Repo.ListCandidates(ctx, b.ID)
	if err != nil {
		return BatchView{}, err
	}
	return BatchView{Project: p, Batch: b, Candidates: cands}, nil
}

// CandidatesForDeveloper lists the offers addressed to the developer owned
// by userID, newest first, optionally filtered by response status. A
// positive limit caps the result.
func (e Engine) CandidatesForDeveloper(ctx context.Context, userID, status string, limit int) ([]domain.AssignmentCandidate, error) {
	if userID == "" {
		return nil, newError(KindInvalidInput, nil, "user is required")
	}
	if status != "" {
		switch domain.ResponseStatus(status) {
		case domain.ResponsePending, domain.ResponseAccepted, domain.ResponseRejected, domain.ResponseExpired, domain.ResponseInvalidated:
		default:
			return nil, newError(KindInvalidInput, map[string]any{"status": status}, "unknown response status %s", status)
		}
	}
	return e.Repo.ListCandidatesForUser(ctx, repo.CandidateFilters{UserID: userID, Status: status, Limit: limit})
}
