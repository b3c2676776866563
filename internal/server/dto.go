package server

import (
	"encoding/json"
	"time"

	"devmatch/internal/domain"
	"devmatch/internal/engine"
)

// Request payloads

// LevelCountsRequest is the per-level slot request. Levels left out ask for
// no candidates at that level.
type LevelCountsRequest struct {
	Expert  int `json:"expert" minimum:"0" required:"false"`
	Mid     int `json:"mid" minimum:"0" required:"false"`
	Fresher int `json:"fresher" minimum:"0" required:"false"`
}

func (r LevelCountsRequest) counts() *domain.LevelCounts {
	return &domain.LevelCounts{Expert: r.Expert, Mid: r.Mid, Fresher: r.Fresher}
}

// Response payloads

type ProjectResponse struct {
	ID                         string   `json:"id"`
	ClientID                   string   `json:"client_id"`
	Title                      string   `json:"title,omitempty"`
	Status                     string   `json:"status" enum:"submitted,assigning,accepted,completed,cancelled"`
	SkillIDs                   []string `json:"skill_ids"`
	CurrentBatchID             *string  `json:"current_batch_id,omitempty"`
	ContactRevealEnabled       bool     `json:"contact_reveal_enabled"`
	ContactRevealedDeveloperID *string  `json:"contact_revealed_developer_id,omitempty"`
	UpdatedAt                  string   `json:"updated_at" format:"date-time"`
}

type BatchResponse struct {
	ID          string             `json:"id"`
	ProjectID   string             `json:"project_id"`
	BatchNumber int                `json:"batch_number"`
	Status      string             `json:"status" enum:"active,completed,invalidated"`
	Selection   LevelCountsRequest `json:"selection"`
	CreatedAt   string             `json:"created_at" format:"date-time"`
	UpdatedAt   string             `json:"updated_at" format:"date-time"`
}

type CandidateResponse struct {
	ID                 string  `json:"id"`
	BatchID            string  `json:"batch_id"`
	ProjectID          string  `json:"project_id"`
	DeveloperID        string  `json:"developer_id"`
	SkillID            string  `json:"skill_id"`
	Level              string  `json:"level" enum:"expert,mid,fresher"`
	SourceLevel        string  `json:"source_level" enum:"expert,mid,fresher"`
	ResponseStatus     string  `json:"response_status" enum:"pending,accepted,rejected,expired,invalidated"`
	StatusText         string  `json:"status_text"`
	AssignedAt         string  `json:"assigned_at" format:"date-time"`
	AcceptanceDeadline string  `json:"acceptance_deadline" format:"date-time"`
	RespondedAt        *string `json:"responded_at,omitempty" format:"date-time"`
	IsFirstAccepted    bool    `json:"is_first_accepted"`
	ResponseSeconds    *int64  `json:"response_seconds,omitempty"`
}

type BatchResultResponse struct {
	Project     ProjectResponse     `json:"project"`
	Batch       BatchResponse       `json:"batch"`
	Candidates  []CandidateResponse `json:"candidates"`
	Shortfall   LevelCountsRequest  `json:"shortfall"`
	Invalidated []string            `json:"invalidated,omitempty"`
}

type BatchViewResponse struct {
	Project    ProjectResponse     `json:"project"`
	Batch      BatchResponse       `json:"batch"`
	Candidates []CandidateResponse `json:"candidates"`
}

type CandidateResultResponse struct {
	Candidate CandidateResponse `json:"candidate"`
	Batch     BatchResponse     `json:"batch"`
	Project   ProjectResponse   `json:"project"`
}

type ExpireResponse struct {
	Expired int `json:"expired"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// Conversion helpers

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func countsResponse(c domain.LevelCounts) LevelCountsRequest {
	return LevelCountsRequest{Expert: c.Expert, Mid: c.Mid, Fresher: c.Fresher}
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:                         p.ID,
		ClientID:                   p.ClientID,
		Title:                      p.Title,
		Status:                     p.Status,
		SkillIDs:                   nonNilSlice(p.SkillIDs),
		CurrentBatchID:             p.CurrentBatchID,
		ContactRevealEnabled:       p.ContactRevealEnabled,
		ContactRevealedDeveloperID: p.ContactRevealedDeveloperID,
		UpdatedAt:                  formatTime(p.UpdatedAt),
	}
}

func batchResponse(b domain.AssignmentBatch) BatchResponse {
	return BatchResponse{
		ID:          b.ID,
		ProjectID:   b.ProjectID,
		BatchNumber: b.BatchNumber,
		Status:      string(b.Status),
		Selection:   countsResponse(b.Selection),
		CreatedAt:   formatTime(b.CreatedAt),
		UpdatedAt:   formatTime(b.UpdatedAt),
	}
}

func candidateResponse(c domain.AssignmentCandidate) CandidateResponse {
	res := CandidateResponse{
		ID:                 c.ID,
		BatchID:            c.BatchID,
		ProjectID:          c.ProjectID,
		DeveloperID:        c.DeveloperID,
		SkillID:            c.SkillID,
		Level:              string(c.Level),
		SourceLevel:        string(c.SourceLevel),
		ResponseStatus:     string(c.ResponseStatus),
		StatusText:         c.StatusText,
		AssignedAt:         formatTime(c.AssignedAt),
		AcceptanceDeadline: formatTime(c.AcceptanceDeadline),
		IsFirstAccepted:    c.IsFirstAccepted,
		ResponseSeconds:    c.ResponseSeconds,
	}
	if c.RespondedAt != nil {
		s := formatTime(*c.RespondedAt)
		res.RespondedAt = &s
	}
	return res
}

func candidateResponses(items []domain.AssignmentCandidate) []CandidateResponse {
	out := make([]CandidateResponse, 0, len(items))
	for _, c := range items {
		out = append(out, candidateResponse(c))
	}
	return out
}

func batchResultResponse(r engine.BatchResult) BatchResultResponse {
	return BatchResultResponse{
		Project:     projectResponse(r.Project),
		Batch:       batchResponse(r.Batch),
		Candidates:  candidateResponses(r.Candidates),
		Shortfall:   countsResponse(r.Shortfall),
		Invalidated: r.Invalidated,
	}
}

func candidateResultResponse(r engine.ResponseResult) CandidateResultResponse {
	return CandidateResultResponse{
		Candidate: candidateResponse(r.Candidate),
		Batch:     batchResponse(r.Batch),
		Project:   projectResponse(r.Project),
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
