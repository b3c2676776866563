package domain

import "time"

// Level is a developer experience tier.
type Level string

const (
	LevelExpert  Level = "expert"
	LevelMid     Level = "mid"
	LevelFresher Level = "fresher"
)

// Levels lists tiers from most to least senior. Fallback promotion walks
// this order downwards.
var Levels = []Level{LevelExpert, LevelMid, LevelFresher}

func (l Level) IsValid() bool {
	switch l {
	case LevelExpert, LevelMid, LevelFresher:
		return true
	}
	return false
}

const (
	ProjectStatusSubmitted = "submitted"
	ProjectStatusAssigning = "assigning"
	ProjectStatusAccepted  = "accepted"
	ProjectStatusCompleted = "completed"
	ProjectStatusCancelled = "cancelled"
)

const (
	ApprovalApproved = "approved"
	ApprovalPending  = "pending"
	ApprovalRejected = "rejected"
)

const (
	AvailabilityAvailable = "available"
	AvailabilityChecking  = "checking"
	AvailabilityBusy      = "busy"
	AvailabilityOffline   = "offline"
)

// BatchStatus is the lifecycle state of an AssignmentBatch.
type BatchStatus string

const (
	BatchActive      BatchStatus = "active"
	BatchCompleted   BatchStatus = "completed"
	BatchInvalidated BatchStatus = "invalidated"
)

// ResponseStatus is the lifecycle state of an AssignmentCandidate.
type ResponseStatus string

const (
	ResponsePending     ResponseStatus = "pending"
	ResponseAccepted    ResponseStatus = "accepted"
	ResponseRejected    ResponseStatus = "rejected"
	ResponseExpired     ResponseStatus = "expired"
	ResponseInvalidated ResponseStatus = "invalidated"
)

// StatusText is the client-facing wording for a response status.
func (s ResponseStatus) StatusText() string {
	switch s {
	case ResponsePending:
		return "Awaiting developer response"
	case ResponseAccepted:
		return "Developer accepted"
	case ResponseRejected:
		return "Developer declined"
	case ResponseExpired:
		return "Offer expired"
	case ResponseInvalidated:
		return "Offer withdrawn"
	}
	return string(s)
}

// LevelCounts is the requested number of candidates per level.
type LevelCounts struct {
	Expert  int `json:"expert" yaml:"expert"`
	Mid     int `json:"mid" yaml:"mid"`
	Fresher int `json:"fresher" yaml:"fresher"`
}

func (c LevelCounts) Get(l Level) int {
	switch l {
	case LevelExpert:
		return c.Expert
	case LevelMid:
		return c.Mid
	case LevelFresher:
		return c.Fresher
	}
	return 0
}

func (c *LevelCounts) Add(l Level, n int) {
	switch l {
	case LevelExpert:
		c.Expert += n
	case LevelMid:
		c.Mid += n
	case LevelFresher:
		c.Fresher += n
	}
}

func (c LevelCounts) Total() int {
	return c.Expert + c.Mid + c.Fresher
}

type Skill struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Developer is the directory's view of a freelancer. The engine only reads it.
type Developer struct {
	ID             string         `json:"id" yaml:"id"`
	UserID         string         `json:"user_id" yaml:"user_id"`
	Name           string         `json:"name,omitempty" yaml:"name"`
	Level          Level          `json:"level" yaml:"level"`
	ApprovalStatus string         `json:"approval_status" yaml:"approval_status"`
	Availability   string         `json:"availability" yaml:"availability"`
	SkillYears     map[string]int `json:"skill_years,omitempty" yaml:"skill_years"`
}

type Project struct {
	ID                         string    `json:"id"`
	ClientID                   string    `json:"client_id"`
	Title                      string    `json:"title,omitempty"`
	Status                     string    `json:"status"`
	SkillIDs                   []string  `json:"skill_ids"`
	CurrentBatchID             *string   `json:"current_batch_id,omitempty"`
	ContactRevealEnabled       bool      `json:"contact_reveal_enabled"`
	ContactRevealedDeveloperID *string   `json:"contact_revealed_developer_id,omitempty"`
	CreatedAt                  time.Time `json:"created_at" format:"date-time"`
	UpdatedAt                  time.Time `json:"updated_at" format:"date-time"`
}

// AssignmentBatch is one generation round of offers for a project.
type AssignmentBatch struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id"`
	BatchNumber int         `json:"batch_number"`
	Status      BatchStatus `json:"status" enum:"active,completed,invalidated"`
	Selection   LevelCounts `json:"selection"`
	CreatedAt   time.Time   `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time   `json:"updated_at" format:"date-time"`
}

// AssignmentCandidate is one offer to one developer within a batch.
// Level is the slot the developer fills after fallback; SourceLevel is the
// developer's own tier.
type AssignmentCandidate struct {
	ID                 string         `json:"id"`
	BatchID            string         `json:"batch_id"`
	ProjectID          string         `json:"project_id"`
	DeveloperID        string         `json:"developer_id"`
	SkillID            string         `json:"skill_id"`
	Level              Level          `json:"level"`
	SourceLevel        Level          `json:"source_level"`
	ResponseStatus     ResponseStatus `json:"response_status" enum:"pending,accepted,rejected,expired,invalidated"`
	AssignedAt         time.Time      `json:"assigned_at" format:"date-time"`
	AcceptanceDeadline time.Time      `json:"acceptance_deadline" format:"date-time"`
	RespondedAt        *time.Time     `json:"responded_at,omitempty" format:"date-time"`
	IsFirstAccepted    bool           `json:"is_first_accepted"`
	ResponseSeconds    *int64         `json:"response_seconds,omitempty"`
	StatusText         string         `json:"status_text"`
}

func (c AssignmentCandidate) Promoted() bool {
	return c.Level != c.SourceLevel
}

// RotationCursor marks the last developer offered a slot for (SkillID, Level).
type RotationCursor struct {
	SkillID         string    `json:"skill_id"`
	Level           Level     `json:"level"`
	LastDeveloperID string    `json:"last_developer_id"`
	UpdatedAt       time.Time `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
