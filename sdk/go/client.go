package devmatchsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal devmatch HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// UserID is sent as X-User-Id when no bearer token is set. Servers only
	// honour it with legacy header auth enabled.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

type LevelCounts struct {
	Expert  int `json:"expert"`
	Mid     int `json:"mid"`
	Fresher int `json:"fresher"`
}

type Project struct {
	ID                         string   `json:"id"`
	ClientID                   string   `json:"client_id"`
	Title                      string   `json:"title,omitempty"`
	Status                     string   `json:"status"`
	SkillIDs                   []string `json:"skill_ids"`
	CurrentBatchID             *string  `json:"current_batch_id,omitempty"`
	ContactRevealEnabled       bool     `json:"contact_reveal_enabled"`
	ContactRevealedDeveloperID *string  `json:"contact_revealed_developer_id,omitempty"`
	UpdatedAt                  string   `json:"updated_at"`
}

type Batch struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id"`
	BatchNumber int         `json:"batch_number"`
	Status      string      `json:"status"`
	Selection   LevelCounts `json:"selection"`
	CreatedAt   string      `json:"created_at"`
	UpdatedAt   string      `json:"updated_at"`
}

// Candidate is one offer to one developer.
type Candidate struct {
	ID                 string  `json:"id"`
	BatchID            string  `json:"batch_id"`
	ProjectID          string  `json:"project_id"`
	DeveloperID        string  `json:"developer_id"`
	SkillID            string  `json:"skill_id"`
	Level              string  `json:"level"`
	SourceLevel        string  `json:"source_level"`
	ResponseStatus     string  `json:"response_status"`
	StatusText         string  `json:"status_text"`
	AssignedAt         string  `json:"assigned_at"`
	AcceptanceDeadline string  `json:"acceptance_deadline"`
	RespondedAt        *string `json:"responded_at,omitempty"`
	IsFirstAccepted    bool    `json:"is_first_accepted"`
	ResponseSeconds    *int64  `json:"response_seconds,omitempty"`
}

type BatchResult struct {
	Project     Project     `json:"project"`
	Batch       Batch       `json:"batch"`
	Candidates  []Candidate `json:"candidates"`
	Shortfall   LevelCounts `json:"shortfall"`
	Invalidated []string    `json:"invalidated,omitempty"`
}

type BatchView struct {
	Project    Project     `json:"project"`
	Batch      Batch       `json:"batch"`
	Candidates []Candidate `json:"candidates"`
}

type CandidateResult struct {
	Candidate Candidate `json:"candidate"`
	Batch     Batch     `json:"batch"`
	Project   Project   `json:"project"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code carries the error envelope's code
// when the body has one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether the server asked the caller to try again.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// GenerateBatch requests a new batch. Nil counts use the server defaults.
func (c *Client) GenerateBatch(ctx context.Context, projectID string, counts *LevelCounts) (BatchResult, error) {
	var resp BatchResult
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "batches"), countsBody(counts), &resp)
	return resp, err
}

// RefreshBatch replaces the current batch. Nil counts reuse the previous selection.
func (c *Client) RefreshBatch(ctx context.Context, projectID string, counts *LevelCounts) (BatchResult, error) {
	var resp BatchResult
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "batches/refresh"), countsBody(counts), &resp)
	return resp, err
}

func (c *Client) CurrentBatch(ctx context.Context, projectID string) (BatchView, error) {
	var resp BatchView
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "batches/current"), nil, &resp)
	return resp, err
}

func (c *Client) Accept(ctx context.Context, candidateID string) (CandidateResult, error) {
	var resp CandidateResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("candidates/%s/accept", url.PathEscape(candidateID)), nil, &resp)
	return resp, err
}

func (c *Client) Reject(ctx context.Context, candidateID string) (CandidateResult, error) {
	var resp CandidateResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("candidates/%s/reject", url.PathEscape(candidateID)), nil, &resp)
	return resp, err
}

// MyOffers lists offers addressed to the authenticated developer.
func (c *Client) MyOffers(ctx context.Context, status string) ([]Candidate, error) {
	endpoint := "me/offers"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Candidate
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ExpireDue runs one expiry sweep. Requires the admin role.
func (c *Client) ExpireDue(ctx context.Context) (int, error) {
	var resp struct {
		Expired int `json:"expired"`
	}
	err := c.do(ctx, http.MethodPost, "maintenance/expire", nil, &resp)
	return resp.Expired, err
}

// Events returns the project's recent events, newest first.
func (c *Client) Events(ctx context.Context, projectID, eventType string, limit int) ([]Event, error) {
	q := url.Values{}
	if eventType != "" {
		q.Set("type", eventType)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := c.projectPath(projectID, "events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func countsBody(counts *LevelCounts) any {
	if counts == nil {
		return nil
	}
	return counts
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(projectID, p string) string {
	return fmt.Sprintf("projects/%s/%s", url.PathEscape(projectID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath != "" {
		base += "/" + strings.Trim(c.BasePath, "/")
	}
	return base
}
