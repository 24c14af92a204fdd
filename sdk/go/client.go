package courtlinesdk

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

// Client is a minimal Courtline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Party is one participant on a case.
type Party struct {
	ID      string `json:"id"`
	CaseID  string `json:"case_id"`
	Role    string `json:"role"`
	Name    string `json:"name"`
	ActorID string `json:"actor_id,omitempty"`
}

// Case represents the API case model.
type Case struct {
	ID        string  `json:"id"`
	CourtID   string  `json:"court_id"`
	Materia   string  `json:"materia"`
	Venue     string  `json:"venue"`
	State     string  `json:"state"`
	Subject   string  `json:"subject,omitempty"`
	FiledAt   *string `json:"filed_at,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	Parties   []Party `json:"parties,omitempty"`
}

// Deadline is a statutory period counted in business days.
type Deadline struct {
	ID           string `json:"id"`
	CaseID       string `json:"case_id"`
	Kind         string `json:"kind"`
	LegalBasis   string `json:"legal_basis,omitempty"`
	StartDate    string `json:"start_date"`
	DueDate      string `json:"due_date"`
	BusinessDays int    `json:"business_days"`
	Status       string `json:"status"`
	Urgency      string `json:"urgency,omitempty"`
}

// CitationAttempt is one recorded service attempt.
type CitationAttempt struct {
	ID          string `json:"id"`
	CitationID  string `json:"citation_id"`
	Seq         int    `json:"seq"`
	Method      string `json:"method"`
	Outcome     string `json:"outcome"`
	Description string `json:"description,omitempty"`
	OfficerID   string `json:"officer_id"`
	TS          string `json:"ts"`
}

// Citation is a service-of-process workflow for one party.
type Citation struct {
	ID       string            `json:"id"`
	CaseID   string            `json:"case_id"`
	PartyID  string            `json:"party_id"`
	Method   string            `json:"method"`
	State    string            `json:"state"`
	Attempts []CitationAttempt `json:"attempts,omitempty"`
}

// Transition reports an applied state change and its side effects.
type Transition struct {
	Case      Case       `json:"case"`
	Deadlines []Deadline `json:"deadlines,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

// AttemptResult reports a recorded attempt and the owning case state.
type AttemptResult struct {
	Citation      Citation        `json:"citation"`
	Attempt       CitationAttempt `json:"attempt"`
	CaseState     string          `json:"case_state"`
	EdictRequired bool            `json:"edict_required"`
}

// Hearing represents a scheduled court hearing.
type Hearing struct {
	ID          string `json:"id"`
	CaseID      string `json:"case_id"`
	Kind        string `json:"kind"`
	ScheduledAt string `json:"scheduled_at"`
	Status      string `json:"status"`
}

// Identifier is a parsed case identifier with checksum verdict.
type Identifier struct {
	ID    string `json:"id"`
	Year  int    `json:"year"`
	Code  string `json:"code"`
	Seq   int    `json:"seq"`
	Check int    `json:"check"`
	Valid bool   `json:"valid"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	CaseID     string `json:"case_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// FileCase opens a draft case.
func (c *Client) FileCase(ctx context.Context, materia, venue, subject string, parties []Party) (Case, error) {
	body := map[string]any{
		"materia": materia,
		"venue":   venue,
		"subject": subject,
		"parties": parties,
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, "v0/cases", body, &resp)
	return resp, err
}

// GetCase fetches one case with its parties.
func (c *Client) GetCase(ctx context.Context, caseID string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, casePath(caseID, ""), nil, &resp)
	return resp, err
}

// Transition requests a case state change.
func (c *Client) Transition(ctx context.Context, caseID, targetState string) (Transition, error) {
	body := map[string]any{"target_state": targetState}
	var resp Transition
	err := c.do(ctx, http.MethodPost, casePath(caseID, "transition"), body, &resp)
	return resp, err
}

// Deadlines lists a case's deadlines with urgency classification.
func (c *Client) Deadlines(ctx context.Context, caseID string) ([]Deadline, error) {
	var resp []Deadline
	err := c.do(ctx, http.MethodGet, casePath(caseID, "deadlines"), nil, &resp)
	return resp, err
}

// Citations lists a case's citations with their attempt logs.
func (c *Client) Citations(ctx context.Context, caseID string) ([]Citation, error) {
	var resp []Citation
	err := c.do(ctx, http.MethodGet, casePath(caseID, "citations"), nil, &resp)
	return resp, err
}

// RecordAttempt appends a service attempt to a citation.
func (c *Client) RecordAttempt(ctx context.Context, citationID, method, outcome, description string) (AttemptResult, error) {
	body := map[string]any{
		"method":      method,
		"outcome":     outcome,
		"description": description,
	}
	var resp AttemptResult
	err := c.do(ctx, http.MethodPost, "v0/citations/"+url.PathEscape(citationID)+"/attempts", body, &resp)
	return resp, err
}

// OrderEdict opens publication-based service for an exhausted citation.
func (c *Client) OrderEdict(ctx context.Context, citationID string) (Citation, error) {
	var resp Citation
	err := c.do(ctx, http.MethodPost, "v0/citations/"+url.PathEscape(citationID)+"/edict", nil, &resp)
	return resp, err
}

// ScheduleHearing schedules a hearing on a case.
func (c *Client) ScheduleHearing(ctx context.Context, caseID, kind string, at time.Time) (Hearing, error) {
	body := map[string]any{
		"kind":         kind,
		"scheduled_at": at.UTC().Format(time.RFC3339),
	}
	var resp Hearing
	err := c.do(ctx, http.MethodPost, casePath(caseID, "hearings"), body, &resp)
	return resp, err
}

// CompleteHearing marks a hearing completed.
func (c *Client) CompleteHearing(ctx context.Context, hearingID string) error {
	return c.do(ctx, http.MethodPost, "v0/hearings/"+url.PathEscape(hearingID)+"/complete", nil, nil)
}

// AllocateIdentifier consumes a sequence number and returns the identifier.
func (c *Client) AllocateIdentifier(ctx context.Context, materia, venue string) (Identifier, error) {
	body := map[string]any{"materia": materia, "venue": venue}
	var resp Identifier
	err := c.do(ctx, http.MethodPost, "v0/identifiers", body, &resp)
	return resp, err
}

// ValidateIdentifier parses an identifier and checks its mod-11 checksum.
func (c *Client) ValidateIdentifier(ctx context.Context, id string) (Identifier, error) {
	var resp Identifier
	err := c.do(ctx, http.MethodGet, "v0/identifiers/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Events lists recent events of a case.
func (c *Client) Events(ctx context.Context, caseID string, limit int) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, casePath(caseID, fmt.Sprintf("events?limit=%d", limit)), nil, &resp)
	return resp, err
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
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func casePath(caseID, p string) string {
	base := "v0/cases/" + url.PathEscape(caseID)
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
