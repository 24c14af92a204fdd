package server

import (
	"courtline/internal/domain"
)

// Request payloads

type PartyRequest struct {
	Role    string `json:"role" enum:"plaintiff,defendant"`
	Name    string `json:"name"`
	ActorID string `json:"actor_id,omitempty"`
}

type FileCaseRequest struct {
	Materia string         `json:"materia"`
	Venue   string         `json:"venue"`
	Subject string         `json:"subject,omitempty"`
	JudgeID *string        `json:"judge_id,omitempty"`
	Parties []PartyRequest `json:"parties,omitempty"`
}

type TransitionRequest struct {
	TargetState string `json:"target_state" enum:"draft,filed,service_pending,answer_pending,hearing_scheduled,hearing_in_progress,judgment_pending,judgment,closed,suspended"`
}

type RecordAttemptRequest struct {
	Method      string `json:"method" enum:"in_person,electronic,cedula,edict"`
	Outcome     string `json:"outcome" enum:"success,failure"`
	Description string `json:"description,omitempty"`
	EvidenceRef string `json:"evidence_ref,omitempty"`
}

type ScheduleHearingRequest struct {
	Kind        string `json:"kind"`
	ScheduledAt string `json:"scheduled_at" format:"date-time"`
}

type AllocateIdentifierRequest struct {
	Materia string `json:"materia"`
	Venue   string `json:"venue"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"representative,clerk,officer,judge,admin"`
}

// Response payloads

type CaseResponse struct {
	ID        string         `json:"id"`
	CourtID   string         `json:"court_id"`
	Materia   string         `json:"materia"`
	Venue     string         `json:"venue"`
	State     string         `json:"state" enum:"draft,filed,service_pending,answer_pending,hearing_scheduled,hearing_in_progress,judgment_pending,judgment,closed,suspended"`
	Subject   string         `json:"subject,omitempty"`
	JudgeID   *string        `json:"judge_id,omitempty"`
	FiledAt   *string        `json:"filed_at,omitempty" format:"date-time"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
	Parties   []domain.Party `json:"parties,omitempty"`
}

type DeadlineResponse struct {
	ID           string `json:"id"`
	CaseID       string `json:"case_id"`
	Kind         string `json:"kind" enum:"service,answer,judgment"`
	LegalBasis   string `json:"legal_basis,omitempty"`
	StartDate    string `json:"start_date" format:"date"`
	DueDate      string `json:"due_date" format:"date"`
	BusinessDays int    `json:"business_days"`
	Status       string `json:"status" enum:"active,fulfilled,expired"`
	Urgency      string `json:"urgency,omitempty" enum:"critical,urgent,normal"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type CitationResponse struct {
	ID        string                   `json:"id"`
	CaseID    string                   `json:"case_id"`
	PartyID   string                   `json:"party_id"`
	Method    string                   `json:"method" enum:"in_person,electronic,cedula,edict"`
	State     string                   `json:"state" enum:"pending,in_progress,successful,failed"`
	Attempts  []domain.CitationAttempt `json:"attempts,omitempty"`
	CreatedAt string                   `json:"created_at" format:"date-time"`
	UpdatedAt string                   `json:"updated_at" format:"date-time"`
}

type TransitionResponse struct {
	Case      CaseResponse       `json:"case"`
	Deadlines []DeadlineResponse `json:"deadlines,omitempty"`
	Citations []CitationResponse `json:"citations,omitempty"`
}

type AttemptResponse struct {
	Citation      CitationResponse       `json:"citation"`
	Attempt       domain.CitationAttempt `json:"attempt"`
	CaseState     string                 `json:"case_state"`
	EdictRequired bool                   `json:"edict_required"`
}

type HearingResponse struct {
	ID          string `json:"id"`
	CaseID      string `json:"case_id"`
	Kind        string `json:"kind"`
	ScheduledAt string `json:"scheduled_at" format:"date-time"`
	Status      string `json:"status" enum:"scheduled,completed,cancelled"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type HearingResolveResponse struct {
	Hearing   HearingResponse `json:"hearing"`
	CaseState string          `json:"case_state"`
}

type IdentifierResponse struct {
	ID    string `json:"id"`
	Year  int    `json:"year"`
	Code  string `json:"code"`
	Seq   int    `json:"seq"`
	Check int    `json:"check"`
	Valid bool   `json:"valid"`
}

type ComputeDeadlineResponse struct {
	StartDate    string `json:"start_date" format:"date"`
	DueDate      string `json:"due_date" format:"date"`
	BusinessDays int    `json:"business_days"`
	Urgency      string `json:"urgency" enum:"critical,urgent,normal"`
}

type SweepResponse struct {
	Expired int `json:"expired"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CaseID     string `json:"case_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type NotificationResponse struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	CaseID      string `json:"case_id,omitempty"`
	Message     string `json:"message"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Mapping helpers

func caseResponse(c domain.Case) CaseResponse {
	return CaseResponse{
		ID:        c.ID,
		CourtID:   c.CourtID,
		Materia:   c.Materia,
		Venue:     c.Venue,
		State:     c.State,
		Subject:   c.Subject,
		JudgeID:   c.JudgeID,
		FiledAt:   c.FiledAt,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Parties:   c.Parties,
	}
}

func deadlineResponse(d domain.Deadline, urgency string) DeadlineResponse {
	return DeadlineResponse{
		ID:           d.ID,
		CaseID:       d.CaseID,
		Kind:         d.Kind,
		LegalBasis:   d.LegalBasis,
		StartDate:    d.StartDate,
		DueDate:      d.DueDate,
		BusinessDays: d.BusinessDays,
		Status:       d.Status,
		Urgency:      urgency,
		CreatedAt:    d.CreatedAt,
	}
}

func citationResponse(c domain.Citation) CitationResponse {
	return CitationResponse{
		ID:        c.ID,
		CaseID:    c.CaseID,
		PartyID:   c.PartyID,
		Method:    c.Method,
		State:     c.State,
		Attempts:  c.Attempts,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func hearingResponse(h domain.Hearing) HearingResponse {
	return HearingResponse{
		ID:          h.ID,
		CaseID:      h.CaseID,
		Kind:        h.Kind,
		ScheduledAt: h.ScheduledAt,
		Status:      h.Status,
		CreatedAt:   h.CreatedAt,
		UpdatedAt:   h.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		CaseID:     e.CaseID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		CaseID:      n.CaseID,
		Message:     n.Message,
		CreatedAt:   n.CreatedAt,
	}
}

func mapCases(items []domain.Case) []CaseResponse {
	out := make([]CaseResponse, 0, len(items))
	for _, c := range items {
		out = append(out, caseResponse(c))
	}
	return out
}

func mapCitations(items []domain.Citation) []CitationResponse {
	out := make([]CitationResponse, 0, len(items))
	for _, c := range items {
		out = append(out, citationResponse(c))
	}
	return out
}

func mapHearings(items []domain.Hearing) []HearingResponse {
	out := make([]HearingResponse, 0, len(items))
	for _, h := range items {
		out = append(out, hearingResponse(h))
	}
	return out
}
