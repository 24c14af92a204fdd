package domain

// Case states. Terminal cases are retained for audit; cases are never hard-deleted.
const (
	StateDraft             = "draft"
	StateFiled             = "filed"
	StateServicePending    = "service_pending"
	StateAnswerPending     = "answer_pending"
	StateHearingScheduled  = "hearing_scheduled"
	StateHearingInProgress = "hearing_in_progress"
	StateJudgmentPending   = "judgment_pending"
	StateJudgment          = "judgment"
	StateClosed            = "closed"
	StateSuspended         = "suspended"
)

// Deadline kinds and statuses.
const (
	DeadlineService  = "service"
	DeadlineAnswer   = "answer"
	DeadlineJudgment = "judgment"

	DeadlineActive    = "active"
	DeadlineFulfilled = "fulfilled"
	DeadlineExpired   = "expired"
)

// Citation aggregate states, attempt outcomes and service methods.
const (
	CitationPending    = "pending"
	CitationInProgress = "in_progress"
	CitationSuccessful = "successful"
	CitationFailed     = "failed"

	AttemptSuccess = "success"
	AttemptFailure = "failure"

	MethodInPerson   = "in_person"
	MethodElectronic = "electronic"
	MethodCedula     = "cedula"
	MethodEdict      = "edict"
)

// Party roles within a case.
const (
	PartyPlaintiff = "plaintiff"
	PartyDefendant = "defendant"
)

// Hearing statuses.
const (
	HearingScheduled = "scheduled"
	HearingCompleted = "completed"
	HearingCancelled = "cancelled"
)

type Case struct {
	ID        string  `json:"id"`
	CourtID   string  `json:"court_id"`
	Materia   string  `json:"materia"`
	Venue     string  `json:"venue"`
	State     string  `json:"state" enum:"draft,filed,service_pending,answer_pending,hearing_scheduled,hearing_in_progress,judgment_pending,judgment,closed,suspended"`
	Subject   string  `json:"subject"`
	JudgeID   *string `json:"judge_id,omitempty"`
	FiledAt   *string `json:"filed_at,omitempty" format:"date-time"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
	Parties   []Party `json:"parties,omitempty"`
}

type Party struct {
	ID      string `json:"id"`
	CaseID  string `json:"case_id"`
	Role    string `json:"role" enum:"plaintiff,defendant"`
	Name    string `json:"name"`
	ActorID string `json:"actor_id,omitempty"`
}

type Deadline struct {
	ID           string `json:"id"`
	CaseID       string `json:"case_id"`
	Kind         string `json:"kind" enum:"service,answer,judgment"`
	LegalBasis   string `json:"legal_basis,omitempty"`
	StartDate    string `json:"start_date" format:"date"`
	DueDate      string `json:"due_date" format:"date"`
	BusinessDays int    `json:"business_days"`
	Status       string `json:"status" enum:"active,fulfilled,expired"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Citation struct {
	ID        string            `json:"id"`
	CaseID    string            `json:"case_id"`
	PartyID   string            `json:"party_id"`
	Method    string            `json:"method" enum:"in_person,electronic,cedula,edict"`
	State     string            `json:"state" enum:"pending,in_progress,successful,failed"`
	Attempts  []CitationAttempt `json:"attempts,omitempty"`
	CreatedAt string            `json:"created_at" format:"date-time"`
	UpdatedAt string            `json:"updated_at" format:"date-time"`
}

// CitationAttempt rows are append-only and ordered by Seq. The citation's
// aggregate state is always recomputable from its attempt list alone.
type CitationAttempt struct {
	ID          string  `json:"id"`
	CitationID  string  `json:"citation_id"`
	Seq         int     `json:"seq"`
	Method      string  `json:"method" enum:"in_person,electronic,cedula,edict"`
	Outcome     string  `json:"outcome" enum:"success,failure"`
	Description string  `json:"description,omitempty"`
	EvidenceRef *string `json:"evidence_ref,omitempty"`
	OfficerID   string  `json:"officer_id"`
	TS          string  `json:"ts" format:"date-time"`
}

type Hearing struct {
	ID          string `json:"id"`
	CaseID      string `json:"case_id"`
	Kind        string `json:"kind"`
	ScheduledAt string `json:"scheduled_at" format:"date-time"`
	Status      string `json:"status" enum:"scheduled,completed,cancelled"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Notification struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	CaseID      string `json:"case_id,omitempty"`
	Message     string `json:"message"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CaseID     string `json:"case_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
