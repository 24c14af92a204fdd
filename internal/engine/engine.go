package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"courtline/internal/calendar"
	"courtline/internal/caseid"
	"courtline/internal/config"
	"courtline/internal/domain"
	"courtline/internal/engine/auth"
	"courtline/internal/events"
	"courtline/internal/repo"
)

const dateLayout = "2006-01-02"

// Legal basis citations attached to engine-created deadlines.
const (
	basisService  = "Ley 439 Art. 119 (citacion)"
	basisAnswer   = "Ley 439 Art. 125 (contestacion)"
	basisJudgment = "Ley 439 Art. 216 (sentencia)"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Calendar *calendar.Calendar
	Codes    caseid.Codes
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	cal, err := calendar.New(cfg)
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Calendar: cal,
		Codes:    caseid.Codes{Materia: cfg.Codes.Materia, Venue: cfg.Codes.Venue},
		Now:      time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// PartyInput describes one party on a new case.
type PartyInput struct {
	Role    string
	Name    string
	ActorID string
}

// CaseCreateOptions are parameters for opening a draft case.
type CaseCreateOptions struct {
	Materia string
	Venue   string
	Subject string
	JudgeID string
	Parties []PartyInput
	ActorID string
	Role    string
}

// CreateCase opens a draft case, allocating its structured identifier inside
// the same transaction so the sequence counter and the case row commit or
// roll back together.
func (e Engine) CreateCase(ctx context.Context, opts CaseCreateOptions) (domain.Case, error) {
	if e.Config == nil {
		return domain.Case{}, errors.New("config not loaded")
	}
	if !auth.CanFileCase(opts.Role) {
		return domain.Case{}, auth.ForbiddenActionError{Role: opts.Role, Action: "create case"}
	}
	if opts.Materia == "" {
		return domain.Case{}, ValidationError{Reason: "materia is required"}
	}
	if opts.Venue == "" {
		return domain.Case{}, ValidationError{Reason: "venue is required"}
	}
	for _, p := range opts.Parties {
		if p.Role != domain.PartyPlaintiff && p.Role != domain.PartyDefendant {
			return domain.Case{}, ValidationError{Reason: fmt.Sprintf("unknown party role %q", p.Role)}
		}
		if p.Name == "" {
			return domain.Case{}, ValidationError{Reason: "party name is required"}
		}
	}

	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	year := now.Year()
	code := e.Codes.Compose(opts.Materia, opts.Venue)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, StorageUnavailableError{Op: "create case", Err: err}
	}
	defer tx.Rollback()

	seq, err := e.Repo.NextSequence(ctx, tx, year, code)
	if err != nil {
		return domain.Case{}, err
	}
	id := caseid.New(year, code, seq)

	c := domain.Case{
		ID:        id.String(),
		CourtID:   e.Config.Court.ID,
		Materia:   opts.Materia,
		Venue:     opts.Venue,
		State:     domain.StateDraft,
		Subject:   opts.Subject,
		CreatedAt: nowStr,
		UpdatedAt: nowStr,
	}
	if opts.JudgeID != "" {
		c.JudgeID = &opts.JudgeID
	}
	if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}
	for _, p := range opts.Parties {
		party := domain.Party{
			ID:      uuid.New().String(),
			CaseID:  c.ID,
			Role:    p.Role,
			Name:    p.Name,
			ActorID: p.ActorID,
		}
		if err := e.Repo.InsertParty(ctx, tx, party); err != nil {
			return domain.Case{}, fmt.Errorf("insert party: %w", err)
		}
		c.Parties = append(c.Parties, party)
	}
	if err := e.Repo.EnsureActor(ctx, tx, opts.ActorID, nowStr); err != nil {
		return domain.Case{}, err
	}
	if err := e.Events.Append(ctx, tx, "case.created", c.ID, "case", c.ID, opts.ActorID, events.EventPayload{
		"materia": c.Materia,
		"venue":   c.Venue,
		"state":   c.State,
	}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, StorageUnavailableError{Op: "create case", Err: err}
	}
	return c, nil
}

// TransitionResult reports the applied transition and its side effects.
type TransitionResult struct {
	Case      domain.Case       `json:"case"`
	Deadlines []domain.Deadline `json:"deadlines,omitempty"`
	Citations []domain.Citation `json:"citations,omitempty"`
}

// RequestTransition moves a case to targetState on behalf of a caller. The
// transition either fully applies, with every mandated side effect committed
// in the same transaction, or fully fails with no partial mutation.
func (e Engine) RequestTransition(ctx context.Context, caseID, targetState, actorID, role string) (TransitionResult, error) {
	if e.Config == nil {
		return TransitionResult{}, errors.New("config not loaded")
	}
	if role == auth.RoleSystem {
		// system is reserved for engine-driven transitions; a caller
		// presenting it is lying
		return TransitionResult{}, auth.ForbiddenActionError{Role: role, Action: "impersonate the engine"}
	}
	if !auth.KnownState(targetState) {
		return TransitionResult{}, ValidationError{Reason: fmt.Sprintf("unknown state %q", targetState)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, StorageUnavailableError{Op: "transition", Err: err}
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return TransitionResult{}, err
	}
	res, err := e.transitionLocked(ctx, tx, c, targetState, actorID, role)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{}, StorageUnavailableError{Op: "transition", Err: err}
	}
	return res, nil
}

// transitionLocked applies one transition inside an open transaction. It is
// the single path for both caller-requested and engine-driven transitions.
func (e Engine) transitionLocked(ctx context.Context, tx *sql.Tx, c domain.Case, targetState, actorID, role string) (TransitionResult, error) {
	if targetState == c.State || !auth.EdgeExists(c.State, targetState) {
		return TransitionResult{}, IllegalTransitionError{From: c.State, To: targetState}
	}
	if !auth.CanTransition(role, c.State, targetState) {
		return TransitionResult{}, auth.ForbiddenTransitionError{Role: role, From: c.State, To: targetState}
	}

	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	res := TransitionResult{}
	var filedAt *string

	switch {
	case c.State == domain.StateDraft && targetState == domain.StateFiled:
		filedAt = &nowStr
		d, err := e.createDeadline(ctx, tx, c.ID, domain.DeadlineService, basisService, now, e.Config.Periods.ServiceDays, actorID)
		if err != nil {
			return res, err
		}
		res.Deadlines = append(res.Deadlines, d)
		if err := e.notifyParties(ctx, tx, c.ID, fmt.Sprintf("case %s has been filed", c.ID), nowStr); err != nil {
			return res, err
		}

	case c.State == domain.StateFiled && targetState == domain.StateServicePending:
		parties, err := e.Repo.ListPartiesTx(ctx, tx, c.ID)
		if err != nil {
			return res, err
		}
		var defendants []domain.Party
		for _, p := range parties {
			if p.Role == domain.PartyDefendant {
				defendants = append(defendants, p)
			}
		}
		if len(defendants) == 0 {
			return res, PreconditionError{Reason: "no defendant parties to cite"}
		}
		for _, p := range defendants {
			cit := domain.Citation{
				ID:        uuid.New().String(),
				CaseID:    c.ID,
				PartyID:   p.ID,
				Method:    domain.MethodInPerson,
				State:     domain.CitationPending,
				CreatedAt: nowStr,
				UpdatedAt: nowStr,
			}
			if err := e.Repo.InsertCitation(ctx, tx, cit); err != nil {
				return res, err
			}
			if err := e.Events.Append(ctx, tx, "citation.created", c.ID, "citation", cit.ID, actorID, events.EventPayload{
				"party_id": p.ID,
				"method":   cit.Method,
			}); err != nil {
				return res, err
			}
			res.Citations = append(res.Citations, cit)
		}

	case c.State == domain.StateServicePending && targetState == domain.StateAnswerPending:
		unresolved, err := e.Repo.UnresolvedCitations(ctx, tx, c.ID)
		if err != nil {
			return res, err
		}
		if unresolved > 0 {
			return res, PreconditionError{Reason: fmt.Sprintf("%d citations unresolved", unresolved)}
		}
		if err := e.Repo.CloseDeadline(ctx, tx, c.ID, domain.DeadlineService, domain.DeadlineFulfilled); err != nil {
			return res, err
		}
		d, err := e.createDeadline(ctx, tx, c.ID, domain.DeadlineAnswer, basisAnswer, now, e.Config.Periods.AnswerDays, actorID)
		if err != nil {
			return res, err
		}
		res.Deadlines = append(res.Deadlines, d)

	case c.State == domain.StateAnswerPending && targetState == domain.StateHearingScheduled:
		if err := e.Repo.CloseDeadline(ctx, tx, c.ID, domain.DeadlineAnswer, domain.DeadlineFulfilled); err != nil {
			return res, err
		}

	case c.State == domain.StateHearingInProgress && targetState == domain.StateJudgmentPending:
		pending, err := e.Repo.ScheduledHearings(ctx, tx, c.ID)
		if err != nil {
			return res, err
		}
		if pending > 0 {
			return res, PreconditionError{Reason: fmt.Sprintf("%d hearings still scheduled", pending)}
		}
		// deduplicated: simultaneous completion paths create at most one
		// active judgment deadline per case
		active, err := e.Repo.HasActiveDeadline(ctx, tx, c.ID, domain.DeadlineJudgment)
		if err != nil {
			return res, err
		}
		if !active {
			d, err := e.createDeadline(ctx, tx, c.ID, domain.DeadlineJudgment, basisJudgment, now, e.Config.Periods.JudgmentDays, actorID)
			if err != nil {
				return res, err
			}
			res.Deadlines = append(res.Deadlines, d)
		}

	case c.State == domain.StateJudgmentPending && targetState == domain.StateJudgment:
		if err := e.Repo.CloseDeadline(ctx, tx, c.ID, domain.DeadlineJudgment, domain.DeadlineFulfilled); err != nil {
			return res, err
		}
		if err := e.notifyParties(ctx, tx, c.ID, fmt.Sprintf("judgment issued in case %s", c.ID), nowStr); err != nil {
			return res, err
		}

	case targetState == domain.StateSuspended:
		if err := e.notifyParties(ctx, tx, c.ID, fmt.Sprintf("case %s has been suspended", c.ID), nowStr); err != nil {
			return res, err
		}
	}

	if err := e.Repo.UpdateCaseState(ctx, tx, c.ID, c.State, targetState, nowStr, filedAt); err != nil {
		return res, err
	}
	if err := e.Events.Append(ctx, tx, "case.transitioned", c.ID, "case", c.ID, actorID, events.EventPayload{
		"from": c.State,
		"to":   targetState,
		"role": role,
	}); err != nil {
		return res, err
	}

	c.State = targetState
	c.UpdatedAt = nowStr
	if filedAt != nil {
		c.FiledAt = filedAt
	}
	res.Case = c
	return res, nil
}

// createDeadline computes a due date in business days and records the
// deadline with its audit event.
func (e Engine) createDeadline(ctx context.Context, tx *sql.Tx, caseID, kind, basis string, start time.Time, days int, actorID string) (domain.Deadline, error) {
	due, err := e.computeDue(start, days)
	if err != nil {
		return domain.Deadline{}, err
	}
	d := domain.Deadline{
		ID:           uuid.New().String(),
		CaseID:       caseID,
		Kind:         kind,
		LegalBasis:   basis,
		StartDate:    start.Format(dateLayout),
		DueDate:      due.Format(dateLayout),
		BusinessDays: days,
		Status:       domain.DeadlineActive,
		CreatedAt:    start.Format(time.RFC3339),
	}
	if err := e.Repo.InsertDeadline(ctx, tx, d); err != nil {
		return domain.Deadline{}, err
	}
	if err := e.Events.Append(ctx, tx, "deadline.created", caseID, "deadline", d.ID, actorID, events.EventPayload{
		"kind":     kind,
		"due_date": d.DueDate,
		"days":     days,
	}); err != nil {
		return domain.Deadline{}, err
	}
	return d, nil
}

func (e Engine) computeDue(start time.Time, days int) (time.Time, error) {
	due := e.Calendar.AddBusinessDays(start, days)
	if e.Config.Calendar.StrictYears {
		for y := start.Year(); y <= due.Year(); y++ {
			if !e.Calendar.HasYear(y) {
				return time.Time{}, ValidationError{Reason: fmt.Sprintf("holiday calendar not populated for year %d", y)}
			}
		}
	}
	return due, nil
}

// ComputeDeadline exposes business-day due-date computation to callers.
func (e Engine) ComputeDeadline(start time.Time, businessDays int) (time.Time, error) {
	if businessDays < 0 {
		return time.Time{}, ValidationError{Reason: "business days must be non-negative"}
	}
	return e.computeDue(start, businessDays)
}

// ClassifyUrgency classifies a due date against the current date.
func (e Engine) ClassifyUrgency(due time.Time) string {
	return e.Calendar.UrgencyByDue(e.now().UTC(), due)
}

// AllocateIdentifier allocates a fresh checksummed identifier without
// creating a case. The consumed sequence number is never reissued.
func (e Engine) AllocateIdentifier(ctx context.Context, materia, venue string) (string, error) {
	now := e.now().UTC()
	year := now.Year()
	code := e.Codes.Compose(materia, venue)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", StorageUnavailableError{Op: "allocate identifier", Err: err}
	}
	defer tx.Rollback()
	seq, err := e.Repo.NextSequence(ctx, tx, year, code)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", StorageUnavailableError{Op: "allocate identifier", Err: err}
	}
	return caseid.New(year, code, seq).String(), nil
}

// SweepDeadlines expires active deadlines whose due date has passed and
// notifies the affected parties. Intended to run periodically; reads that
// race the sweep still see deadline status computed from due dates.
func (e Engine) SweepDeadlines(ctx context.Context, actorID string) (int, error) {
	now := e.now().UTC()
	today := now.Format(dateLayout)
	nowStr := now.Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, StorageUnavailableError{Op: "deadline sweep", Err: err}
	}
	defer tx.Rollback()

	overdue, err := e.Repo.OverdueDeadlines(ctx, tx, today)
	if err != nil {
		return 0, err
	}
	for _, d := range overdue {
		if err := e.Repo.ExpireDeadline(ctx, tx, d.ID); err != nil {
			return 0, err
		}
		if err := e.Events.Append(ctx, tx, "deadline.expired", d.CaseID, "deadline", d.ID, actorID, events.EventPayload{
			"kind":     d.Kind,
			"due_date": d.DueDate,
		}); err != nil {
			return 0, err
		}
		if err := e.notifyParties(ctx, tx, d.CaseID, fmt.Sprintf("%s deadline expired in case %s", d.Kind, d.CaseID), nowStr); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, StorageUnavailableError{Op: "deadline sweep", Err: err}
	}
	return len(overdue), nil
}

// notifyParties records one notification row per party with a known actor.
// Rows commit with the transition; delivery happens after commit and its
// failure never rolls anything back.
func (e Engine) notifyParties(ctx context.Context, tx *sql.Tx, caseID, message, nowStr string) error {
	parties, err := e.Repo.ListPartiesTx(ctx, tx, caseID)
	if err != nil {
		return err
	}
	for _, p := range parties {
		if p.ActorID == "" {
			continue
		}
		n := domain.Notification{
			ID:          uuid.New().String(),
			RecipientID: p.ActorID,
			CaseID:      caseID,
			Message:     message,
			CreatedAt:   nowStr,
		}
		if err := e.Repo.InsertNotification(ctx, tx, n); err != nil {
			return err
		}
	}
	return nil
}
