package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"courtline/internal/domain"
	"courtline/internal/engine/auth"
	"courtline/internal/events"
)

// DeriveCitationState recomputes a citation's aggregate state purely from
// its attempt history. The attempt log is the source of truth; the stored
// state column is a cache revalidated on every append.
func DeriveCitationState(attempts []domain.CitationAttempt, maxAttempts int) string {
	if len(attempts) == 0 {
		return domain.CitationPending
	}
	failures := 0
	for _, a := range attempts {
		if a.Outcome == domain.AttemptSuccess {
			return domain.CitationSuccessful
		}
		failures++
	}
	if failures >= maxAttempts {
		return domain.CitationFailed
	}
	return domain.CitationInProgress
}

// AttemptOptions are parameters for recording one service attempt.
type AttemptOptions struct {
	CitationID  string
	Method      string
	Outcome     string
	Description string
	EvidenceRef string
	ActorID     string
	Role        string
}

// CitationResult reports the citation after an appended attempt, plus the
// owning case's state (which may have advanced as a side effect).
type CitationResult struct {
	Citation  domain.Citation        `json:"citation"`
	Attempt   domain.CitationAttempt `json:"attempt"`
	CaseState string                 `json:"case_state"`
	// EdictRequired flags that direct service is exhausted and the case
	// must fall back to publication-based service. Surfaced, not executed.
	EdictRequired bool `json:"edict_required"`
}

var validMethods = map[string]bool{
	domain.MethodInPerson:   true,
	domain.MethodElectronic: true,
	domain.MethodCedula:     true,
	domain.MethodEdict:      true,
}

// RecordCitationAttempt appends one attempt to a citation's log and updates
// the derived aggregate state. A success resolves the citation; the third
// failure escalates it to failed. When the last open citation of a
// service-pending case succeeds, the case advances to answer-pending and the
// statutory answer deadline starts, all in the same transaction.
func (e Engine) RecordCitationAttempt(ctx context.Context, opts AttemptOptions) (CitationResult, error) {
	if e.Config == nil {
		return CitationResult{}, errors.New("config not loaded")
	}
	if !auth.CanRecordAttempt(opts.Role) {
		return CitationResult{}, auth.ForbiddenActionError{Role: opts.Role, Action: "record citation attempts"}
	}
	if opts.Outcome != domain.AttemptSuccess && opts.Outcome != domain.AttemptFailure {
		return CitationResult{}, ValidationError{Reason: fmt.Sprintf("unknown outcome %q", opts.Outcome)}
	}
	if !validMethods[opts.Method] {
		return CitationResult{}, ValidationError{Reason: fmt.Sprintf("unknown method %q", opts.Method)}
	}

	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CitationResult{}, StorageUnavailableError{Op: "record attempt", Err: err}
	}
	defer tx.Rollback()

	cit, err := e.Repo.GetCitationTx(ctx, tx, opts.CitationID)
	if err != nil {
		return CitationResult{}, err
	}
	attempts, err := e.Repo.ListAttemptsTx(ctx, tx, cit.ID)
	if err != nil {
		return CitationResult{}, err
	}
	maxAttempts := e.Config.Citation.MaxAttempts
	switch DeriveCitationState(attempts, maxAttempts) {
	case domain.CitationSuccessful, domain.CitationFailed:
		return CitationResult{}, PreconditionError{Reason: "citation already resolved"}
	}

	attempt := domain.CitationAttempt{
		ID:          uuid.New().String(),
		CitationID:  cit.ID,
		Seq:         len(attempts) + 1,
		Method:      opts.Method,
		Outcome:     opts.Outcome,
		Description: opts.Description,
		OfficerID:   opts.ActorID,
		TS:          nowStr,
	}
	if opts.EvidenceRef != "" {
		attempt.EvidenceRef = &opts.EvidenceRef
	}
	if err := e.Repo.InsertAttempt(ctx, tx, attempt); err != nil {
		return CitationResult{}, err
	}
	attempts = append(attempts, attempt)

	newState := DeriveCitationState(attempts, maxAttempts)
	if err := e.Repo.UpdateCitationState(ctx, tx, cit.ID, newState, nowStr); err != nil {
		return CitationResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "citation.attempt.recorded", cit.CaseID, "citation", cit.ID, opts.ActorID, events.EventPayload{
		"seq":     attempt.Seq,
		"method":  attempt.Method,
		"outcome": attempt.Outcome,
		"state":   newState,
	}); err != nil {
		return CitationResult{}, err
	}

	cit.State = newState
	cit.UpdatedAt = nowStr
	cit.Attempts = attempts
	res := CitationResult{Citation: cit, Attempt: attempt}

	c, err := e.Repo.GetCaseTx(ctx, tx, cit.CaseID)
	if err != nil {
		return CitationResult{}, err
	}
	res.CaseState = c.State

	switch newState {
	case domain.CitationSuccessful:
		unresolved, err := e.Repo.UnresolvedCitations(ctx, tx, c.ID)
		if err != nil {
			return CitationResult{}, err
		}
		if unresolved == 0 && c.State == domain.StateServicePending {
			tres, err := e.transitionLocked(ctx, tx, c, domain.StateAnswerPending, opts.ActorID, auth.RoleSystem)
			if err != nil {
				return CitationResult{}, err
			}
			res.CaseState = tres.Case.State
		}
	case domain.CitationFailed:
		res.EdictRequired = true
		if err := e.Events.Append(ctx, tx, "citation.failed", cit.CaseID, "citation", cit.ID, opts.ActorID, events.EventPayload{
			"attempts": len(attempts),
			"next":     "edict service",
		}); err != nil {
			return CitationResult{}, err
		}
		if err := e.notifyParties(ctx, tx, cit.CaseID,
			fmt.Sprintf("direct service exhausted for case %s; edict service required", cit.CaseID), nowStr); err != nil {
			return CitationResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return CitationResult{}, StorageUnavailableError{Op: "record attempt", Err: err}
	}
	return res, nil
}

// OrderEdictService opens a publication-based citation for the same party
// after direct attempts are exhausted. Operator-initiated; never automatic.
func (e Engine) OrderEdictService(ctx context.Context, citationID, actorID, role string) (domain.Citation, error) {
	if e.Config == nil {
		return domain.Citation{}, errors.New("config not loaded")
	}
	if !auth.CanOrderEdict(role) {
		return domain.Citation{}, auth.ForbiddenActionError{Role: role, Action: "order edict service"}
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Citation{}, StorageUnavailableError{Op: "order edict", Err: err}
	}
	defer tx.Rollback()

	cit, err := e.Repo.GetCitationTx(ctx, tx, citationID)
	if err != nil {
		return domain.Citation{}, err
	}
	attempts, err := e.Repo.ListAttemptsTx(ctx, tx, cit.ID)
	if err != nil {
		return domain.Citation{}, err
	}
	if DeriveCitationState(attempts, e.Config.Citation.MaxAttempts) != domain.CitationFailed {
		return domain.Citation{}, PreconditionError{Reason: "edict service requires an exhausted citation"}
	}

	edict := domain.Citation{
		ID:        uuid.New().String(),
		CaseID:    cit.CaseID,
		PartyID:   cit.PartyID,
		Method:    domain.MethodEdict,
		State:     domain.CitationPending,
		CreatedAt: nowStr,
		UpdatedAt: nowStr,
	}
	if err := e.Repo.InsertCitation(ctx, tx, edict); err != nil {
		return domain.Citation{}, err
	}
	if err := e.Events.Append(ctx, tx, "citation.edict.ordered", cit.CaseID, "citation", edict.ID, actorID, events.EventPayload{
		"replaces": cit.ID,
		"party_id": cit.PartyID,
	}); err != nil {
		return domain.Citation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Citation{}, StorageUnavailableError{Op: "order edict", Err: err}
	}
	return edict, nil
}
