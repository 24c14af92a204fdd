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

// Case states in which new hearings may be scheduled.
var hearingSchedulableStates = map[string]bool{
	domain.StateAnswerPending:     true,
	domain.StateHearingScheduled:  true,
	domain.StateHearingInProgress: true,
}

// ScheduleHearing records a hearing for a case.
func (e Engine) ScheduleHearing(ctx context.Context, caseID, kind string, scheduledAt time.Time, actorID, role string) (domain.Hearing, error) {
	if e.Config == nil {
		return domain.Hearing{}, errors.New("config not loaded")
	}
	if !auth.CanManageHearings(role) {
		return domain.Hearing{}, auth.ForbiddenActionError{Role: role, Action: "schedule hearings"}
	}
	if kind == "" {
		return domain.Hearing{}, ValidationError{Reason: "hearing kind is required"}
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Hearing{}, StorageUnavailableError{Op: "schedule hearing", Err: err}
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Hearing{}, err
	}
	if !hearingSchedulableStates[c.State] {
		return domain.Hearing{}, PreconditionError{Reason: fmt.Sprintf("case in state %s cannot take hearings", c.State)}
	}
	h := domain.Hearing{
		ID:          uuid.New().String(),
		CaseID:      caseID,
		Kind:        kind,
		ScheduledAt: scheduledAt.UTC().Format(time.RFC3339),
		Status:      domain.HearingScheduled,
		CreatedAt:   nowStr,
		UpdatedAt:   nowStr,
	}
	if err := e.Repo.InsertHearing(ctx, tx, h); err != nil {
		return domain.Hearing{}, err
	}
	if err := e.Events.Append(ctx, tx, "hearing.scheduled", caseID, "hearing", h.ID, actorID, events.EventPayload{
		"kind":         kind,
		"scheduled_at": h.ScheduledAt,
	}); err != nil {
		return domain.Hearing{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Hearing{}, StorageUnavailableError{Op: "schedule hearing", Err: err}
	}
	return h, nil
}

// HearingResult reports a resolved hearing and the case state, which
// advances to judgment-pending when the last scheduled hearing completes.
type HearingResult struct {
	Hearing   domain.Hearing `json:"hearing"`
	CaseState string         `json:"case_state"`
}

// CompleteHearing marks a hearing completed. Completing the last scheduled
// hearing of a case in progress atomically creates the judgment deadline and
// flips the case to judgment-pending.
func (e Engine) CompleteHearing(ctx context.Context, hearingID, actorID, role string) (HearingResult, error) {
	return e.resolveHearing(ctx, hearingID, domain.HearingCompleted, actorID, role)
}

// CancelHearing marks a hearing cancelled without advancing the case.
func (e Engine) CancelHearing(ctx context.Context, hearingID, actorID, role string) (HearingResult, error) {
	return e.resolveHearing(ctx, hearingID, domain.HearingCancelled, actorID, role)
}

func (e Engine) resolveHearing(ctx context.Context, hearingID, status, actorID, role string) (HearingResult, error) {
	if e.Config == nil {
		return HearingResult{}, errors.New("config not loaded")
	}
	if !auth.CanManageHearings(role) {
		return HearingResult{}, auth.ForbiddenActionError{Role: role, Action: "resolve hearings"}
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return HearingResult{}, StorageUnavailableError{Op: "resolve hearing", Err: err}
	}
	defer tx.Rollback()

	h, err := e.Repo.GetHearingTx(ctx, tx, hearingID)
	if err != nil {
		return HearingResult{}, err
	}
	if err := e.Repo.UpdateHearingStatus(ctx, tx, h.ID, domain.HearingScheduled, status, nowStr); err != nil {
		return HearingResult{}, err
	}
	evtType := "hearing.completed"
	if status == domain.HearingCancelled {
		evtType = "hearing.cancelled"
	}
	if err := e.Events.Append(ctx, tx, evtType, h.CaseID, "hearing", h.ID, actorID, events.EventPayload{
		"kind": h.Kind,
	}); err != nil {
		return HearingResult{}, err
	}

	h.Status = status
	h.UpdatedAt = nowStr
	res := HearingResult{Hearing: h}

	c, err := e.Repo.GetCaseTx(ctx, tx, h.CaseID)
	if err != nil {
		return HearingResult{}, err
	}
	res.CaseState = c.State

	if status == domain.HearingCompleted && c.State == domain.StateHearingInProgress {
		pending, err := e.Repo.ScheduledHearings(ctx, tx, c.ID)
		if err != nil {
			return HearingResult{}, err
		}
		if pending == 0 {
			tres, err := e.transitionLocked(ctx, tx, c, domain.StateJudgmentPending, actorID, auth.RoleSystem)
			if err != nil {
				return HearingResult{}, err
			}
			res.CaseState = tres.Case.State
		}
	}

	if err := tx.Commit(); err != nil {
		return HearingResult{}, StorageUnavailableError{Op: "resolve hearing", Err: err}
	}
	return res, nil
}
