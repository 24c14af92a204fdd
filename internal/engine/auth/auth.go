// Package auth holds the role-to-transition permission table. The engine
// never authenticates anyone; it consumes a resolved (actorID, role) pair and
// consults this table before mutating anything. The table is static,
// process-wide and immutable.
package auth

import (
	"fmt"

	"courtline/internal/domain"
)

// Roles the engine recognizes. RoleSystem marks transitions the engine drives
// itself (citation success, last hearing completed) and is never accepted
// from a caller-supplied principal.
const (
	RoleRepresentative = "representative" // filing party's counsel
	RoleClerk          = "clerk"
	RoleOfficer        = "officer" // service-of-process officer
	RoleJudge          = "judge"
	RoleAdmin          = "admin"
	RoleSystem         = "system"
)

// ForbiddenTransitionError indicates the role may not drive this edge.
type ForbiddenTransitionError struct {
	Role string
	From string
	To   string
}

func (e ForbiddenTransitionError) Error() string {
	return fmt.Sprintf("role %s may not transition %s -> %s", e.Role, e.From, e.To)
}

// ForbiddenActionError indicates the role may not perform a named action.
type ForbiddenActionError struct {
	Role   string
	Action string
}

func (e ForbiddenActionError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

type edge struct{ from, to string }

// transitionRoles is the per-edge permission table. An edge absent from this
// map does not exist; an empty role set would make the edge unreachable.
var transitionRoles = map[edge][]string{
	{domain.StateDraft, domain.StateFiled}:                        {RoleRepresentative},
	{domain.StateFiled, domain.StateServicePending}:               {RoleClerk, RoleAdmin},
	{domain.StateServicePending, domain.StateAnswerPending}:       {RoleSystem},
	{domain.StateAnswerPending, domain.StateHearingScheduled}:     {RoleClerk, RoleJudge},
	{domain.StateHearingScheduled, domain.StateHearingInProgress}: {RoleClerk, RoleJudge},
	{domain.StateHearingInProgress, domain.StateJudgmentPending}:  {RoleSystem, RoleJudge},
	{domain.StateJudgmentPending, domain.StateJudgment}:           {RoleJudge},
	{domain.StateJudgment, domain.StateClosed}:                    {RoleClerk, RoleJudge},
}

// suspendRoles guards the terminal suspension edge, reachable from any
// non-terminal state.
var suspendRoles = []string{RoleJudge, RoleAdmin}

var terminalStates = map[string]bool{
	domain.StateClosed:    true,
	domain.StateSuspended: true,
}

var allStates = map[string]bool{
	domain.StateDraft:             true,
	domain.StateFiled:             true,
	domain.StateServicePending:    true,
	domain.StateAnswerPending:     true,
	domain.StateHearingScheduled:  true,
	domain.StateHearingInProgress: true,
	domain.StateJudgmentPending:   true,
	domain.StateJudgment:          true,
	domain.StateClosed:            true,
	domain.StateSuspended:         true,
}

// KnownState reports membership in the closed state set.
func KnownState(state string) bool {
	return allStates[state]
}

// Terminal reports whether state admits no further transitions.
func Terminal(state string) bool {
	return terminalStates[state]
}

// EdgeExists reports whether to is a legal successor of from, independent of
// role. Self-loops never exist.
func EdgeExists(from, to string) bool {
	if from == to {
		return false
	}
	if to == domain.StateSuspended {
		return !terminalStates[from]
	}
	_, ok := transitionRoles[edge{from, to}]
	return ok
}

// CanTransition reports whether the role may drive the from->to edge. It
// assumes the edge exists.
func CanTransition(role, from, to string) bool {
	roles := transitionRoles[edge{from, to}]
	if to == domain.StateSuspended {
		roles = suspendRoles
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanRecordAttempt reports whether the role may log citation attempts.
func CanRecordAttempt(role string) bool {
	return role == RoleOfficer
}

// CanFileCase reports whether the role may open a new draft case.
func CanFileCase(role string) bool {
	return role == RoleRepresentative || role == RoleClerk || role == RoleAdmin
}

// CanManageHearings reports whether the role may schedule or resolve hearings.
func CanManageHearings(role string) bool {
	return role == RoleClerk || role == RoleJudge || role == RoleAdmin
}

// CanOrderEdict reports whether the role may order publication-based service
// after direct attempts are exhausted.
func CanOrderEdict(role string) bool {
	return role == RoleClerk || role == RoleJudge
}
