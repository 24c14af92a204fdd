package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"courtline/internal/caseid"
	"courtline/internal/config"
	"courtline/internal/db"
	"courtline/internal/domain"
	"courtline/internal/engine"
	"courtline/internal/engine/auth"
	"courtline/internal/migrate"
	"courtline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("court-1")
	eng, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	eng.Now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func defaultParties() []engine.PartyInput {
	return []engine.PartyInput{
		{Role: domain.PartyPlaintiff, Name: "Ana Flores", ActorID: "ana"},
		{Role: domain.PartyDefendant, Name: "Luis Vargas", ActorID: "luis"},
	}
}

func createCase(t *testing.T, env testEnv, parties []engine.PartyInput) domain.Case {
	t.Helper()
	c, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{
		Materia: "CIVIL",
		Venue:   "LA PAZ",
		Subject: "contract dispute",
		Parties: parties,
		ActorID: "rep-1",
		Role:    auth.RoleRepresentative,
	})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	return c
}

// setCaseState places an existing case directly into a state, bypassing the
// engine, so individual transitions can be exercised in isolation.
func setCaseState(t *testing.T, env testEnv, caseID, state string) {
	t.Helper()
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(env.Ctx, `UPDATE cases SET state=? WHERE id=?`, state, caseID); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func seedCaseState(t *testing.T, env testEnv, state string) domain.Case {
	t.Helper()
	c := createCase(t, env, defaultParties())
	if c.State == state {
		return c
	}
	setCaseState(t, env, c.ID, state)
	c.State = state
	return c
}

func TestCreateCaseAllocatesChecksummedID(t *testing.T) {
	env := newTestEnv(t)
	c := createCase(t, env, defaultParties())
	if c.State != domain.StateDraft {
		t.Fatalf("expected draft, got %s", c.State)
	}
	if !strings.HasPrefix(c.ID, "2025-01001-0001-") {
		t.Fatalf("unexpected identifier prefix: %s", c.ID)
	}
	if !caseid.Validate(c.ID) {
		t.Fatalf("identifier fails checksum: %s", c.ID)
	}
	second := createCase(t, env, defaultParties())
	if !strings.HasPrefix(second.ID, "2025-01001-0002-") {
		t.Fatalf("expected sequence 2, got %s", second.ID)
	}
}

func TestCreateCaseRejectsUnknownPartyRole(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{
		Materia: "CIVIL",
		Venue:   "LA PAZ",
		Parties: []engine.PartyInput{{Role: "witness", Name: "X"}},
		ActorID: "rep-1",
		Role:    auth.RoleRepresentative,
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateCaseForbiddenForOfficer(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{
		Materia: "CIVIL",
		Venue:   "LA PAZ",
		ActorID: "officer-1",
		Role:    auth.RoleOfficer,
	})
	var fe auth.ForbiddenActionError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden action, got %v", err)
	}
}

// TestTransitionMatrix enumerates every (state, target, role) triple against
// a permission table written out in full, so the lifecycle is verified by
// construction rather than by sampling. Self-loops must come back illegal
// from every state, and the system role must be refused from any caller.
func TestTransitionMatrix(t *testing.T) {
	states := []string{
		domain.StateDraft,
		domain.StateFiled,
		domain.StateServicePending,
		domain.StateAnswerPending,
		domain.StateHearingScheduled,
		domain.StateHearingInProgress,
		domain.StateJudgmentPending,
		domain.StateJudgment,
		domain.StateClosed,
		domain.StateSuspended,
	}
	roles := []string{
		auth.RoleRepresentative,
		auth.RoleClerk,
		auth.RoleOfficer,
		auth.RoleJudge,
		auth.RoleAdmin,
		auth.RoleSystem,
	}
	type edge struct{ from, to string }
	allowed := map[edge][]string{
		{domain.StateDraft, domain.StateFiled}:                        {auth.RoleRepresentative},
		{domain.StateFiled, domain.StateServicePending}:               {auth.RoleClerk, auth.RoleAdmin},
		{domain.StateServicePending, domain.StateAnswerPending}:       nil, // engine-driven only
		{domain.StateAnswerPending, domain.StateHearingScheduled}:     {auth.RoleClerk, auth.RoleJudge},
		{domain.StateHearingScheduled, domain.StateHearingInProgress}: {auth.RoleClerk, auth.RoleJudge},
		{domain.StateHearingInProgress, domain.StateJudgmentPending}:  {auth.RoleJudge},
		{domain.StateJudgmentPending, domain.StateJudgment}:           {auth.RoleJudge},
		{domain.StateJudgment, domain.StateClosed}:                    {auth.RoleClerk, auth.RoleJudge},
	}
	terminal := map[string]bool{domain.StateClosed: true, domain.StateSuspended: true}
	for _, s := range states {
		if !terminal[s] {
			allowed[edge{s, domain.StateSuspended}] = []string{auth.RoleJudge, auth.RoleAdmin}
		}
	}
	roleIn := func(roles []string, role string) bool {
		for _, r := range roles {
			if r == role {
				return true
			}
		}
		return false
	}

	env := newTestEnv(t)
	c := createCase(t, env, defaultParties())
	for _, from := range states {
		for _, to := range states {
			for _, role := range roles {
				setCaseState(t, env, c.ID, from)
				_, err := env.Engine.RequestTransition(env.Ctx, c.ID, to, "actor-1", role)
				edgeRoles, edgeOK := allowed[edge{from, to}]
				switch {
				case role == auth.RoleSystem:
					var fa auth.ForbiddenActionError
					if !errors.As(err, &fa) {
						t.Errorf("%s->%s as system: want forbidden action, got %v", from, to, err)
					}
				case from == to || !edgeOK:
					var ie engine.IllegalTransitionError
					if !errors.As(err, &ie) {
						t.Errorf("%s->%s as %s: want illegal transition, got %v", from, to, role, err)
					}
				case !roleIn(edgeRoles, role):
					var fe auth.ForbiddenTransitionError
					if !errors.As(err, &fe) {
						t.Errorf("%s->%s as %s: want forbidden transition, got %v", from, to, role, err)
					}
				default:
					if err != nil {
						t.Errorf("%s->%s as %s: want success, got %v", from, to, role, err)
					}
				}
			}
		}
	}
}

func TestRequestTransitionRejectsSystemRole(t *testing.T) {
	env := newTestEnv(t)
	c := seedCaseState(t, env, domain.StateServicePending)
	_, err := env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateAnswerPending, "actor-1", auth.RoleSystem)
	var fe auth.ForbiddenActionError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden action, got %v", err)
	}
}

func TestRequestTransitionUnknownState(t *testing.T) {
	env := newTestEnv(t)
	c := createCase(t, env, defaultParties())
	_, err := env.Engine.RequestTransition(env.Ctx, c.ID, "archived", "actor-1", auth.RoleAdmin)
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFilingStartsServiceDeadline(t *testing.T) {
	env := newTestEnv(t)
	c := createCase(t, env, defaultParties())
	res, err := env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateFiled, "rep-1", auth.RoleRepresentative)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if res.Case.FiledAt == nil {
		t.Fatal("expected filed_at to be set")
	}
	if len(res.Deadlines) != 1 {
		t.Fatalf("expected one deadline, got %d", len(res.Deadlines))
	}
	d := res.Deadlines[0]
	if d.Kind != domain.DeadlineService || d.BusinessDays != 5 {
		t.Fatalf("unexpected deadline %+v", d)
	}
	// Wed 2025-01-01 is a holiday; five business days land on Wed 2025-01-08.
	if d.DueDate != "2025-01-08" {
		t.Fatalf("expected due 2025-01-08, got %s", d.DueDate)
	}
	notes, err := env.Engine.Repo.ListNotifications(env.Ctx, "ana", 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected one notification for plaintiff, got %d", len(notes))
	}
}

func TestServicePendingRequiresDefendant(t *testing.T) {
	env := newTestEnv(t)
	c := createCase(t, env, []engine.PartyInput{{Role: domain.PartyPlaintiff, Name: "Ana Flores"}})
	if _, err := env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateFiled, "rep-1", auth.RoleRepresentative); err != nil {
		t.Fatalf("file: %v", err)
	}
	_, err := env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateServicePending, "clerk-1", auth.RoleClerk)
	var pe engine.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestServicePendingCreatesCitationsPerDefendant(t *testing.T) {
	env := newTestEnv(t)
	parties := append(defaultParties(), engine.PartyInput{Role: domain.PartyDefendant, Name: "Marta Quispe"})
	c := createCase(t, env, parties)
	if _, err := env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateFiled, "rep-1", auth.RoleRepresentative); err != nil {
		t.Fatalf("file: %v", err)
	}
	res, err := env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateServicePending, "clerk-1", auth.RoleClerk)
	if err != nil {
		t.Fatalf("to service_pending: %v", err)
	}
	if len(res.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(res.Citations))
	}
	for _, cit := range res.Citations {
		if cit.State != domain.CitationPending || cit.Method != domain.MethodInPerson {
			t.Fatalf("unexpected citation %+v", cit)
		}
	}
	// Direct promotion to answer_pending is blocked while citations are open.
	_, err = env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateAnswerPending, "clerk-1", auth.RoleClerk)
	var fe auth.ForbiddenTransitionError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden (engine-reserved edge), got %v", err)
	}
}

func advanceToServicePending(t *testing.T, env testEnv) (domain.Case, []domain.Citation) {
	t.Helper()
	c := createCase(t, env, defaultParties())
	if _, err := env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateFiled, "rep-1", auth.RoleRepresentative); err != nil {
		t.Fatalf("file: %v", err)
	}
	res, err := env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateServicePending, "clerk-1", auth.RoleClerk)
	if err != nil {
		t.Fatalf("to service_pending: %v", err)
	}
	return res.Case, res.Citations
}

func TestSuccessfulServiceAdvancesCase(t *testing.T) {
	env := newTestEnv(t)
	c, citations := advanceToServicePending(t, env)
	res, err := env.Engine.RecordCitationAttempt(env.Ctx, engine.AttemptOptions{
		CitationID: citations[0].ID,
		Method:     domain.MethodInPerson,
		Outcome:    domain.AttemptSuccess,
		ActorID:    "officer-1",
		Role:       auth.RoleOfficer,
	})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if res.Citation.State != domain.CitationSuccessful {
		t.Fatalf("expected successful, got %s", res.Citation.State)
	}
	if res.CaseState != domain.StateAnswerPending {
		t.Fatalf("expected answer_pending, got %s", res.CaseState)
	}
	deadlines, err := env.Engine.Repo.ListDeadlines(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("list deadlines: %v", err)
	}
	byKind := map[string]domain.Deadline{}
	for _, d := range deadlines {
		byKind[d.Kind] = d
	}
	if byKind[domain.DeadlineService].Status != domain.DeadlineFulfilled {
		t.Fatalf("service deadline not fulfilled: %+v", byKind[domain.DeadlineService])
	}
	answer := byKind[domain.DeadlineAnswer]
	if answer.Status != domain.DeadlineActive || answer.BusinessDays != 30 {
		t.Fatalf("unexpected answer deadline %+v", answer)
	}
}

func TestThreeFailuresEscalateToEdict(t *testing.T) {
	env := newTestEnv(t)
	_, citations := advanceToServicePending(t, env)
	citID := citations[0].ID

	var res engine.CitationResult
	var err error
	for i := 0; i < 3; i++ {
		res, err = env.Engine.RecordCitationAttempt(env.Ctx, engine.AttemptOptions{
			CitationID: citID,
			Method:     domain.MethodInPerson,
			Outcome:    domain.AttemptFailure,
			ActorID:    "officer-1",
			Role:       auth.RoleOfficer,
		})
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if res.Citation.State != domain.CitationFailed {
		t.Fatalf("expected failed, got %s", res.Citation.State)
	}
	if !res.EdictRequired {
		t.Fatal("expected edict required")
	}
	if res.CaseState != domain.StateServicePending {
		t.Fatalf("case must not advance on failure, got %s", res.CaseState)
	}

	// Resolved citations accept no further attempts.
	_, err = env.Engine.RecordCitationAttempt(env.Ctx, engine.AttemptOptions{
		CitationID: citID,
		Method:     domain.MethodInPerson,
		Outcome:    domain.AttemptFailure,
		ActorID:    "officer-1",
		Role:       auth.RoleOfficer,
	})
	var pe engine.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	edict, err := env.Engine.OrderEdictService(env.Ctx, citID, "clerk-1", auth.RoleClerk)
	if err != nil {
		t.Fatalf("order edict: %v", err)
	}
	if edict.Method != domain.MethodEdict || edict.State != domain.CitationPending {
		t.Fatalf("unexpected edict citation %+v", edict)
	}

	// Edict success completes service and advances the case.
	out, err := env.Engine.RecordCitationAttempt(env.Ctx, engine.AttemptOptions{
		CitationID: edict.ID,
		Method:     domain.MethodEdict,
		Outcome:    domain.AttemptSuccess,
		ActorID:    "officer-1",
		Role:       auth.RoleOfficer,
	})
	if err != nil {
		t.Fatalf("edict attempt: %v", err)
	}
	if out.CaseState != domain.StateAnswerPending {
		t.Fatalf("expected answer_pending after edict success, got %s", out.CaseState)
	}
}

func TestSuccessAtAnyAttemptResolves(t *testing.T) {
	env := newTestEnv(t)
	_, citations := advanceToServicePending(t, env)
	citID := citations[0].ID

	for i := 0; i < 2; i++ {
		if _, err := env.Engine.RecordCitationAttempt(env.Ctx, engine.AttemptOptions{
			CitationID: citID,
			Method:     domain.MethodCedula,
			Outcome:    domain.AttemptFailure,
			ActorID:    "officer-1",
			Role:       auth.RoleOfficer,
		}); err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
	}
	res, err := env.Engine.RecordCitationAttempt(env.Ctx, engine.AttemptOptions{
		CitationID: citID,
		Method:     domain.MethodInPerson,
		Outcome:    domain.AttemptSuccess,
		ActorID:    "officer-1",
		Role:       auth.RoleOfficer,
	})
	if err != nil {
		t.Fatalf("success: %v", err)
	}
	if res.Citation.State != domain.CitationSuccessful {
		t.Fatalf("expected successful on third attempt, got %s", res.Citation.State)
	}
	if res.Attempt.Seq != 3 {
		t.Fatalf("expected seq 3, got %d", res.Attempt.Seq)
	}
}

func TestAttemptRequiresOfficer(t *testing.T) {
	env := newTestEnv(t)
	_, citations := advanceToServicePending(t, env)
	_, err := env.Engine.RecordCitationAttempt(env.Ctx, engine.AttemptOptions{
		CitationID: citations[0].ID,
		Method:     domain.MethodInPerson,
		Outcome:    domain.AttemptSuccess,
		ActorID:    "clerk-1",
		Role:       auth.RoleClerk,
	})
	var fe auth.ForbiddenActionError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden action, got %v", err)
	}
}

func TestOrderEdictRequiresExhaustion(t *testing.T) {
	env := newTestEnv(t)
	_, citations := advanceToServicePending(t, env)
	_, err := env.Engine.OrderEdictService(env.Ctx, citations[0].ID, "clerk-1", auth.RoleClerk)
	var pe engine.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestLastHearingCompletionAdvancesCase(t *testing.T) {
	env := newTestEnv(t)
	c := seedCaseState(t, env, domain.StateHearingInProgress)

	at := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	h1, err := env.Engine.ScheduleHearing(env.Ctx, c.ID, "preliminary", at, "clerk-1", auth.RoleClerk)
	if err != nil {
		t.Fatalf("schedule h1: %v", err)
	}
	h2, err := env.Engine.ScheduleHearing(env.Ctx, c.ID, "evidentiary", at.AddDate(0, 0, 7), "clerk-1", auth.RoleClerk)
	if err != nil {
		t.Fatalf("schedule h2: %v", err)
	}

	res, err := env.Engine.CompleteHearing(env.Ctx, h1.ID, "judge-1", auth.RoleJudge)
	if err != nil {
		t.Fatalf("complete h1: %v", err)
	}
	if res.CaseState != domain.StateHearingInProgress {
		t.Fatalf("case advanced too early: %s", res.CaseState)
	}

	res, err = env.Engine.CompleteHearing(env.Ctx, h2.ID, "judge-1", auth.RoleJudge)
	if err != nil {
		t.Fatalf("complete h2: %v", err)
	}
	if res.CaseState != domain.StateJudgmentPending {
		t.Fatalf("expected judgment_pending, got %s", res.CaseState)
	}

	deadlines, err := env.Engine.Repo.ListDeadlines(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("list deadlines: %v", err)
	}
	judgments := 0
	for _, d := range deadlines {
		if d.Kind == domain.DeadlineJudgment && d.Status == domain.DeadlineActive {
			judgments++
			if d.BusinessDays != 15 {
				t.Fatalf("unexpected judgment window %+v", d)
			}
		}
	}
	if judgments != 1 {
		t.Fatalf("expected exactly one active judgment deadline, got %d", judgments)
	}

	// Completing an already resolved hearing conflicts.
	if _, err := env.Engine.CompleteHearing(env.Ctx, h2.ID, "judge-1", auth.RoleJudge); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCancelledHearingDoesNotAdvance(t *testing.T) {
	env := newTestEnv(t)
	c := seedCaseState(t, env, domain.StateHearingInProgress)
	at := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	h, err := env.Engine.ScheduleHearing(env.Ctx, c.ID, "preliminary", at, "clerk-1", auth.RoleClerk)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	res, err := env.Engine.CancelHearing(env.Ctx, h.ID, "clerk-1", auth.RoleClerk)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.CaseState != domain.StateHearingInProgress {
		t.Fatalf("cancel must not advance the case, got %s", res.CaseState)
	}
}

func TestJudgmentFulfillsDeadline(t *testing.T) {
	env := newTestEnv(t)
	c := seedCaseState(t, env, domain.StateHearingInProgress)
	if _, err := env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateJudgmentPending, "judge-1", auth.RoleJudge); err != nil {
		t.Fatalf("to judgment_pending: %v", err)
	}
	if _, err := env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateJudgment, "judge-1", auth.RoleJudge); err != nil {
		t.Fatalf("to judgment: %v", err)
	}
	deadlines, err := env.Engine.Repo.ListDeadlines(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("list deadlines: %v", err)
	}
	for _, d := range deadlines {
		if d.Kind == domain.DeadlineJudgment && d.Status != domain.DeadlineFulfilled {
			t.Fatalf("judgment deadline not fulfilled: %+v", d)
		}
	}
}

func TestSweepExpiresOverdueDeadlines(t *testing.T) {
	env := newTestEnv(t)
	c := createCase(t, env, defaultParties())
	if _, err := env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateFiled, "rep-1", auth.RoleRepresentative); err != nil {
		t.Fatalf("file: %v", err)
	}
	// Jump past the service due date.
	env.Engine.Now = func() time.Time { return time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC) }
	n, err := env.Engine.SweepDeadlines(env.Ctx, "sweeper")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expiration, got %d", n)
	}
	deadlines, err := env.Engine.Repo.ListDeadlines(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("list deadlines: %v", err)
	}
	if len(deadlines) != 1 || deadlines[0].Status != domain.DeadlineExpired {
		t.Fatalf("expected expired deadline, got %+v", deadlines)
	}
	// Sweep is idempotent.
	if n, err := env.Engine.SweepDeadlines(env.Ctx, "sweeper"); err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}

func TestComputeDeadlineStrictYears(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Calendar.StrictYears = true
	// 2025 is covered by the default movable table.
	if _, err := env.Engine.ComputeDeadline(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 5); err != nil {
		t.Fatalf("covered year: %v", err)
	}
	_, err := env.Engine.ComputeDeadline(time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC), 5)
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for uncovered year, got %v", err)
	}
}

func TestAllocateIdentifierConcurrentUniqueness(t *testing.T) {
	env := newTestEnv(t)
	const workers = 20
	const perWorker = 5
	var mu sync.Mutex
	seen := make(map[string]bool, workers*perWorker)
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id, err := env.Engine.AllocateIdentifier(env.Ctx, "CIVIL", "LA PAZ")
				if err != nil {
					errs <- err
					return
				}
				if !caseid.Validate(id) {
					errs <- errors.New("invalid identifier " + id)
					return
				}
				mu.Lock()
				if seen[id] {
					mu.Unlock()
					errs <- errors.New("duplicate identifier " + id)
					return
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d identifiers, got %d", workers*perWorker, len(seen))
	}
}

func TestClosedStorageSurfacesUnavailable(t *testing.T) {
	env := newTestEnv(t)
	c := createCase(t, env, defaultParties())
	env.Engine.DB.Close()

	var su engine.StorageUnavailableError
	_, err := env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateFiled, "rep-1", auth.RoleRepresentative)
	if !errors.As(err, &su) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
	if _, err := env.Engine.AllocateIdentifier(env.Ctx, "CIVIL", "LA PAZ"); !errors.As(err, &su) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
	if _, err := env.Engine.SweepDeadlines(env.Ctx, "sweeper"); !errors.As(err, &su) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
}

func TestTransitionsAreAudited(t *testing.T) {
	env := newTestEnv(t)
	c := createCase(t, env, defaultParties())
	if _, err := env.Engine.RequestTransition(env.Ctx, c.ID, domain.StateFiled, "rep-1", auth.RoleRepresentative); err != nil {
		t.Fatalf("file: %v", err)
	}
	events, err := env.Engine.Repo.ListEvents(env.Ctx, c.ID, 50)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	types := map[string]bool{}
	for _, evt := range events {
		types[evt.Type] = true
	}
	for _, want := range []string{"case.created", "case.transitioned", "deadline.created"} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}
