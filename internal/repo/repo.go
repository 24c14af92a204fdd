package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"courtline/internal/config"
	"courtline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a write that collided with a concurrent mutation
	// (optimistic state update or sequence/attempt uniqueness). Callers are
	// expected to retry.
	ErrConflict = errors.New("concurrency conflict")
)

// --- cases ---

func scanCase(row *sql.Row) (domain.Case, error) {
	var c domain.Case
	var subject, judge, filed sql.NullString
	err := row.Scan(&c.ID, &c.CourtID, &c.Materia, &c.Venue, &c.State, &subject, &judge, &filed, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if subject.Valid {
		c.Subject = subject.String
	}
	if judge.Valid {
		c.JudgeID = &judge.String
	}
	if filed.Valid {
		c.FiledAt = &filed.String
	}
	return c, err
}

const caseColumns = `id,court_id,materia,venue,state,subject,judge_id,filed_at,created_at,updated_at`

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	var judge, filed any
	if c.JudgeID != nil {
		judge = *c.JudgeID
	}
	if c.FiledAt != nil {
		filed = *c.FiledAt
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO cases(`+caseColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.CourtID, c.Materia, c.Venue, c.State, nullable(c.Subject), judge, filed, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return scanCase(r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	return scanCase(tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
}

func (r Repo) ListCases(ctx context.Context, state string) ([]domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases`
	var args []any
	if state != "" {
		query += ` WHERE state=?`
		args = append(args, state)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		var c domain.Case
		var subject, judge, filed sql.NullString
		if err := rows.Scan(&c.ID, &c.CourtID, &c.Materia, &c.Venue, &c.State, &subject, &judge, &filed, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if subject.Valid {
			c.Subject = subject.String
		}
		if judge.Valid {
			c.JudgeID = &judge.String
		}
		if filed.Valid {
			c.FiledAt = &filed.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// UpdateCaseState applies an optimistic state swap: the write only lands if
// the row still holds fromState. Zero rows affected means a concurrent
// transition won, reported as ErrConflict (or ErrNotFound if the case is
// gone entirely).
func (r Repo) UpdateCaseState(ctx context.Context, tx *sql.Tx, id, fromState, toState, updatedAt string, filedAt *string) error {
	var res sql.Result
	var err error
	if filedAt != nil {
		res, err = tx.ExecContext(ctx, `UPDATE cases SET state=?, filed_at=?, updated_at=? WHERE id=? AND state=?`,
			toState, *filedAt, updatedAt, id, fromState)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE cases SET state=?, updated_at=? WHERE id=? AND state=?`,
			toState, updatedAt, id, fromState)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if scanErr := tx.QueryRowContext(ctx, `SELECT 1 FROM cases WHERE id=?`, id).Scan(&exists); scanErr == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("case %s state changed concurrently: %w", id, ErrConflict)
	}
	return nil
}

// --- parties ---

func (r Repo) InsertParty(ctx context.Context, tx *sql.Tx, p domain.Party) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO parties(id,case_id,role,name,actor_id) VALUES (?,?,?,?,?)`,
		p.ID, p.CaseID, p.Role, p.Name, nullable(p.ActorID))
	return err
}

func (r Repo) ListParties(ctx context.Context, caseID string) ([]domain.Party, error) {
	return r.listParties(ctx, r.DB.QueryContext, caseID)
}

func (r Repo) ListPartiesTx(ctx context.Context, tx *sql.Tx, caseID string) ([]domain.Party, error) {
	return r.listParties(ctx, tx.QueryContext, caseID)
}

func (r Repo) listParties(ctx context.Context, query queryFunc, caseID string) ([]domain.Party, error) {
	rows, err := query(ctx, `SELECT id,case_id,role,name,COALESCE(actor_id,'') FROM parties WHERE case_id=? ORDER BY role,name`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Party
	for rows.Next() {
		var p domain.Party
		if err := rows.Scan(&p.ID, &p.CaseID, &p.Role, &p.Name, &p.ActorID); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) GetParty(ctx context.Context, id string) (domain.Party, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,case_id,role,name,COALESCE(actor_id,'') FROM parties WHERE id=?`, id)
	var p domain.Party
	err := row.Scan(&p.ID, &p.CaseID, &p.Role, &p.Name, &p.ActorID)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// --- deadlines ---

func (r Repo) InsertDeadline(ctx context.Context, tx *sql.Tx, d domain.Deadline) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO deadlines(id,case_id,kind,legal_basis,start_date,due_date,business_days,status,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.CaseID, d.Kind, nullable(d.LegalBasis), d.StartDate, d.DueDate, d.BusinessDays, d.Status, d.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("active %s deadline already exists for case %s: %w", d.Kind, d.CaseID, ErrConflict)
	}
	return err
}

func (r Repo) ListDeadlines(ctx context.Context, caseID string) ([]domain.Deadline, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,kind,COALESCE(legal_basis,''),start_date,due_date,business_days,status,created_at FROM deadlines WHERE case_id=? ORDER BY created_at`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeadlines(rows)
}

func collectDeadlines(rows *sql.Rows) ([]domain.Deadline, error) {
	var res []domain.Deadline
	for rows.Next() {
		var d domain.Deadline
		if err := rows.Scan(&d.ID, &d.CaseID, &d.Kind, &d.LegalBasis, &d.StartDate, &d.DueDate, &d.BusinessDays, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// HasActiveDeadline reports whether the case already carries an active
// deadline of the given kind.
func (r Repo) HasActiveDeadline(ctx context.Context, tx *sql.Tx, caseID, kind string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM deadlines WHERE case_id=? AND kind=? AND status=? LIMIT 1`, caseID, kind, domain.DeadlineActive)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// CloseDeadline moves the active deadline of the given kind to the provided
// terminal status. Missing active deadlines are not an error; the triggering
// condition may resolve after expiry.
func (r Repo) CloseDeadline(ctx context.Context, tx *sql.Tx, caseID, kind, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE deadlines SET status=? WHERE case_id=? AND kind=? AND status=?`,
		status, caseID, kind, domain.DeadlineActive)
	return err
}

// OverdueDeadlines returns active deadlines whose due date is before today.
func (r Repo) OverdueDeadlines(ctx context.Context, tx *sql.Tx, today string) ([]domain.Deadline, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,case_id,kind,COALESCE(legal_basis,''),start_date,due_date,business_days,status,created_at FROM deadlines WHERE status=? AND due_date<?`, domain.DeadlineActive, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeadlines(rows)
}

func (r Repo) ExpireDeadline(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE deadlines SET status=? WHERE id=? AND status=?`, domain.DeadlineExpired, id, domain.DeadlineActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- citations ---

const citationColumns = `id,case_id,party_id,method,state,created_at,updated_at`

func (r Repo) InsertCitation(ctx context.Context, tx *sql.Tx, c domain.Citation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO citations(`+citationColumns+`) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.CaseID, c.PartyID, c.Method, c.State, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCitation(ctx context.Context, id string) (domain.Citation, error) {
	return scanCitation(r.DB.QueryRowContext(ctx, `SELECT `+citationColumns+` FROM citations WHERE id=?`, id))
}

func (r Repo) GetCitationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Citation, error) {
	return scanCitation(tx.QueryRowContext(ctx, `SELECT `+citationColumns+` FROM citations WHERE id=?`, id))
}

func scanCitation(row *sql.Row) (domain.Citation, error) {
	var c domain.Citation
	err := row.Scan(&c.ID, &c.CaseID, &c.PartyID, &c.Method, &c.State, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCitationsByCase(ctx context.Context, caseID string) ([]domain.Citation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+citationColumns+` FROM citations WHERE case_id=? ORDER BY created_at`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Citation
	for rows.Next() {
		var c domain.Citation
		if err := rows.Scan(&c.ID, &c.CaseID, &c.PartyID, &c.Method, &c.State, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateCitationState(ctx context.Context, tx *sql.Tx, id, state, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE citations SET state=?, updated_at=? WHERE id=?`, state, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UnresolvedCitations counts citations of a case that are neither successful
// nor failed.
func (r Repo) UnresolvedCitations(ctx context.Context, tx *sql.Tx, caseID string) (int, error) {
	row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM citations WHERE case_id=? AND state NOT IN (?,?)`,
		caseID, domain.CitationSuccessful, domain.CitationFailed)
	var n int
	err := row.Scan(&n)
	return n, err
}

// --- citation attempts ---

func (r Repo) InsertAttempt(ctx context.Context, tx *sql.Tx, a domain.CitationAttempt) error {
	var evidence any
	if a.EvidenceRef != nil {
		evidence = *a.EvidenceRef
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO citation_attempts(id,citation_id,seq,method,outcome,description,evidence_ref,officer_id,ts) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.CitationID, a.Seq, a.Method, a.Outcome, nullable(a.Description), evidence, a.OfficerID, a.TS)
	if isUniqueViolation(err) {
		return fmt.Errorf("attempt %d for citation %s already recorded: %w", a.Seq, a.CitationID, ErrConflict)
	}
	return err
}

func (r Repo) ListAttempts(ctx context.Context, citationID string) ([]domain.CitationAttempt, error) {
	return r.listAttempts(ctx, r.DB.QueryContext, citationID)
}

func (r Repo) ListAttemptsTx(ctx context.Context, tx *sql.Tx, citationID string) ([]domain.CitationAttempt, error) {
	return r.listAttempts(ctx, tx.QueryContext, citationID)
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) listAttempts(ctx context.Context, query queryFunc, citationID string) ([]domain.CitationAttempt, error) {
	rows, err := query(ctx, `SELECT id,citation_id,seq,method,outcome,COALESCE(description,''),evidence_ref,officer_id,ts FROM citation_attempts WHERE citation_id=? ORDER BY seq`, citationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CitationAttempt
	for rows.Next() {
		var a domain.CitationAttempt
		var evidence sql.NullString
		if err := rows.Scan(&a.ID, &a.CitationID, &a.Seq, &a.Method, &a.Outcome, &a.Description, &evidence, &a.OfficerID, &a.TS); err != nil {
			return nil, err
		}
		if evidence.Valid {
			a.EvidenceRef = &evidence.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- identifier sequences ---

// NextSequence atomically allocates the next sequence number for a
// (year, code) prefix via an upserted counter row. Concurrent filings for the
// same prefix serialize on the row write, so two allocations can never see
// the same value.
func (r Repo) NextSequence(ctx context.Context, tx *sql.Tx, year int, code string) (int, error) {
	row := tx.QueryRowContext(ctx, `
INSERT INTO case_sequences(year, code, next) VALUES (?,?,1)
ON CONFLICT(year, code) DO UPDATE SET next = next + 1
RETURNING next`, year, code)
	var seq int
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("allocate sequence %d/%s: %w", year, code, err)
	}
	return seq, nil
}

// --- notifications ---

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,recipient_id,case_id,message,created_at) VALUES (?,?,?,?,?)`,
		n.ID, n.RecipientID, nullable(n.CaseID), n.Message, n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,recipient_id,COALESCE(case_id,''),message,created_at FROM notifications`
	var args []any
	if recipientID != "" {
		query += ` WHERE recipient_id=?`
		args = append(args, recipientID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.CaseID, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// --- events ---

func (r Repo) ListEvents(ctx context.Context, caseID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,COALESCE(case_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	var args []any
	if caseID != "" {
		query += ` WHERE case_id=?`
		args = append(args, caseID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsAfter returns up to limit events with id greater than cursor,
// ascending. Used by the notification dispatcher.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(case_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	err := row.Scan(&id)
	return id, err
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.CaseID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- actors ---

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

// --- court + config ---

func (r Repo) EnsureCourt(ctx context.Context, tx *sql.Tx, id, name, venue, now string) error {
	if name == "" {
		name = id
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO courts(id, name, venue, created_at) VALUES (?,?,?,?)`, id, name, venue, now)
	return err
}

func (r Repo) UpsertCourtConfig(ctx context.Context, courtID string, cfg *config.Config) error {
	return upsertCourtConfig(ctx, r.DB, nil, courtID, cfg)
}

func (r Repo) UpsertCourtConfigTx(ctx context.Context, tx *sql.Tx, courtID string, cfg *config.Config) error {
	return upsertCourtConfig(ctx, nil, tx, courtID, cfg)
}

func upsertCourtConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, courtID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Court.ID = courtID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO court_config(court_id, payload_json, updated_at) VALUES (?,?,?)
ON CONFLICT(court_id) DO UPDATE SET payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
		courtID, string(payload), now)
	return err
}

func (r Repo) GetCourtConfig(ctx context.Context, courtID string) (*config.Config, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM court_config WHERE court_id=?`, courtID)
	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, fmt.Errorf("court config payload: %w", err)
	}
	return &cfg, nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
