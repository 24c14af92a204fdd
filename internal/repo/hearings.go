package repo

import (
	"context"
	"database/sql"

	"courtline/internal/domain"
)

const hearingColumns = `id,case_id,kind,scheduled_at,status,created_at,updated_at`

func (r Repo) InsertHearing(ctx context.Context, tx *sql.Tx, h domain.Hearing) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO hearings(`+hearingColumns+`) VALUES (?,?,?,?,?,?,?)`,
		h.ID, h.CaseID, h.Kind, h.ScheduledAt, h.Status, h.CreatedAt, h.UpdatedAt)
	return err
}

func (r Repo) GetHearing(ctx context.Context, id string) (domain.Hearing, error) {
	return scanHearing(r.DB.QueryRowContext(ctx, `SELECT `+hearingColumns+` FROM hearings WHERE id=?`, id))
}

func (r Repo) GetHearingTx(ctx context.Context, tx *sql.Tx, id string) (domain.Hearing, error) {
	return scanHearing(tx.QueryRowContext(ctx, `SELECT `+hearingColumns+` FROM hearings WHERE id=?`, id))
}

func scanHearing(row *sql.Row) (domain.Hearing, error) {
	var h domain.Hearing
	err := row.Scan(&h.ID, &h.CaseID, &h.Kind, &h.ScheduledAt, &h.Status, &h.CreatedAt, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return h, ErrNotFound
	}
	return h, err
}

func (r Repo) ListHearings(ctx context.Context, caseID string) ([]domain.Hearing, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+hearingColumns+` FROM hearings WHERE case_id=? ORDER BY scheduled_at`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Hearing
	for rows.Next() {
		var h domain.Hearing
		if err := rows.Scan(&h.ID, &h.CaseID, &h.Kind, &h.ScheduledAt, &h.Status, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// UpdateHearingStatus applies an optimistic status swap, mirroring case
// state updates.
func (r Repo) UpdateHearingStatus(ctx context.Context, tx *sql.Tx, id, fromStatus, toStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE hearings SET status=?, updated_at=? WHERE id=? AND status=?`,
		toStatus, updatedAt, id, fromStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if scanErr := tx.QueryRowContext(ctx, `SELECT 1 FROM hearings WHERE id=?`, id).Scan(&exists); scanErr == sql.ErrNoRows {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// ScheduledHearings counts hearings of a case still awaiting resolution.
func (r Repo) ScheduledHearings(ctx context.Context, tx *sql.Tx, caseID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM hearings WHERE case_id=? AND status=?`,
		caseID, domain.HearingScheduled).Scan(&n)
	return n, err
}
