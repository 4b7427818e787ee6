package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance records in Postgres.
type Repository struct {
	db  *sql.DB
	loc *time.Location
}

// NewRepository creates a repo. loc anchors the DATE column back to local
// midnight when records are read.
func NewRepository(db *sql.DB, loc *time.Location) *Repository {
	if loc == nil {
		loc = time.Local
	}
	return &Repository{db: db, loc: loc}
}

const recordColumns = `id, user_id, day, status, check_in, check_out, created_at, updated_at`

// ApplyMatch advances the (user, day) record in a single conditional upsert.
// The insert arm creates the check-in; the conflict arm only fires while
// check_out is still NULL. When neither writes, the day is already complete.
func (r *Repository) ApplyMatch(ctx context.Context, userID string, day, at time.Time) (Record, Transition, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, user_id, day, status, check_in, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5, $5)
		ON CONFLICT (user_id, day) DO UPDATE
			SET check_out = EXCLUDED.check_in, updated_at = EXCLUDED.updated_at
			WHERE attendance_records.check_out IS NULL
		RETURNING `+recordColumns+`, (xmax = 0) AS inserted
	`, uuid.NewString(), userID, day.Format(time.DateOnly), string(StatusPresent), at.UTC())

	var rec Record
	var inserted bool
	err := r.scan(row, &rec, &inserted)
	switch {
	case err == nil:
		if inserted {
			return rec, TransitionCheckIn, nil
		}
		return rec, TransitionCheckOut, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, ferr := r.FindRecord(ctx, userID, day)
		if ferr != nil {
			return Record{}, "", ferr
		}
		if existing == nil {
			return Record{}, "", fmt.Errorf("attendance record for %s on %s vanished", userID, day.Format(time.DateOnly))
		}
		return *existing, TransitionAlreadyMarked, nil
	default:
		return Record{}, "", fmt.Errorf("apply match: %w", err)
	}
}

// FindRecord returns the record for (userID, day) or nil.
func (r *Repository) FindRecord(ctx context.Context, userID string, day time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE user_id = $1 AND day = $2
	`, userID, day.Format(time.DateOnly))
	var rec Record
	if err := r.scan(row, &rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find record: %w", err)
	}
	return &rec, nil
}

// ListRecords returns records newest day first.
func (r *Repository) ListRecords(ctx context.Context, f ListFilter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if f.UserID != "" {
		args = append(args, f.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY day DESC, user_id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	res := []Record{}
	for rows.Next() {
		var rec Record
		if err := r.scan(rows, &rec); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scan(s scanner, rec *Record, extra ...any) error {
	var day time.Time
	var status string
	dest := append([]any{&rec.ID, &rec.UserID, &day, &status, &rec.CheckIn, &rec.CheckOut, &rec.CreatedAt, &rec.UpdatedAt}, extra...)
	if err := s.Scan(dest...); err != nil {
		return err
	}
	rec.Date = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, r.loc)
	rec.Status = Status(status)
	return nil
}
