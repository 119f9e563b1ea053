package semester

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"campusattend/internal/apperr"
)

const uniqueViolation = "23505"

// oids decodes the off_weeks array, which the pgx stdlib driver hands over in
// text form.
var oids = pgtype.NewMap()

// Repository reads and writes semesters in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const semesterColumns = `id, name, academic_year, start_date, end_date, off_weeks, is_current, created_at`

func scanSemester(row interface{ Scan(...any) error }) (Semester, error) {
	var (
		s        Semester
		offWeeks []int32
	)
	if err := row.Scan(&s.ID, &s.Name, &s.AcademicYear, &s.StartDate, &s.EndDate, oids.SQLScanner(&offWeeks), &s.IsCurrent, &s.CreatedAt); err != nil {
		return Semester{}, err
	}
	s.OffWeeks = make([]int, len(offWeeks))
	for i, w := range offWeeks {
		s.OffWeeks[i] = int(w)
	}
	return s, nil
}

// Current returns the semester flagged current.
func (r *Repository) Current(ctx context.Context) (Semester, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+semesterColumns+` FROM semesters WHERE is_current = TRUE ORDER BY start_date DESC LIMIT 1`)
	s, err := scanSemester(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Semester{}, ErrNoCurrent
		}
		return Semester{}, apperr.Transient("load current semester", err)
	}
	return s, nil
}

// List returns all semesters, newest first.
func (r *Repository) List(ctx context.Context) ([]Semester, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+semesterColumns+` FROM semesters ORDER BY start_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Semester
	for rows.Next() {
		s, err := scanSemester(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Create validates and inserts s. When s.IsCurrent is set, every other
// semester is cleared in the same transaction.
func (r *Repository) Create(ctx context.Context, s Semester) (Semester, error) {
	if err := s.Validate(); err != nil {
		return Semester{}, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	offWeeks := make([]int32, len(s.OffWeeks))
	for i, w := range s.OffWeeks {
		offWeeks[i] = int32(w)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Semester{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM semesters WHERE lower(name) = lower($1))`, s.Name).Scan(&exists); err != nil {
		return Semester{}, err
	}
	if exists {
		return Semester{}, ErrNameTaken
	}
	if s.IsCurrent {
		if _, err := tx.ExecContext(ctx, `UPDATE semesters SET is_current = FALSE WHERE is_current`); err != nil {
			return Semester{}, err
		}
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO semesters (id, name, academic_year, start_date, end_date, off_weeks, is_current)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, s.ID, strings.TrimSpace(s.Name), s.AcademicYear, s.StartDate, s.EndDate, offWeeks, s.IsCurrent)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Semester{}, insertError(err)
	}
	return s, tx.Commit()
}

// insertError maps a lost race on the name index to ErrNameTaken.
func insertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrNameTaken
	}
	return err
}

// SetCurrent makes id the only current semester.
func (r *Repository) SetCurrent(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE semesters SET is_current = FALSE WHERE is_current AND id <> $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE semesters SET is_current = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("semester not found")
	}
	return tx.Commit()
}
