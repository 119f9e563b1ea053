package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance records in Postgres. The unique constraint
// attendance_records_session_key enforces one record per Key.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, student_id, subject_id, group_id, session_date, week_number, session_type,
	status, approved, check_in_time, check_out_time, COALESCE(device_id, ''), marked_by, created_at, updated_at`

type scanner interface{ Scan(...any) error }

func scanRecord(row scanner) (Record, error) {
	var (
		rec      Record
		checkIn  sql.NullTime
		checkOut sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.Key.StudentID, &rec.Key.SubjectID, &rec.Key.GroupID, &rec.Key.SessionDate,
		&rec.Key.WeekNumber, &rec.Key.SessionType, &rec.Status, &rec.Approved, &checkIn, &checkOut,
		&rec.DeviceID, &rec.MarkedBy, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	if checkIn.Valid {
		t := checkIn.Time
		rec.CheckInTime = &t
	}
	if checkOut.Valid {
		t := checkOut.Time
		rec.CheckOutTime = &t
	}
	return rec, nil
}

func collect(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// UpsertCheckIn creates the record for rec.Key or overwrites the check-in
// fields of the existing one, in one statement.
func (r *Repository) UpsertCheckIn(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Approved == "" {
		rec.Approved = Unreviewed
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, student_id, subject_id, group_id, session_date, week_number, session_type,
			 status, approved, check_in_time, device_id, marked_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT ON CONSTRAINT attendance_records_session_key DO UPDATE SET
			status = EXCLUDED.status,
			check_in_time = EXCLUDED.check_in_time,
			marked_by = EXCLUDED.marked_by,
			updated_at = NOW()
		RETURNING `+recordColumns,
		rec.ID, rec.Key.StudentID, rec.Key.SubjectID, rec.Key.GroupID, rec.Key.SessionDate, rec.Key.WeekNumber,
		rec.Key.SessionType, rec.Status, rec.Approved, rec.CheckInTime, nullable(rec.DeviceID), rec.MarkedBy)
	return scanRecord(row)
}

// FindForCheckOut returns the student's record for a subject session on day,
// regardless of which of the subject's groups it is keyed to.
func (r *Repository) FindForCheckOut(ctx context.Context, studentID, subjectID string, day time.Time, week int, sessionType SessionType) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND subject_id = $2 AND session_date = $3 AND week_number = $4 AND session_type = $5
		ORDER BY check_in_time DESC NULLS LAST
		LIMIT 1
	`, studentID, subjectID, day, week, sessionType)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// CloseCheckOut moves a record from prev to next and stamps the check-out
// time. It fails with ErrStale when the record is no longer in prev.
func (r *Repository) CloseCheckOut(ctx context.Context, id string, prev, next Status, at time.Time, markedBy MarkedBy) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET status = $3, check_out_time = $4, marked_by = $5, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+recordColumns, id, prev, next, at, markedBy)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrStale
	}
	return rec, err
}

// Get returns a record by id.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// SetStatus applies a staff override, guarded on the status the caller read.
func (r *Repository) SetStatus(ctx context.Context, id string, prev, next Status, approval Approval) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET status = $3, approved = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+recordColumns, id, prev, next, approval)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrStale
	}
	return rec, err
}

// ReviewPending settles every pending, unreviewed record of a group session.
func (r *Repository) ReviewPending(ctx context.Context, groupID string, day time.Time, sessionType SessionType, next Status, approval Approval) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE attendance_records
		SET status = $4, approved = $5, updated_at = NOW()
		WHERE group_id = $1 AND session_date = $2 AND session_type = $3
		  AND status = 'pending' AND approved = 'unreviewed'
		RETURNING `+recordColumns, groupID, day, sessionType, next, approval)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// MarkUnclosedAbsent turns records a device session left in a check-in status
// into absences.
func (r *Repository) MarkUnclosedAbsent(ctx context.Context, deviceID, subjectID string, day time.Time, sessionType SessionType) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET status = 'absent', updated_at = NOW()
		WHERE device_id = $1 AND subject_id = $2 AND session_date = $3 AND session_type = $4
		  AND status IN ('checked-in', 'checked-in-pending')
	`, deviceID, subjectID, day, sessionType)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// WeekRecords returns the records of a group and subject for one week.
func (r *Repository) WeekRecords(ctx context.Context, groupID, subjectID string, week int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE group_id = $1 AND subject_id = $2 AND week_number = $3
		ORDER BY session_date, check_in_time
	`, groupID, subjectID, week)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
