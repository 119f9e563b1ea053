package device

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation        = "23505"
	reservationPerGroupIdx = "devices_one_reservation_per_group"
)

// Filter narrows List results.
type Filter struct {
	Location string
	Status   Status
}

// Repository stores devices in Postgres. Every state change goes through
// CompareAndSwap, which only applies when the stored version still matches.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const deviceColumns = `id, device_id, location, status, COALESCE(current_subject_id, ''), COALESCE(current_group_id, ''),
	COALESCE(session_mode, ''), COALESCE(session_type, ''), version, created_at, updated_at`

func scanDevice(row interface{ Scan(...any) error }) (Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.DeviceID, &d.Location, &d.Status, &d.CurrentSubjectID, &d.CurrentGroupID,
		&d.SessionMode, &d.SessionType, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// Create registers a new free device.
func (r *Repository) Create(ctx context.Context, deviceID, location string) (Device, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO devices (id, device_id, location)
		VALUES ($1, $2, $3)
		RETURNING `+deviceColumns, uuid.NewString(), strings.TrimSpace(deviceID), location)
	d, err := scanDevice(row)
	if isUniqueViolation(err, "") {
		return Device{}, ErrDuplicate
	}
	return d, err
}

// Get returns a device by its external device_id.
func (r *Repository) Get(ctx context.Context, deviceID string) (Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`, deviceID)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	return d, err
}

// ReservedForGroup returns the device currently reserved for groupID, if any.
func (r *Repository) ReservedForGroup(ctx context.Context, groupID string) (Device, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE current_group_id = $1 AND status = 'reserved'`, groupID)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, false, nil
	}
	if err != nil {
		return Device{}, false, err
	}
	return d, true, nil
}

// List returns devices matching f. Location matches case-insensitively as a substring.
func (r *Repository) List(ctx context.Context, f Filter) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices`
	args := []any{}
	clauses := []string{}
	if f.Location != "" {
		args = append(args, "%"+f.Location+"%")
		clauses = append(clauses, "location ILIKE $1")
	}
	if f.Status != "" {
		args = append(args, f.Status)
		if len(args) == 1 {
			clauses = append(clauses, "status = $1")
		} else {
			clauses = append(clauses, "status = $2")
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY device_id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// CompareAndSwap writes next if the stored version equals next.Version and
// returns the stored row with its bumped version. ErrStale means another
// writer got there first.
func (r *Repository) CompareAndSwap(ctx context.Context, next Device) (Device, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE devices
		SET status = $3,
		    current_subject_id = $4,
		    current_group_id = $5,
		    session_mode = $6,
		    session_type = $7,
		    version = version + 1,
		    updated_at = NOW()
		WHERE device_id = $1 AND version = $2
		RETURNING `+deviceColumns,
		next.DeviceID, next.Version, next.Status, nullable(next.CurrentSubjectID), nullable(next.CurrentGroupID),
		nullable(string(next.SessionMode)), nullable(string(next.SessionType)))
	d, err := scanDevice(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Device{}, ErrStale
	case isUniqueViolation(err, reservationPerGroupIdx):
		return Device{}, ErrGroupTaken
	}
	return d, err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
