package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository reads students, groups, subjects and staff from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindStudent resolves a student by the given key, including group memberships.
func (r *Repository) FindStudent(ctx context.Context, key LookupKey) (Student, error) {
	var column string
	switch key.(type) {
	case ByID:
		column = "student_id"
	case ByRFID:
		column = "rfid_tag"
	default:
		return Student{}, fmt.Errorf("unsupported lookup key %T", key)
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, COALESCE(student_id, ''), COALESCE(rfid_tag, ''), first_name, last_name
		FROM students WHERE `+column+` = $1
	`, key.Value())
	var s Student
	if err := row.Scan(&s.ID, &s.UserID, &s.StudentID, &s.RFIDTag, &s.FirstName, &s.LastName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, ErrStudentNotFound
		}
		return Student{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.subject_id
		FROM group_students gs JOIN groups g ON g.id = gs.group_id
		WHERE gs.student_id = $1
	`, s.ID)
	if err != nil {
		return Student{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var g GroupRef
		if err := rows.Scan(&g.ID, &g.SubjectID); err != nil {
			return Student{}, err
		}
		s.Groups = append(s.Groups, g)
	}
	return s, rows.Err()
}

// Group loads a group with its student ids and staff assignments.
func (r *Repository) Group(ctx context.Context, id string) (Group, error) {
	var g Group
	row := r.db.QueryRowContext(ctx, `SELECT id, subject_id, name FROM groups WHERE id = $1`, id)
	if err := row.Scan(&g.ID, &g.SubjectID, &g.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Group{}, ErrGroupNotFound
		}
		return Group{}, err
	}

	students, err := r.db.QueryContext(ctx, `SELECT student_id FROM group_students WHERE group_id = $1 ORDER BY student_id`, id)
	if err != nil {
		return Group{}, err
	}
	defer students.Close()
	for students.Next() {
		var sid string
		if err := students.Scan(&sid); err != nil {
			return Group{}, err
		}
		g.Students = append(g.Students, sid)
	}
	if err := students.Err(); err != nil {
		return Group{}, err
	}

	staff, err := r.db.QueryContext(ctx, `SELECT staff_id, role FROM group_staff WHERE group_id = $1`, id)
	if err != nil {
		return Group{}, err
	}
	defer staff.Close()
	for staff.Next() {
		var a Assignment
		if err := staff.Scan(&a.StaffID, &a.Role); err != nil {
			return Group{}, err
		}
		g.Staff = append(g.Staff, a)
	}
	return g, staff.Err()
}

// Subject loads a subject by id.
func (r *Repository) Subject(ctx context.Context, id string) (Subject, error) {
	var s Subject
	row := r.db.QueryRowContext(ctx, `SELECT id, name, code FROM subjects WHERE id = $1`, id)
	if err := row.Scan(&s.ID, &s.Name, &s.Code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subject{}, ErrSubjectNotFound
		}
		return Subject{}, err
	}
	return s, nil
}

// StaffByUserID loads the staff profile of an authenticated user.
func (r *Repository) StaffByUserID(ctx context.Context, userID string) (Staff, error) {
	var s Staff
	row := r.db.QueryRowContext(ctx, `SELECT id, user_id, staff_name, position FROM staff WHERE user_id = $1`, userID)
	if err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.Position); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Staff{}, ErrStaffNotFound
		}
		return Staff{}, err
	}
	return s, nil
}

// Students loads the given students by internal id, ordered by student number.
func (r *Repository) Students(ctx context.Context, ids []string) ([]Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(student_id, ''), COALESCE(rfid_tag, ''), first_name, last_name
		FROM students WHERE id = ANY($1)
		ORDER BY student_id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.UserID, &s.StudentID, &s.RFIDTag, &s.FirstName, &s.LastName); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
