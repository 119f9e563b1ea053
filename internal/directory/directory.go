// Package directory is the read model over students, groups and staff that the
// attendance core consults. Those entities are managed elsewhere.
package directory

import (
	"strings"

	"campusattend/internal/apperr"
)

var (
	ErrStudentNotFound = apperr.NotFound("student not found")
	ErrGroupNotFound   = apperr.NotFound("group not found")
	ErrSubjectNotFound = apperr.NotFound("subject not found")
	ErrStaffNotFound   = apperr.NotFound("staff profile not found")
	ErrRFIDMismatch    = apperr.Conflict("RFID tag mismatch with student ID.")
	ErrNoIdentifier    = apperr.Invalid("missing student_id or rfid_tag")
)

// Assignment roles inside a group.
const (
	RoleLecturer          = "lecturer"
	RoleAssistantLecturer = "assistant_lecturer"
)

// Staff positions.
const (
	PositionLecturer          = "Lecturer"
	PositionAssistantLecturer = "Assistant-lecturer"
)

// GroupRef is a student's membership in a group of a subject.
type GroupRef struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
}

// Student is the subset of a student profile needed for check-in.
type Student struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	StudentID string     `json:"student_id"`
	RFIDTag   string     `json:"rfid_tag,omitempty"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Groups    []GroupRef `json:"groups,omitempty"`
}

func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// GroupForSubject returns the student's group under subjectID, if any.
func (s Student) GroupForSubject(subjectID string) (string, bool) {
	for _, g := range s.Groups {
		if g.SubjectID == subjectID {
			return g.ID, true
		}
	}
	return "", false
}

// Assignment binds a staff member to a group with a role.
type Assignment struct {
	StaffID string `json:"staff_id"`
	Role    string `json:"role"`
}

// Group is a teaching group of one subject.
type Group struct {
	ID        string       `json:"id"`
	SubjectID string       `json:"subject_id"`
	Name      string       `json:"name"`
	Students  []string     `json:"students"`
	Staff     []Assignment `json:"staff"`
}

// HasStudent reports whether studentID (internal id) is a member.
func (g Group) HasStudent(studentID string) bool {
	for _, id := range g.Students {
		if id == studentID {
			return true
		}
	}
	return false
}

// AssignmentOf returns how staffID is assigned to the group.
func (g Group) AssignmentOf(staffID string) (Assignment, bool) {
	for _, a := range g.Staff {
		if a.StaffID == staffID {
			return a, true
		}
	}
	return Assignment{}, false
}

// Subject is a course.
type Subject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// Staff is a staff profile.
type Staff struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Position string `json:"position"`
}

// LookupKey identifies a student either by student number or by RFID tag.
type LookupKey interface {
	lookupKey()
	Value() string
}

// ByID looks a student up by student number.
type ByID string

// ByRFID looks a student up by RFID tag.
type ByRFID string

func (ByID) lookupKey()   {}
func (ByRFID) lookupKey() {}

func (k ByID) Value() string   { return string(k) }
func (k ByRFID) Value() string { return string(k) }

// KeyFor picks the lookup key for an inbound message. The student number wins
// when both are present; the RFID tag is then cross-checked by CheckRFID.
func KeyFor(studentID, rfidTag string) (LookupKey, error) {
	switch {
	case studentID != "":
		return ByID(studentID), nil
	case rfidTag != "":
		return ByRFID(rfidTag), nil
	default:
		return nil, ErrNoIdentifier
	}
}

// CheckRFID rejects a student whose tag differs from a tag supplied alongside
// the student number.
func CheckRFID(s Student, studentID, rfidTag string) error {
	if studentID != "" && rfidTag != "" && s.RFIDTag != rfidTag {
		return ErrRFIDMismatch
	}
	return nil
}
